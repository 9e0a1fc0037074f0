package schemas

import (
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NodeID identifies a node within a session. IDs are assigned by the store
// and are never reused.
type NodeID int64

// NodeType is the kind of an idea node. The set is a fixed progression.
type NodeType string

const (
	NodeTypeTopic       NodeType = "topic"
	NodeTypeMain        NodeType = "main"
	NodeTypeSub         NodeType = "sub"
	NodeTypeInsight     NodeType = "insight"
	NodeTypeOpportunity NodeType = "opportunity"
)

// Step is the integer position of a node type in the pipeline.
type Step int

const (
	StepTopic Step = iota
	StepMain
	StepSub
	StepInsight
	StepOpportunity
)

var pipelineOrder = []NodeType{
	NodeTypeTopic,
	NodeTypeMain,
	NodeTypeSub,
	NodeTypeInsight,
	NodeTypeOpportunity,
}

// NodeType returns the node type that lives at this step.
func (s Step) NodeType() (NodeType, bool) {
	if s < StepTopic || s > StepOpportunity {
		return "", false
	}
	return pipelineOrder[s], true
}

// Step returns the pipeline position of the type.
func (t NodeType) Step() (Step, bool) {
	for i, nt := range pipelineOrder {
		if nt == t {
			return Step(i), true
		}
	}
	return 0, false
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	_, ok := t.Step()
	return ok
}

// ChildType returns the type produced by expanding a node of type t.
// Opportunity nodes are terminal.
func (t NodeType) ChildType() (NodeType, bool) {
	s, ok := t.Step()
	if !ok || s == StepOpportunity {
		return "", false
	}
	return pipelineOrder[s+1], true
}

// ParentType returns the only type allowed to expand into t.
func (t NodeType) ParentType() (NodeType, bool) {
	s, ok := t.Step()
	if !ok || s == StepTopic {
		return "", false
	}
	return pipelineOrder[s-1], true
}

// Category classifies main nodes. Descendants inherit it.
type Category string

const (
	CategoryContext Category = "Context"
	CategoryUser    Category = "User"
	CategoryTask    Category = "Task"
	CategoryGoal    Category = "Goal"
)

// MainCategories is the fixed request order for the main step.
var MainCategories = []Category{CategoryContext, CategoryUser, CategoryTask, CategoryGoal}

// ParseCategory matches s against the main categories, ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range MainCategories {
		if strings.EqualFold(s, string(c)) {
			return c, true
		}
	}
	return "", false
}

const (
	labelMaxWords = 4
	labelMaxRunes = 32
)

// Node is a single vertex of the idea graph.
type Node struct {
	ID       NodeID   `json:"id"`
	Text     string   `json:"text"`
	Keyword  string   `json:"keyword,omitempty"`
	Type     NodeType `json:"type"`
	Step     Step     `json:"step"`
	Category Category `json:"category,omitempty"`
	// ParentIDs is the ordered parent list. Empty for roots; the first
	// element is the primary parent used for tree traversal.
	ParentIDs           []NodeID  `json:"parentIds"`
	Level               int       `json:"level"`
	X                   float64   `json:"x"`
	Y                   float64   `json:"y"`
	ManuallyPositioned  bool      `json:"manuallyPositioned,omitempty"`
	StructurePositioned bool      `json:"structurePositioned,omitempty"`
	ManuallyCreated     bool      `json:"manuallyCreated,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// ParentID returns the primary parent.
func (n Node) ParentID() (NodeID, bool) {
	if len(n.ParentIDs) == 0 {
		return 0, false
	}
	return n.ParentIDs[0], true
}

// IsRoot reports whether the node has no parents.
func (n Node) IsRoot() bool { return len(n.ParentIDs) == 0 }

// HasParent reports whether id appears anywhere in the parent list.
func (n Node) HasParent(id NodeID) bool {
	for _, p := range n.ParentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// Label returns the keyword, or a deterministic truncation of the text when
// no keyword was supplied.
func (n Node) Label() string {
	if kw := strings.TrimSpace(n.Keyword); kw != "" {
		return kw
	}
	return TruncateLabel(n.Text)
}

// TruncateLabel shortens text to its first few words.
func TruncateLabel(text string) string {
	words := strings.Fields(text)
	cut := len(words) > labelMaxWords
	if cut {
		words = words[:labelMaxWords]
	}
	label := strings.Join(words, " ")
	if utf8.RuneCountInString(label) > labelMaxRunes {
		label = string([]rune(label)[:labelMaxRunes])
		cut = true
	}
	if cut {
		label = strings.TrimRight(label, " ") + "..."
	}
	return label
}

// Clone returns a copy that shares no slices with n.
func (n Node) Clone() Node {
	c := n
	if n.ParentIDs != nil {
		c.ParentIDs = append([]NodeID(nil), n.ParentIDs...)
	}
	return c
}

// nodeWire is the persisted shape. parentId mirrors the first element of
// parentIds so older single-parent documents stay readable.
type nodeWire struct {
	ID                  NodeID    `json:"id"`
	Text                string    `json:"text"`
	Keyword             string    `json:"keyword,omitempty"`
	Type                NodeType  `json:"type"`
	Step                Step      `json:"step"`
	Category            Category  `json:"category,omitempty"`
	ParentID            *NodeID   `json:"parentId"`
	ParentIDs           []NodeID  `json:"parentIds"`
	Level               int       `json:"level"`
	X                   float64   `json:"x"`
	Y                   float64   `json:"y"`
	ManuallyPositioned  bool      `json:"manuallyPositioned,omitempty"`
	StructurePositioned bool      `json:"structurePositioned,omitempty"`
	ManuallyCreated     bool      `json:"manuallyCreated,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// MarshalJSON always writes parentIds as an array, singleton or empty.
func (n Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{
		ID:                  n.ID,
		Text:                n.Text,
		Keyword:             n.Keyword,
		Type:                n.Type,
		Step:                n.Step,
		Category:            n.Category,
		ParentIDs:           n.ParentIDs,
		Level:               n.Level,
		X:                   n.X,
		Y:                   n.Y,
		ManuallyPositioned:  n.ManuallyPositioned,
		StructurePositioned: n.StructurePositioned,
		ManuallyCreated:     n.ManuallyCreated,
		CreatedAt:           n.CreatedAt,
	}
	if w.ParentIDs == nil {
		w.ParentIDs = []NodeID{}
	}
	if pid, ok := n.ParentID(); ok {
		w.ParentID = &pid
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts both the list form and the legacy parentId-only form.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parents := w.ParentIDs
	if len(parents) == 0 && w.ParentID != nil {
		parents = []NodeID{*w.ParentID}
	}
	if len(parents) == 0 {
		parents = nil
	}
	*n = Node{
		ID:                  w.ID,
		Text:                w.Text,
		Keyword:             w.Keyword,
		Type:                w.Type,
		Step:                w.Step,
		Category:            w.Category,
		ParentIDs:           parents,
		Level:               w.Level,
		X:                   w.X,
		Y:                   w.Y,
		ManuallyPositioned:  w.ManuallyPositioned,
		StructurePositioned: w.StructurePositioned,
		ManuallyCreated:     w.ManuallyCreated,
		CreatedAt:           w.CreatedAt,
	}
	return nil
}

// Reflection is an advisory note attached to a node.
type Reflection struct {
	ID        string    `json:"id"`
	NodeID    NodeID    `json:"nodeId"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricsSnapshot is one point of the creativity history. Every score is in [0,1].
type MetricsSnapshot struct {
	Creativity  float64   `json:"creativity"`
	Dependency  float64   `json:"dependency"`
	Fluency     float64   `json:"fluency"`
	Flexibility float64   `json:"flexibility"`
	Originality float64   `json:"originality"`
	Elaboration float64   `json:"elaboration"`
	NodeCount   int       `json:"nodeCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// NodeAssessment is the impact/feasibility classification of one node.
type NodeAssessment struct {
	NodeID            NodeID  `json:"nodeId"`
	Impact            float64 `json:"impact"`
	Feasibility       float64 `json:"feasibility"`
	Category          string  `json:"category,omitempty"`
	Analysis          string  `json:"analysis,omitempty"`
	RecommendedAction string  `json:"recommendedAction,omitempty"`
}

// StructureAnalysisResult is a side table keyed by node id. It never
// creates or identifies nodes on its own.
type StructureAnalysisResult struct {
	Assessments   []NodeAssessment `json:"analysis"`
	MainThemes    []string         `json:"mainThemes"`
	Relationships []string         `json:"relationships"`
	AnalyzedAt    time.Time        `json:"analyzedAt"`
}

// Assessment looks up the score of one node.
func (r *StructureAnalysisResult) Assessment(id NodeID) (NodeAssessment, bool) {
	if r == nil {
		return NodeAssessment{}, false
	}
	for _, a := range r.Assessments {
		if a.NodeID == id {
			return a, true
		}
	}
	return NodeAssessment{}, false
}

// LayoutMode selects how node positions are resolved.
type LayoutMode string

const (
	LayoutExploration LayoutMode = "exploration"
	LayoutStructure   LayoutMode = "structure"
)

// Priority is the coarse tier derived from a structure-mode drag.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// GridPosition records a node dragged in structure mode.
type GridPosition struct {
	NodeID   NodeID   `json:"nodeId"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Priority Priority `json:"priority"`
}

// DocumentVersion is the current persisted document format.
const DocumentVersion = 1

// SessionDocument is the full persisted state of one session.
type SessionDocument struct {
	Version              int                      `json:"version"`
	SessionID            string                   `json:"sessionId,omitempty"`
	Nodes                []Node                   `json:"nodes"`
	Reflections          []Reflection             `json:"reflections"`
	CreativityHistory    []MetricsSnapshot        `json:"creativityHistory"`
	EditCount            int                      `json:"editCount"`
	AIGenerationCount    int                      `json:"aiGenerationCount"`
	HierarchyAnalysis    *StructureAnalysisResult `json:"hierarchyAnalysis"`
	StructureReflections []Reflection             `json:"structureReflections"`
	CurrentStep          Step                     `json:"currentStep"`
	DesignTopic          string                   `json:"designTopic"`
	TopicNodeID          *NodeID                  `json:"topicNodeId"`
	LayoutMode           LayoutMode               `json:"layoutMode,omitempty"`
	GridPositions        []GridPosition           `json:"gridPositions,omitempty"`
	UpdatedAt            time.Time                `json:"updatedAt"`
}
