// internal/session/session.go
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/creativity"
	"github.com/xkilldash9x/ideagraph/internal/ideagraph"
	"github.com/xkilldash9x/ideagraph/internal/layout"
)

var (
	// ErrTopicExists is returned when a second topic is created.
	ErrTopicExists = errors.New("a design topic already exists")
	// ErrTerminalParent is returned when a child is requested under an opportunity node.
	ErrTerminalParent = errors.New("node type has no child step")
	// ErrAlreadyExpanded is returned by a commit whose parent gained children
	// after the generation was planned.
	ErrAlreadyExpanded = errors.New("parent already has children")
	// ErrEmptyCommit is returned when a commit carries no drafts.
	ErrEmptyCommit = errors.New("commit has no nodes")
	// ErrNoAnalysis is returned when structure mode is requested before any
	// selection has been analyzed.
	ErrNoAnalysis = errors.New("no structure analysis yet")
)

// Session is the aggregate for one design session: the graph, the metrics
// history, counters and layout state. Mutations are serialized by the session
// mutex; reads go straight to the components, which guard themselves.
type Session struct {
	mu sync.Mutex

	id        string
	graph     *ideagraph.Graph
	history   *creativity.History
	tree      *layout.TreeLayout
	matrix    layout.Matrix
	grid      *layout.GridState
	selection *layout.Selection

	editCount            int
	aiGenerationCount    int
	analysis             *schemas.StructureAnalysisResult
	structureReflections []schemas.Reflection
	currentStep          schemas.Step
	designTopic          string
	topicNodeID          *schemas.NodeID
	mode                 schemas.LayoutMode

	log *zap.Logger
	now func() time.Time
}

// New creates an empty session. A blank id gets a random one.
func New(id string, cfg config.LayoutConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:        id,
		graph:     ideagraph.NewGraph(logger),
		history:   creativity.NewHistory(nil),
		tree:      layout.NewTreeLayout(cfg),
		matrix:    layout.NewMatrix(cfg),
		grid:      layout.NewGridState(nil),
		selection: layout.NewSelection(),
		mode:      schemas.LayoutExploration,
		log:       logger.Named("session").With(zap.String("session_id", id)),
		now:       time.Now,
	}
}

// -- Accessors --

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Graph returns the node store.
func (s *Session) Graph() *ideagraph.Graph { return s.graph }

// History returns the metrics history.
func (s *Session) History() *creativity.History { return s.history }

func (s *Session) Tree() *layout.TreeLayout { return s.tree }

func (s *Session) Matrix() layout.Matrix { return s.matrix }

func (s *Session) Grid() *layout.GridState { return s.grid }

func (s *Session) Selection() *layout.Selection { return s.selection }

func (s *Session) Logger() *zap.Logger { return s.log }

// Node returns a copy of one node.
func (s *Session) Node(id schemas.NodeID) (schemas.Node, bool) { return s.graph.Node(id) }

// EditCount returns the number of edit events.
func (s *Session) EditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editCount
}

// AIGenerationCount returns the number of committed service generations.
func (s *Session) AIGenerationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiGenerationCount
}

// CurrentStep returns the step of the most recent generation.
func (s *Session) CurrentStep() schemas.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStep
}

// DesignTopic returns the topic text, empty before one is created.
func (s *Session) DesignTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.designTopic
}

// TopicNodeID returns the id of the topic node.
func (s *Session) TopicNodeID() (schemas.NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topicNodeID == nil {
		return 0, false
	}
	return *s.topicNodeID, true
}

// Mode returns the active layout mode.
func (s *Session) Mode() schemas.LayoutMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the layout mode. Structure mode needs a prior analysis.
func (s *Session) SetMode(mode schemas.LayoutMode) error {
	if mode != schemas.LayoutExploration && mode != schemas.LayoutStructure {
		return fmt.Errorf("unknown layout mode '%s'", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == schemas.LayoutStructure && s.analysis == nil {
		return ErrNoAnalysis
	}
	s.mode = mode
	return nil
}

// Analysis returns a copy of the latest structure analysis, or nil.
func (s *Session) Analysis() *schemas.StructureAnalysisResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAnalysis(s.analysis)
}

// StructureReflections returns the reflections produced by structure analysis.
func (s *Session) StructureReflections() []schemas.Reflection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schemas.Reflection(nil), s.structureReflections...)
}

// Position resolves a node's position for the active layout mode.
func (s *Session) Position(id schemas.NodeID) (layout.Point, bool) {
	n, ok := s.graph.Node(id)
	if !ok {
		return layout.Point{}, false
	}
	s.mu.Lock()
	mode, analysis := s.mode, s.analysis
	s.mu.Unlock()

	if mode == schemas.LayoutStructure {
		return s.matrix.Position(n, s.grid, analysis)
	}
	return s.tree.Position(s.graph, id)
}

// -- Commits --

// CommitTopic creates the root topic node at the layout origin.
func (s *Session) CommitTopic(text string) (schemas.Node, error) {
	text = strings.TrimSpace(text)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.topicNodeID != nil {
		return schemas.Node{}, ErrTopicExists
	}
	origin := s.tree.Origin()
	added, err := s.graph.AddNodes([]ideagraph.Draft{{Node: schemas.Node{
		Text: text,
		Type: schemas.NodeTypeTopic,
		X:    origin.X,
		Y:    origin.Y,
	}}})
	if err != nil {
		return schemas.Node{}, err
	}

	topic := added[0]
	id := topic.ID
	s.topicNodeID = &id
	s.designTopic = text
	s.currentStep = schemas.StepTopic
	s.recordLocked(false)
	s.log.Info("Design topic created", zap.Int64("node_id", int64(id)))
	return topic, nil
}

// Commit is one planned generation: the drafts to insert and the parents
// whose expansion guard must still hold at commit time.
type Commit struct {
	Drafts  []ideagraph.Draft
	Guarded []schemas.NodeID
}

// CommitGeneration inserts a planned generation as a single mutation: nodes,
// reflections, default positions, step, generation counter and one appended
// metrics snapshot.
func (s *Session) CommitGeneration(c Commit) ([]schemas.Node, error) {
	if len(c.Drafts) == 0 {
		return nil, ErrEmptyCommit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pid := range c.Guarded {
		if s.graph.HasChildren(pid) {
			return nil, fmt.Errorf("%w: node '%d'", ErrAlreadyExpanded, pid)
		}
	}

	added, err := s.graph.AddNodes(c.Drafts)
	if err != nil {
		return nil, err
	}
	added = s.placeLocked(added)

	step := added[0].Step
	for _, n := range added[1:] {
		if n.Step > step {
			step = n.Step
		}
	}
	s.currentStep = step
	s.aiGenerationCount++
	s.recordLocked(false)

	s.log.Info("Generation committed", zap.Int("nodes", len(added)), zap.Int("step", int(step)))
	return added, nil
}

// CommitRegeneration replaces one node's content with service output. It
// counts as both an edit and a generation.
func (s *Session) CommitRegeneration(id schemas.NodeID, text, keyword string) (schemas.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.graph.UpdateContent(id, text, keyword); err != nil {
		return schemas.Node{}, err
	}
	s.editCount++
	s.aiGenerationCount++
	s.recordLocked(true)

	n, _ := s.graph.Node(id)
	return n, nil
}

// EditText replaces a node's text, keeping its keyword.
func (s *Session) EditText(id schemas.NodeID, text string) (schemas.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.graph.Node(id)
	if !ok {
		return schemas.Node{}, fmt.Errorf("%w: id '%d'", ideagraph.ErrNodeNotFound, id)
	}
	return s.editLocked(id, text, n.Keyword)
}

// EditKeyword replaces a node's keyword, keeping its text.
func (s *Session) EditKeyword(id schemas.NodeID, keyword string) (schemas.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.graph.Node(id)
	if !ok {
		return schemas.Node{}, fmt.Errorf("%w: id '%d'", ideagraph.ErrNodeNotFound, id)
	}
	return s.editLocked(id, n.Text, strings.TrimSpace(keyword))
}

func (s *Session) editLocked(id schemas.NodeID, text, keyword string) (schemas.Node, error) {
	if err := s.graph.UpdateContent(id, text, keyword); err != nil {
		return schemas.Node{}, err
	}
	s.editCount++
	s.recordLocked(true)
	n, _ := s.graph.Node(id)
	return n, nil
}

// AddManualNode adds a user-written child one step below parentID. Main
// children of the topic take the first category not yet used.
func (s *Session) AddManualNode(parentID schemas.NodeID, text, keyword string) (schemas.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.graph.Node(parentID)
	if !ok {
		return schemas.Node{}, fmt.Errorf("%w: id '%d'", ideagraph.ErrNodeNotFound, parentID)
	}
	childType, ok := parent.Type.ChildType()
	if !ok {
		return schemas.Node{}, fmt.Errorf("%w: '%s'", ErrTerminalParent, parent.Type)
	}

	category := parent.Category
	if childType == schemas.NodeTypeMain {
		category = s.nextCategoryLocked(parentID)
	}
	added, err := s.graph.AddNodes([]ideagraph.Draft{{Node: schemas.Node{
		Text:            strings.TrimSpace(text),
		Keyword:         strings.TrimSpace(keyword),
		Type:            childType,
		Category:        category,
		ParentIDs:       []schemas.NodeID{parentID},
		ManuallyCreated: true,
	}}})
	if err != nil {
		return schemas.Node{}, err
	}
	added = s.placeLocked(added)
	s.recordLocked(false)
	return added[0], nil
}

func (s *Session) nextCategoryLocked(parentID schemas.NodeID) schemas.Category {
	used := make(map[schemas.Category]bool)
	for _, c := range s.graph.Children(parentID) {
		used[c.Category] = true
	}
	for _, c := range schemas.MainCategories {
		if !used[c] {
			return c
		}
	}
	return schemas.CategoryContext
}

// DeleteNode removes a node and its descendants together with every piece of
// side state keyed by the removed ids.
func (s *Session) DeleteNode(id schemas.NodeID) ([]schemas.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.graph.DeleteNode(id)
	if err != nil {
		return nil, err
	}

	gone := make(map[schemas.NodeID]bool, len(removed))
	for _, rid := range removed {
		gone[rid] = true
	}
	s.grid.Remove(removed...)
	s.selection.Prune(func(nid schemas.NodeID) bool { return !gone[nid] })

	kept := s.structureReflections[:0]
	for _, r := range s.structureReflections {
		if !gone[r.NodeID] {
			kept = append(kept, r)
		}
	}
	s.structureReflections = kept

	if s.analysis != nil {
		assessments := s.analysis.Assessments[:0]
		for _, a := range s.analysis.Assessments {
			if !gone[a.NodeID] {
				assessments = append(assessments, a)
			}
		}
		s.analysis.Assessments = assessments
	}

	if s.topicNodeID != nil && gone[*s.topicNodeID] {
		s.topicNodeID = nil
		s.designTopic = ""
		s.currentStep = schemas.StepTopic
	}
	s.recordLocked(false)
	s.log.Info("Nodes deleted", zap.Int("count", len(removed)))
	return removed, nil
}

// DeleteReflection removes a node reflection or a structure reflection.
func (s *Session) DeleteReflection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.graph.DeleteReflection(id)
	if err == nil || !errors.Is(err, ideagraph.ErrReflectionNotFound) {
		return err
	}
	for i, r := range s.structureReflections {
		if r.ID == id {
			s.structureReflections = append(s.structureReflections[:i], s.structureReflections[i+1:]...)
			return nil
		}
	}
	return err
}

// MoveNode records an exploration drag. The manual flag is sticky.
func (s *Session) MoveNode(id schemas.NodeID, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.SetPosition(id, x, y, ideagraph.PositionManual)
}

// MoveStructure records a structure drag: the grid override, the stored
// position and the derived priority.
func (s *Session) MoveStructure(id schemas.NodeID, x, y float64) (schemas.GridPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graph.Node(id); !ok {
		return schemas.GridPosition{}, fmt.Errorf("%w: id '%d'", ideagraph.ErrNodeNotFound, id)
	}
	gp := s.grid.Record(s.matrix, id, layout.Point{X: x, Y: y})
	if err := s.graph.SetPosition(id, gp.X, gp.Y, ideagraph.PositionStructure); err != nil {
		return schemas.GridPosition{}, err
	}
	return gp, nil
}

// StructureReflection is analysis advice about one node.
type StructureReflection struct {
	NodeID  schemas.NodeID
	Content string
}

// ApplyStructureAnalysis replaces the previous analysis and its reflections,
// clears grid overrides and switches to the structure layout.
func (s *Session) ApplyStructureAnalysis(result schemas.StructureAnalysisResult, reflections []StructureReflection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.AnalyzedAt.IsZero() {
		result.AnalyzedAt = s.now()
	}
	s.analysis = cloneAnalysis(&result)

	s.structureReflections = nil
	for _, r := range reflections {
		n, ok := s.graph.Node(r.NodeID)
		if !ok || strings.TrimSpace(r.Content) == "" {
			continue
		}
		s.structureReflections = append(s.structureReflections, schemas.Reflection{
			ID:        uuid.NewString(),
			NodeID:    r.NodeID,
			Topic:     n.Text,
			Content:   strings.TrimSpace(r.Content),
			Timestamp: result.AnalyzedAt,
		})
	}
	s.grid.Clear()
	s.mode = schemas.LayoutStructure
	s.log.Info("Structure analysis applied", zap.Int("assessments", len(result.Assessments)))
}

// placeLocked stores the default layout position of freshly added nodes.
func (s *Session) placeLocked(added []schemas.Node) []schemas.Node {
	positions := s.tree.Positions(s.graph)
	for i, n := range added {
		if n.IsRoot() {
			continue
		}
		p, ok := positions[n.ID]
		if !ok {
			continue
		}
		if err := s.graph.SetPosition(n.ID, p.X, p.Y, ideagraph.PositionStored); err == nil {
			added[i].X, added[i].Y = p.X, p.Y
		}
	}
	return added
}

// recordLocked appends a metrics snapshot, or overwrites the last one for
// edit events.
func (s *Session) recordLocked(edit bool) {
	snap := creativity.Compute(s.graph.Nodes())
	snap.Timestamp = s.now()
	if edit {
		s.history.ReplaceLast(snap)
		return
	}
	s.history.Append(snap)
}

func cloneAnalysis(r *schemas.StructureAnalysisResult) *schemas.StructureAnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Assessments = append([]schemas.NodeAssessment(nil), r.Assessments...)
	c.MainThemes = append([]string(nil), r.MainThemes...)
	c.Relationships = append([]string(nil), r.Relationships...)
	return &c
}
