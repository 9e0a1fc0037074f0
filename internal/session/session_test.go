package session

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/ideagraph"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func layoutConfig() config.LayoutConfig {
	return config.NewDefaultConfig().Layout()
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := New("test-session", layoutConfig(), nil)
	s.now = func() time.Time { return fixedNow }
	return s
}

func draft(text string, t schemas.NodeType, cat schemas.Category, parents ...schemas.NodeID) ideagraph.Draft {
	return ideagraph.Draft{Node: schemas.Node{Text: text, Type: t, Category: cat, ParentIDs: parents}}
}

// seedHospital builds topic(1) with mains 2..5 and subs 6,7 under 2.
func seedHospital(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.CommitTopic("Hospital patient intake")
	require.NoError(t, err)

	_, err = s.CommitGeneration(Commit{
		Guarded: []schemas.NodeID{1},
		Drafts: []ideagraph.Draft{
			draft("Crowded waiting rooms", schemas.NodeTypeMain, schemas.CategoryContext, 1),
			draft("Anxious first-time patients", schemas.NodeTypeMain, schemas.CategoryUser, 1),
			draft("Registering symptoms", schemas.NodeTypeMain, schemas.CategoryTask, 1),
			draft("Shorter time to triage", schemas.NodeTypeMain, schemas.CategoryGoal, 1),
		},
	})
	require.NoError(t, err)

	d := draft("Peak hours overwhelm the desk", schemas.NodeTypeSub, schemas.CategoryContext, 2)
	d.Reflection = "Consider staffing data."
	_, err = s.CommitGeneration(Commit{
		Guarded: []schemas.NodeID{2},
		Drafts:  []ideagraph.Draft{d, draft("No signage for walk-ins", schemas.NodeTypeSub, schemas.CategoryContext, 2)},
	})
	require.NoError(t, err)
}

func TestCommitTopic(t *testing.T) {
	s := newTestSession(t)
	topic, err := s.CommitTopic("  Hospital patient intake  ")
	require.NoError(t, err)

	assert.Equal(t, schemas.NodeID(1), topic.ID)
	assert.Equal(t, 600.0, topic.X)
	assert.Equal(t, 100.0, topic.Y)
	assert.Equal(t, "Hospital patient intake", s.DesignTopic())
	id, ok := s.TopicNodeID()
	require.True(t, ok)
	assert.Equal(t, topic.ID, id)
	assert.Equal(t, 1, s.History().Len())

	_, err = s.CommitTopic("Another")
	assert.ErrorIs(t, err, ErrTopicExists)
	assert.Equal(t, 1, s.Graph().Len())
}

func TestCommitGeneration(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)

	assert.Equal(t, 7, s.Graph().Len())
	assert.Equal(t, schemas.StepSub, s.CurrentStep())
	assert.Equal(t, 2, s.AIGenerationCount())
	assert.Equal(t, 3, s.History().Len(), "topic plus two generations")
	require.Len(t, s.Graph().ReflectionsFor(6), 1)

	aspect, _ := s.Node(2)
	assert.Equal(t, 150.0, aspect.X, "default layout position is stored")
	assert.Equal(t, 250.0, aspect.Y)

	t.Run("guard trips when the parent was expanded meanwhile", func(t *testing.T) {
		_, err := s.CommitGeneration(Commit{
			Guarded: []schemas.NodeID{2},
			Drafts:  []ideagraph.Draft{draft("late", schemas.NodeTypeSub, schemas.CategoryContext, 2)},
		})
		assert.ErrorIs(t, err, ErrAlreadyExpanded)
		assert.Equal(t, 7, s.Graph().Len())
		assert.Equal(t, 2, s.AIGenerationCount())
	})

	t.Run("empty commits are rejected", func(t *testing.T) {
		_, err := s.CommitGeneration(Commit{})
		assert.ErrorIs(t, err, ErrEmptyCommit)
	})

	t.Run("invalid drafts commit nothing", func(t *testing.T) {
		before := s.History().Len()
		_, err := s.CommitGeneration(Commit{Drafts: []ideagraph.Draft{
			draft("ok", schemas.NodeTypeSub, schemas.CategoryUser, 3),
			draft("orphan", schemas.NodeTypeSub, schemas.CategoryUser, 99),
		}})
		assert.ErrorIs(t, err, ideagraph.ErrNodeNotFound)
		assert.Equal(t, 7, s.Graph().Len())
		assert.Equal(t, before, s.History().Len())
	})
}

func TestEditsGrowHistoryByAtMostOne(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)
	before := s.History().Len()

	for i := 0; i < 5; i++ {
		_, err := s.EditText(6, "Peak hours overwhelm the front desk staff")
		require.NoError(t, err)
	}
	_, err := s.EditKeyword(6, "Peak load")
	require.NoError(t, err)

	assert.LessOrEqual(t, s.History().Len(), before+1)
	assert.Equal(t, 6, s.EditCount())

	n, _ := s.Node(6)
	assert.Equal(t, "Peak load", n.Keyword)
	assert.Equal(t, "Peak hours overwhelm the front desk staff", n.Text)
	assert.Equal(t, schemas.NodeTypeSub, n.Type, "edits never change the type")

	_, err = s.EditText(404, "x")
	assert.ErrorIs(t, err, ideagraph.ErrNodeNotFound)
}

func TestEditOnEmptyHistoryAppends(t *testing.T) {
	s := newTestSession(t)
	_, err := s.graph.AddNodes([]ideagraph.Draft{draft("seed", schemas.NodeTypeTopic, "")})
	require.NoError(t, err)

	_, err = s.EditText(1, "seeded")
	require.NoError(t, err)
	assert.Equal(t, 1, s.History().Len())
}

func TestCommitRegeneration(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)
	before := s.History().Len()

	n, err := s.CommitRegeneration(7, "Wayfinding is unclear for walk-ins", "Wayfinding")
	require.NoError(t, err)
	assert.Equal(t, "Wayfinding", n.Keyword)
	assert.Equal(t, 1, s.EditCount())
	assert.Equal(t, 3, s.AIGenerationCount())
	assert.Equal(t, before, s.History().Len(), "regeneration overwrites the last snapshot")
}

func TestAddManualNode(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)

	n, err := s.AddManualNode(6, "Triage nurse at the door", "")
	require.NoError(t, err)
	assert.True(t, n.ManuallyCreated)
	assert.Equal(t, schemas.NodeTypeInsight, n.Type)
	assert.Equal(t, schemas.CategoryContext, n.Category)
	assert.Equal(t, []schemas.NodeID{6}, n.ParentIDs)

	current, _ := s.History().Current()
	assert.Less(t, current.Dependency, 1.0, "manual nodes lower dependency")

	opp, err := s.AddManualNode(n.ID, "Door triage pilot", "")
	require.NoError(t, err)
	_, err = s.AddManualNode(opp.ID, "beyond", "")
	assert.ErrorIs(t, err, ErrTerminalParent)

	t.Run("main children take a free category", func(t *testing.T) {
		fresh := newTestSession(t)
		_, err := fresh.CommitTopic("Library")
		require.NoError(t, err)
		first, err := fresh.AddManualNode(1, "Quiet zones", "")
		require.NoError(t, err)
		second, err := fresh.AddManualNode(1, "Students", "")
		require.NoError(t, err)
		assert.Equal(t, schemas.CategoryContext, first.Category)
		assert.Equal(t, schemas.CategoryUser, second.Category)
	})
}

func TestDeleteNode(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)
	s.Selection().Add(6)
	s.Selection().Add(3)
	_, err := s.MoveStructure(7, 500, 500)
	require.NoError(t, err)
	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{Assessments: []schemas.NodeAssessment{
		{NodeID: 6, Impact: 5, Feasibility: 5},
		{NodeID: 3, Impact: 5, Feasibility: 5},
	}}, []StructureReflection{{NodeID: 6, Content: "High leverage"}, {NodeID: 3, Content: "Needs research"}})

	removed, err := s.DeleteNode(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []schemas.NodeID{2, 6, 7}, removed)

	assert.Equal(t, []schemas.NodeID{3}, s.Selection().IDs())
	require.Len(t, s.StructureReflections(), 1)
	assert.Equal(t, schemas.NodeID(3), s.StructureReflections()[0].NodeID)
	require.Len(t, s.Analysis().Assessments, 1)
	assert.Empty(t, s.Graph().ReflectionsFor(6))

	_, err = s.DeleteNode(1)
	require.NoError(t, err)
	assert.Empty(t, s.DesignTopic())
	_, ok := s.TopicNodeID()
	assert.False(t, ok)
	assert.Zero(t, s.Graph().Len())

	_, err = s.DeleteNode(1)
	assert.ErrorIs(t, err, ideagraph.ErrNodeNotFound)
}

func TestMoveAndLayoutModes(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)

	require.NoError(t, s.MoveNode(3, 42, 43))
	p, ok := s.Position(3)
	require.True(t, ok)
	assert.Equal(t, 42.0, p.X)
	n, _ := s.Node(3)
	assert.True(t, n.ManuallyPositioned)

	assert.ErrorIs(t, s.SetMode(schemas.LayoutStructure), ErrNoAnalysis)
	assert.Equal(t, schemas.LayoutExploration, s.Mode())

	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{}, nil)
	require.NoError(t, s.SetMode(schemas.LayoutExploration))
	require.NoError(t, s.SetMode(schemas.LayoutStructure))
	_, ok = s.Position(4)
	assert.False(t, ok, "no score and no override")

	gp, err := s.MoveStructure(4, 600, 100)
	require.NoError(t, err)
	assert.Equal(t, schemas.PriorityHigh, gp.Priority)
	p, ok = s.Position(4)
	require.True(t, ok)
	assert.Equal(t, 100.0, p.Y)
	n, _ = s.Node(4)
	assert.True(t, n.StructurePositioned)

	_, err = s.MoveStructure(404, 0, 0)
	assert.ErrorIs(t, err, ideagraph.ErrNodeNotFound)
	assert.Error(t, s.SetMode("sideways"))
}

func TestApplyStructureAnalysis(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)
	_, err := s.MoveStructure(3, 300, 300)
	require.NoError(t, err)

	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{
		Assessments: []schemas.NodeAssessment{{NodeID: 3, Impact: 8, Feasibility: 4}},
		MainThemes:  []string{"wait times"},
	}, []StructureReflection{{NodeID: 3, Content: "Quick win"}, {NodeID: 99, Content: "ignored"}, {NodeID: 4, Content: "  "}})

	assert.Equal(t, schemas.LayoutStructure, s.Mode())
	assert.Zero(t, s.Grid().Len(), "grid overrides are cleared")
	require.Len(t, s.StructureReflections(), 1)
	assert.Equal(t, fixedNow, s.Analysis().AnalyzedAt)

	// Replaced wholesale on the next run.
	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{}, nil)
	assert.Empty(t, s.Analysis().Assessments)
	assert.Empty(t, s.StructureReflections())
}

func TestDeleteReflection(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)
	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{}, []StructureReflection{{NodeID: 3, Content: "x"}})

	nodeRef := s.Graph().ReflectionsFor(6)[0]
	require.NoError(t, s.DeleteReflection(nodeRef.ID))
	require.NoError(t, s.DeleteReflection(s.StructureReflections()[0].ID))
	assert.ErrorIs(t, s.DeleteReflection("missing"), ideagraph.ErrReflectionNotFound)
}

func TestDocumentRoundTrip(t *testing.T) {
	s := newTestSession(t)
	seedHospital(t, s)

	// A multi-parent node and a singleton parent list must both survive.
	_, err := s.CommitGeneration(Commit{Drafts: []ideagraph.Draft{
		draft("Shared insight", schemas.NodeTypeInsight, schemas.CategoryContext, 6, 7),
	}})
	require.NoError(t, err)
	_, err = s.EditText(3, "Registering symptoms on arrival")
	require.NoError(t, err)
	_, err = s.MoveStructure(5, 200, 600)
	require.NoError(t, err)
	s.ApplyStructureAnalysis(schemas.StructureAnalysisResult{
		Assessments:   []schemas.NodeAssessment{{NodeID: 6, Impact: 9, Feasibility: 3, Category: "quick win"}},
		MainThemes:    []string{"throughput"},
		Relationships: []string{"6 enables 7"},
	}, []StructureReflection{{NodeID: 6, Content: "Pilot first"}})
	_, err = s.MoveStructure(5, 200, 600)
	require.NoError(t, err)

	data, err := s.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentIds"`)

	restored, err := Unmarshal(data, layoutConfig(), nil)
	require.NoError(t, err)
	restored.now = s.now

	opts := []cmp.Option{cmpopts.EquateEmpty()}
	if diff := cmp.Diff(s.ToDocument(), restored.ToDocument(), opts...); diff != "" {
		t.Errorf("document mismatch after round trip (-want +got):\n%s", diff)
	}

	shared, ok := restored.Node(8)
	require.True(t, ok)
	assert.Equal(t, []schemas.NodeID{6, 7}, shared.ParentIDs)
	pid, _ := shared.ParentID()
	assert.Equal(t, schemas.NodeID(6), pid)

	next, err := restored.AddManualNode(8, "continues numbering", "")
	require.NoError(t, err)
	assert.Equal(t, schemas.NodeID(9), next.ID)
}

func TestUnmarshalDerivesStepAndLevel(t *testing.T) {
	doc := `{"version":1,"nodes":[
		{"id":1,"text":"Hospital patient intake","type":"topic","step":3,"level":5},
		{"id":2,"text":"Crowded waiting rooms","type":"main","step":0,"level":9,"parentIds":[1]}
	],"topicNodeId":1}`
	s, err := Unmarshal([]byte(doc), layoutConfig(), nil)
	require.NoError(t, err)

	topic, _ := s.Node(1)
	assert.Equal(t, schemas.StepTopic, topic.Step)
	assert.Zero(t, topic.Level)
	aspect, _ := s.Node(2)
	assert.Equal(t, schemas.StepMain, aspect.Step)
	assert.Equal(t, 1, aspect.Level)
}

func TestFromDocumentValidation(t *testing.T) {
	cfg := layoutConfig()

	_, err := FromDocument(schemas.SessionDocument{Version: schemas.DocumentVersion + 1}, cfg, nil)
	assert.Error(t, err)

	bad := schemas.NodeID(2)
	_, err = FromDocument(schemas.SessionDocument{
		Nodes:       []schemas.Node{{ID: 1, Text: "t", Type: schemas.NodeTypeTopic}, {ID: 2, Text: "m", Type: schemas.NodeTypeMain, ParentIDs: []schemas.NodeID{1}}},
		TopicNodeID: &bad,
	}, cfg, nil)
	assert.Error(t, err)

	_, err = FromDocument(schemas.SessionDocument{
		Nodes: []schemas.Node{{ID: 1, Text: "m", Type: schemas.NodeTypeMain, ParentIDs: []schemas.NodeID{7}}},
	}, cfg, nil)
	assert.ErrorIs(t, err, ideagraph.ErrInvalidNode)

	_, err = Unmarshal([]byte("{not json"), cfg, nil)
	assert.Error(t, err)

	legacy := `{"version":1,"nodes":[{"id":1,"text":"t","type":"topic","step":0},{"id":2,"text":"m","type":"main","step":1,"category":"User","parentId":1}],"topicNodeId":1}`
	s, err := Unmarshal([]byte(legacy), cfg, nil)
	require.NoError(t, err)
	n, _ := s.Node(2)
	assert.Equal(t, []schemas.NodeID{1}, n.ParentIDs)
	assert.Equal(t, schemas.LayoutExploration, s.Mode())
}
