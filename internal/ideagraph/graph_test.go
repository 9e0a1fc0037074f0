package ideagraph

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

// -- Test Fixture Setup --

type graphTestFixture struct {
	Logger *zap.Logger
}

var globalFixture *graphTestFixture

func TestMain(m *testing.M) {
	globalFixture = &graphTestFixture{Logger: zap.NewNop()}
	exitCode := m.Run()
	_ = globalFixture.Logger.Sync()
	os.Exit(exitCode)
}

// -- Test Helper Functions --

func draft(text string, t schemas.NodeType, parents ...schemas.NodeID) Draft {
	return Draft{Node: schemas.Node{Text: text, Type: t, ParentIDs: parents}}
}

// getTestGraph returns a graph shaped like:
//
//	1 topic
//	├── 2 main (reflection)
//	│   ├── 4 sub (reflection)
//	│   └── 5 sub
//	└── 3 main
//	6 sub with parents [2, 3]
func getTestGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph(globalFixture.Logger)

	_, err := g.AddNodes([]Draft{draft("Improve hospital intake", schemas.NodeTypeTopic)})
	require.NoError(t, err)
	_, err = g.AddNodes([]Draft{
		{Node: schemas.Node{Text: "Waiting room context", Type: schemas.NodeTypeMain, Category: schemas.CategoryContext, ParentIDs: []schemas.NodeID{1}}, Reflection: "Who waits longest?"},
		{Node: schemas.Node{Text: "Front desk staff", Type: schemas.NodeTypeMain, Category: schemas.CategoryUser, ParentIDs: []schemas.NodeID{1}}},
	})
	require.NoError(t, err)
	_, err = g.AddNodes([]Draft{
		{Node: schemas.Node{Text: "Paper forms", Type: schemas.NodeTypeSub, ParentIDs: []schemas.NodeID{2}}, Reflection: "Digitize?"},
		draft("Queue visibility", schemas.NodeTypeSub, 2),
	})
	require.NoError(t, err)
	_, err = g.AddNodes([]Draft{draft("Shared triage board", schemas.NodeTypeSub, 2, 3)})
	require.NoError(t, err)
	require.Equal(t, 6, g.Len())
	return g
}

func ids(nodes []schemas.Node) []schemas.NodeID {
	out := make([]schemas.NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

// -- Test Cases --

func TestNewGraph(t *testing.T) {
	t.Parallel()

	t.Run("should not panic if nil logger is provided", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(nil)
		assert.NotNil(t, g)
		assert.Equal(t, 0, g.Len())
	})
}

func TestAddNodes(t *testing.T) {
	t.Parallel()

	t.Run("should assign monotonic ids and levels", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		assert.Equal(t, []schemas.NodeID{1, 2, 3, 4, 5, 6}, ids(g.Nodes()))

		n, ok := g.Node(4)
		require.True(t, ok)
		assert.Equal(t, 2, n.Level)
		assert.Equal(t, schemas.StepSub, n.Step)
		assert.False(t, n.CreatedAt.IsZero())
	})

	t.Run("should take the level from the shallowest parent", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		// Node 4 sits at level 2 and node 3 at level 1.
		added, err := g.AddNodes([]Draft{draft("Shared insight", schemas.NodeTypeInsight, 4, 3)})
		require.NoError(t, err)
		assert.Equal(t, 2, added[0].Level)
		assert.Equal(t, schemas.StepInsight, added[0].Step)
	})

	t.Run("should never reuse ids after delete", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		_, err := g.DeleteNode(5)
		require.NoError(t, err)

		added, err := g.AddNodes([]Draft{draft("Kiosk check-in", schemas.NodeTypeSub, 3)})
		require.NoError(t, err)
		assert.Equal(t, schemas.NodeID(7), added[0].ID)
	})

	t.Run("should reject the whole batch when one parent is missing", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		before := g.Version()

		_, err := g.AddNodes([]Draft{
			draft("fine", schemas.NodeTypeSub, 2),
			draft("orphan", schemas.NodeTypeSub, 42),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNodeNotFound)
		assert.Equal(t, 6, g.Len())
		assert.Equal(t, before, g.Version())
	})

	t.Run("should reject invalid drafts", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(nil)
		_, err := g.AddNodes([]Draft{draft("x", schemas.NodeType("idea"))})
		assert.ErrorIs(t, err, ErrInvalidNode)
		_, err = g.AddNodes([]Draft{draft("   ", schemas.NodeTypeTopic)})
		assert.ErrorIs(t, err, ErrInvalidNode)
	})

	t.Run("should create reflections only for non-empty content", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		refl := g.Reflections()
		require.Len(t, refl, 2)
		assert.Equal(t, schemas.NodeID(2), refl[0].NodeID)
		assert.Equal(t, "Waiting room context", refl[0].Topic)
		assert.NotEmpty(t, refl[0].ID)
		assert.True(t, g.HasReflection(4))
		assert.False(t, g.HasReflection(5))
	})
}

func TestChildrenIndex(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	t.Run("should find children by any parent membership", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []schemas.NodeID{4, 5, 6}, ids(g.Children(2)))
		assert.Equal(t, []schemas.NodeID{6}, ids(g.Children(3)))
		assert.True(t, g.HasChildren(3))
		assert.False(t, g.HasChildren(5))
	})

	t.Run("should find primary children by first parent only", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, []schemas.NodeID{4, 5, 6}, ids(g.PrimaryChildren(2)))
		assert.Empty(t, g.PrimaryChildren(3))
	})
}

func TestDeleteNode(t *testing.T) {
	t.Parallel()

	t.Run("should remove the transitive closure and its reflections", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		removed, err := g.DeleteNode(2)
		require.NoError(t, err)

		sorted := append([]schemas.NodeID(nil), removed...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		assert.Equal(t, []schemas.NodeID{2, 4, 5, 6}, sorted)
		assert.Equal(t, schemas.NodeID(2), removed[0])

		assert.Equal(t, []schemas.NodeID{1, 3}, ids(g.Nodes()))
		assert.Empty(t, g.Reflections())
		// Node 3 loses its multi-parent child as well.
		assert.False(t, g.HasChildren(3))
	})

	t.Run("should leave unrelated reflections alone", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		_, err := g.DeleteNode(3)
		require.NoError(t, err)

		assert.Equal(t, []schemas.NodeID{1, 2, 4, 5}, ids(g.Nodes()))
		assert.Len(t, g.Reflections(), 2)
		assert.Equal(t, []schemas.NodeID{4, 5}, ids(g.Children(2)))
	})

	t.Run("should delete everything from the root", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		removed, err := g.DeleteNode(1)
		require.NoError(t, err)
		assert.Len(t, removed, 6)
		assert.Equal(t, 0, g.Len())
	})

	t.Run("should return error for non-existent node", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		_, err := g.DeleteNode(99)
		assert.ErrorIs(t, err, ErrNodeNotFound)
	})
}

func TestUpdateContentAndPosition(t *testing.T) {
	t.Parallel()

	t.Run("should only change text and keyword", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		before, _ := g.Node(4)
		require.NoError(t, g.UpdateContent(4, "Handwritten triage forms", "Triage forms"))
		after, _ := g.Node(4)

		assert.Equal(t, "Handwritten triage forms", after.Text)
		assert.Equal(t, "Triage forms", after.Keyword)
		assert.Equal(t, before.Type, after.Type)
		assert.Equal(t, before.Step, after.Step)
		assert.Equal(t, before.ParentIDs, after.ParentIDs)
		assert.Equal(t, before.Category, after.Category)
	})

	t.Run("should reject empty text", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		assert.ErrorIs(t, g.UpdateContent(4, "", ""), ErrInvalidNode)
	})

	t.Run("should keep flags sticky and bump version", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		v := g.Version()
		require.NoError(t, g.SetPosition(4, 10, 20, PositionManual))
		require.NoError(t, g.SetPosition(4, 30, 40, PositionStored))

		n, _ := g.Node(4)
		assert.True(t, n.ManuallyPositioned)
		assert.False(t, n.StructurePositioned)
		assert.Equal(t, 30.0, n.X)
		assert.Greater(t, g.Version(), v)

		assert.ErrorIs(t, g.SetPosition(99, 0, 0, PositionStructure), ErrNodeNotFound)
	})

	t.Run("returned copies should not alias internal state", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		n, _ := g.Node(6)
		n.ParentIDs[0] = 1
		fresh, _ := g.Node(6)
		assert.Equal(t, []schemas.NodeID{2, 3}, fresh.ParentIDs)
	})
}

func TestReflections(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	r, err := g.AddReflection(5, "Consider a display screen")
	require.NoError(t, err)
	assert.Equal(t, "Queue visibility", r.Topic)
	assert.Len(t, g.ReflectionsFor(5), 1)

	require.NoError(t, g.DeleteReflection(r.ID))
	assert.Empty(t, g.ReflectionsFor(5))
	assert.ErrorIs(t, g.DeleteReflection(r.ID), ErrReflectionNotFound)

	_, err = g.AddReflection(99, "nope")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	t.Run("should rebuild indices and continue the id sequence", func(t *testing.T) {
		t.Parallel()
		src := getTestGraph(t)
		g := NewGraph(nil)
		require.NoError(t, g.Restore(src.Nodes(), src.Reflections()))

		assert.Equal(t, ids(src.Nodes()), ids(g.Nodes()))
		assert.Equal(t, []schemas.NodeID{4, 5, 6}, ids(g.Children(2)))

		added, err := g.AddNodes([]Draft{draft("next", schemas.NodeTypeSub, 3)})
		require.NoError(t, err)
		assert.Equal(t, schemas.NodeID(7), added[0].ID)
	})

	t.Run("should derive step and level instead of trusting the record", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(nil)
		require.NoError(t, g.Restore([]schemas.Node{
			{ID: 1, Text: "topic", Type: schemas.NodeTypeTopic, Step: 3, Level: 4},
			{ID: 2, Text: "main", Type: schemas.NodeTypeMain, Step: 0, Level: 9, ParentIDs: []schemas.NodeID{1}},
			{ID: 3, Text: "sub", Type: schemas.NodeTypeSub, ParentIDs: []schemas.NodeID{2}},
			{ID: 4, Text: "insight", Type: schemas.NodeTypeInsight, ParentIDs: []schemas.NodeID{3, 1}},
		}, nil))

		want := map[schemas.NodeID]struct {
			step  schemas.Step
			level int
		}{
			1: {schemas.StepTopic, 0},
			2: {schemas.StepMain, 1},
			3: {schemas.StepSub, 2},
			4: {schemas.StepInsight, 1},
		}
		for id, w := range want {
			n, ok := g.Node(id)
			require.True(t, ok)
			assert.Equal(t, w.step, n.Step, "step of node %d", id)
			assert.Equal(t, w.level, n.Level, "level of node %d", id)
		}
	})

	t.Run("should reject a missing parent", func(t *testing.T) {
		t.Parallel()
		g := getTestGraph(t)
		err := g.Restore([]schemas.Node{{ID: 1, Text: "x", Type: schemas.NodeTypeSub, ParentIDs: []schemas.NodeID{7}}}, nil)
		assert.ErrorIs(t, err, ErrInvalidNode)
		assert.Equal(t, 6, g.Len(), "failed restore must not touch the graph")
	})

	t.Run("should reject a parent cycle", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(nil)
		err := g.Restore([]schemas.Node{
			{ID: 1, Text: "a", Type: schemas.NodeTypeMain, ParentIDs: []schemas.NodeID{3}},
			{ID: 2, Text: "b", Type: schemas.NodeTypeSub, ParentIDs: []schemas.NodeID{1}},
			{ID: 3, Text: "c", Type: schemas.NodeTypeInsight, ParentIDs: []schemas.NodeID{2}},
		}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cycle")
	})

	t.Run("should reject duplicate ids and orphan reflections", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(nil)
		err := g.Restore([]schemas.Node{
			{ID: 1, Text: "a", Type: schemas.NodeTypeTopic},
			{ID: 1, Text: "b", Type: schemas.NodeTypeTopic},
		}, nil)
		assert.ErrorIs(t, err, ErrInvalidNode)

		err = g.Restore([]schemas.Node{{ID: 1, Text: "a", Type: schemas.NodeTypeTopic}},
			[]schemas.Reflection{{ID: "r", NodeID: 2}})
		assert.ErrorIs(t, err, ErrInvalidNode)
	})
}

func TestConcurrency(t *testing.T) {
	t.Parallel()
	g := getTestGraph(t)

	var wg sync.WaitGroup
	errCh := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := g.AddNodes([]Draft{draft(fmt.Sprintf("idea %d", i), schemas.NodeTypeSub, 3)}); err != nil {
				errCh <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = g.Nodes()
			_ = g.Children(3)
			_ = g.Version()
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err, "Concurrency test encountered an unexpected error")
	}

	assert.Equal(t, 56, g.Len())
	seen := make(map[schemas.NodeID]bool)
	for _, n := range g.Nodes() {
		assert.False(t, seen[n.ID], "duplicate id %d", n.ID)
		seen[n.ID] = true
	}
}
