package ideagraph

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

var (
	// ErrNodeNotFound is returned for lookups of ids the graph does not hold.
	ErrNodeNotFound = errors.New("node not found")
	// ErrReflectionNotFound is returned when deleting an unknown reflection.
	ErrReflectionNotFound = errors.New("reflection not found")
	// ErrInvalidNode is returned when a node fails validation on insert or restore.
	ErrInvalidNode = errors.New("invalid node")
)

// PositionMark tells SetPosition which sticky flag, if any, to raise.
type PositionMark int

const (
	// PositionStored only records the coordinates.
	PositionStored PositionMark = iota
	// PositionManual marks an exploration-layout drag.
	PositionManual
	// PositionStructure marks a structure-layout drag.
	PositionStructure
)

// Draft is a node waiting to be inserted. ID, Level and
// CreatedAt are filled in by the graph.
type Draft struct {
	Node       schemas.Node
	Reflection string
}

// Graph is the in-memory node and reflection store of one session.
type Graph struct {
	nodes       map[schemas.NodeID]schemas.Node
	order       []schemas.NodeID
	children    map[schemas.NodeID][]schemas.NodeID // Key: parent ID, any position in the child's parent list.
	reflections []schemas.Reflection
	nextID      schemas.NodeID
	version     uint64
	mu          sync.RWMutex
	log         *zap.Logger
	now         func() time.Time
}

// NewGraph creates an empty graph.
func NewGraph(logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		nodes:    make(map[schemas.NodeID]schemas.Node),
		children: make(map[schemas.NodeID][]schemas.NodeID),
		nextID:   1,
		log:      logger.Named("ideagraph"),
		now:      time.Now,
	}
}

// AddNodes inserts a batch of drafts. Either every draft is inserted or none is.
func (g *Graph) AddNodes(drafts []Draft) ([]schemas.Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, d := range drafts {
		if err := g.validateDraft(d.Node); err != nil {
			return nil, fmt.Errorf("draft %d: %w", i, err)
		}
	}

	now := g.now()
	added := make([]schemas.Node, 0, len(drafts))
	for _, d := range drafts {
		n := d.Node.Clone()
		n.ID = g.nextID
		g.nextID++
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		n.Level = nearestLevel(n.ParentIDs, func(pid schemas.NodeID) int { return g.nodes[pid].Level })
		n.Step, _ = n.Type.Step()
		if len(n.ParentIDs) == 0 {
			n.ParentIDs = nil
		}

		g.insertLocked(n)
		if content := strings.TrimSpace(d.Reflection); content != "" {
			g.reflections = append(g.reflections, schemas.Reflection{
				ID:        uuid.NewString(),
				NodeID:    n.ID,
				Topic:     n.Text,
				Content:   content,
				Timestamp: now,
			})
		}
		added = append(added, n.Clone())
		g.log.Debug("Node added",
			zap.Int64("id", int64(n.ID)),
			zap.String("type", string(n.Type)),
			zap.Any("parents", n.ParentIDs))
	}
	g.version++
	return added, nil
}

// validateDraft assumes the caller holds the write lock.
func (g *Graph) validateDraft(n schemas.Node) error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown type '%s'", ErrInvalidNode, n.Type)
	}
	if strings.TrimSpace(n.Text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidNode)
	}
	seen := make(map[schemas.NodeID]struct{}, len(n.ParentIDs))
	for _, pid := range n.ParentIDs {
		if _, ok := g.nodes[pid]; !ok {
			return fmt.Errorf("%w: parent with id '%d'", ErrNodeNotFound, pid)
		}
		if _, dup := seen[pid]; dup {
			return fmt.Errorf("%w: duplicate parent '%d'", ErrInvalidNode, pid)
		}
		seen[pid] = struct{}{}
	}
	return nil
}

// insertLocked assumes the caller holds the write lock.
func (g *Graph) insertLocked(n schemas.Node) {
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	for _, pid := range n.ParentIDs {
		g.children[pid] = append(g.children[pid], n.ID)
	}
}

// DeleteNode removes the node, every transitive child and the reflections
// they own. It returns the removed ids in visit order.
func (g *Graph) DeleteNode(id schemas.NodeID) ([]schemas.NodeID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: id '%d'", ErrNodeNotFound, id)
	}

	var removed []schemas.NodeID
	visited := map[schemas.NodeID]struct{}{id: {}}
	stack := []schemas.NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		removed = append(removed, cur)

		kids := g.children[cur]
		// Push in reverse so the first child is visited first.
		for i := len(kids) - 1; i >= 0; i-- {
			if _, seen := visited[kids[i]]; seen {
				continue
			}
			visited[kids[i]] = struct{}{}
			stack = append(stack, kids[i])
		}
	}

	for _, rid := range removed {
		n := g.nodes[rid]
		for _, pid := range n.ParentIDs {
			if _, gone := visited[pid]; gone {
				continue
			}
			g.children[pid] = removeID(g.children[pid], rid)
			if len(g.children[pid]) == 0 {
				delete(g.children, pid)
			}
		}
		delete(g.children, rid)
		delete(g.nodes, rid)
	}

	order := g.order[:0]
	for _, oid := range g.order {
		if _, gone := visited[oid]; !gone {
			order = append(order, oid)
		}
	}
	g.order = order

	kept := g.reflections[:0]
	dropped := 0
	for _, r := range g.reflections {
		if _, gone := visited[r.NodeID]; gone {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	g.reflections = kept
	g.version++

	g.log.Debug("Node deleted",
		zap.Int64("id", int64(id)),
		zap.Int("cascade_size", len(removed)),
		zap.Int("reflections_removed", dropped))
	return removed, nil
}

func removeID(ids []schemas.NodeID, target schemas.NodeID) []schemas.NodeID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// UpdateContent replaces text and keyword. Type, step, category and
// relationships are left alone.
func (g *Graph) UpdateContent(id schemas.NodeID, text, keyword string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidNode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id '%d'", ErrNodeNotFound, id)
	}
	n.Text = text
	n.Keyword = keyword
	g.nodes[id] = n
	return nil
}

// SetPosition stores coordinates and raises the flag named by mark.
// Flags are never cleared here.
func (g *Graph) SetPosition(id schemas.NodeID, x, y float64, mark PositionMark) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id '%d'", ErrNodeNotFound, id)
	}
	n.X, n.Y = x, y
	switch mark {
	case PositionManual:
		n.ManuallyPositioned = true
	case PositionStructure:
		n.StructurePositioned = true
	}
	g.nodes[id] = n
	g.version++
	return nil
}

// Node returns a copy of the node.
func (g *Graph) Node(id schemas.NodeID) (schemas.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return schemas.Node{}, false
	}
	return n.Clone(), true
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []schemas.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]schemas.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// Children returns every node listing id anywhere in its parent list, in
// insertion order.
func (g *Graph) Children(id schemas.NodeID) []schemas.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.children[id]
	out := make([]schemas.Node, 0, len(ids))
	for _, cid := range ids {
		out = append(out, g.nodes[cid].Clone())
	}
	return out
}

// PrimaryChildren returns the nodes whose first parent is id.
func (g *Graph) PrimaryChildren(id schemas.NodeID) []schemas.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []schemas.Node
	for _, cid := range g.children[id] {
		n := g.nodes[cid]
		if pid, _ := n.ParentID(); pid == id {
			out = append(out, n.Clone())
		}
	}
	return out
}

// HasChildren reports whether any node lists id as a parent.
func (g *Graph) HasChildren(id schemas.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.children[id]) > 0
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Version changes on every mutation that can move a default layout position.
func (g *Graph) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// -- Reflections --

// AddReflection attaches a note to an existing node.
func (g *Graph) AddReflection(nodeID schemas.NodeID, content string) (schemas.Reflection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return schemas.Reflection{}, fmt.Errorf("%w: id '%d'", ErrNodeNotFound, nodeID)
	}
	r := schemas.Reflection{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		Topic:     n.Text,
		Content:   content,
		Timestamp: g.now(),
	}
	g.reflections = append(g.reflections, r)
	return r, nil
}

// DeleteReflection removes one reflection by id.
func (g *Graph) DeleteReflection(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, r := range g.reflections {
		if r.ID == id {
			g.reflections = append(g.reflections[:i], g.reflections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: id '%s'", ErrReflectionNotFound, id)
}

// Reflections returns every reflection in creation order.
func (g *Graph) Reflections() []schemas.Reflection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]schemas.Reflection(nil), g.reflections...)
}

// ReflectionsFor returns the reflections owned by one node.
func (g *Graph) ReflectionsFor(nodeID schemas.NodeID) []schemas.Reflection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []schemas.Reflection
	for _, r := range g.reflections {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// HasReflection reports whether the node owns at least one reflection.
func (g *Graph) HasReflection(nodeID schemas.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, r := range g.reflections {
		if r.NodeID == nodeID {
			return true
		}
	}
	return false
}

// -- Restore --

// Restore replaces the graph contents with previously persisted records.
// Node ids, parent references and acyclicity are validated first; on error
// the graph is left untouched. Persisted step and level are not trusted and
// are derived again from type and parents.
func (g *Graph) Restore(nodes []schemas.Node, reflections []schemas.Reflection) error {
	index := make(map[schemas.NodeID]schemas.Node, len(nodes))
	var maxID schemas.NodeID
	for _, n := range nodes {
		if n.ID <= 0 {
			return fmt.Errorf("%w: non-positive id '%d'", ErrInvalidNode, n.ID)
		}
		if _, dup := index[n.ID]; dup {
			return fmt.Errorf("%w: duplicate id '%d'", ErrInvalidNode, n.ID)
		}
		if !n.Type.Valid() {
			return fmt.Errorf("%w: node '%d' has unknown type '%s'", ErrInvalidNode, n.ID, n.Type)
		}
		index[n.ID] = n
		if n.ID > maxID {
			maxID = n.ID
		}
	}
	for _, n := range nodes {
		for _, pid := range n.ParentIDs {
			if _, ok := index[pid]; !ok {
				return fmt.Errorf("%w: node '%d' references missing parent '%d'", ErrInvalidNode, n.ID, pid)
			}
		}
	}
	if err := checkAcyclic(nodes, index); err != nil {
		return err
	}
	for _, r := range reflections {
		if _, ok := index[r.NodeID]; !ok {
			return fmt.Errorf("%w: reflection '%s' owned by missing node '%d'", ErrInvalidNode, r.ID, r.NodeID)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[schemas.NodeID]schemas.Node, len(nodes))
	g.children = make(map[schemas.NodeID][]schemas.NodeID)
	g.order = nil
	for _, n := range normalizeRestored(nodes, index) {
		g.insertLocked(n)
	}
	g.reflections = append([]schemas.Reflection(nil), reflections...)
	g.nextID = maxID + 1
	g.version++
	return nil
}

// nearestLevel is one below the shallowest parent, or zero for a root.
func nearestLevel(parents []schemas.NodeID, levelOf func(schemas.NodeID) int) int {
	if len(parents) == 0 {
		return 0
	}
	level := levelOf(parents[0])
	for _, pid := range parents[1:] {
		if l := levelOf(pid); l < level {
			level = l
		}
	}
	return level + 1
}

// normalizeRestored clones the nodes with step and level recomputed. The
// parent graph must already be known to be acyclic.
func normalizeRestored(nodes []schemas.Node, index map[schemas.NodeID]schemas.Node) []schemas.Node {
	levels := make(map[schemas.NodeID]int, len(nodes))
	var levelOf func(id schemas.NodeID) int
	levelOf = func(id schemas.NodeID) int {
		if l, ok := levels[id]; ok {
			return l
		}
		l := nearestLevel(index[id].ParentIDs, levelOf)
		levels[id] = l
		return l
	}

	out := make([]schemas.Node, 0, len(nodes))
	for _, n := range nodes {
		c := n.Clone()
		c.Step, _ = c.Type.Step()
		c.Level = levelOf(c.ID)
		if len(c.ParentIDs) == 0 {
			c.ParentIDs = nil
		}
		out = append(out, c)
	}
	return out
}

// checkAcyclic runs an iterative three-colour walk along parent edges.
func checkAcyclic(nodes []schemas.Node, index map[schemas.NodeID]schemas.Node) error {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[schemas.NodeID]int, len(nodes))
	type frame struct {
		id   schemas.NodeID
		next int
	}
	for _, start := range nodes {
		if colour[start.ID] != white {
			continue
		}
		stack := []frame{{id: start.ID}}
		colour[start.ID] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			parents := index[top.id].ParentIDs
			if top.next >= len(parents) {
				colour[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			pid := parents[top.next]
			top.next++
			switch colour[pid] {
			case grey:
				return fmt.Errorf("%w: parent cycle through node '%d'", ErrInvalidNode, pid)
			case white:
				colour[pid] = grey
				stack = append(stack, frame{id: pid})
			}
		}
	}
	return nil
}
