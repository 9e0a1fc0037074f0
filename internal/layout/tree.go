// internal/layout/tree.go
package layout

import (
	"sync"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

// NodeSource is the read side of the node store the layout works from.
type NodeSource interface {
	Nodes() []schemas.Node
	Version() uint64
}

// TreeLayout resolves default exploration positions. Results are cached per
// store version.
type TreeLayout struct {
	cfg config.LayoutConfig

	mu      sync.Mutex
	valid   bool
	version uint64
	cache   map[schemas.NodeID]Point
}

// NewTreeLayout creates a layout with the given geometry.
func NewTreeLayout(cfg config.LayoutConfig) *TreeLayout {
	return &TreeLayout{cfg: cfg}
}

// Origin is where a new topic node is placed.
func (t *TreeLayout) Origin() Point {
	return Point{X: t.cfg.OriginX, Y: t.cfg.OriginY}
}

// Spacing returns the lateral distance between siblings of the given type.
func (t *TreeLayout) Spacing(nodeType schemas.NodeType) float64 {
	switch nodeType {
	case schemas.NodeTypeMain:
		return t.cfg.MainSpacing
	case schemas.NodeTypeSub:
		return t.cfg.SubSpacing
	case schemas.NodeTypeInsight:
		return t.cfg.InsightSpacing
	case schemas.NodeTypeOpportunity:
		return t.cfg.OpportunitySpacing
	default:
		return 0
	}
}

// Position returns the resolved position of one node.
func (t *TreeLayout) Position(src NodeSource, id schemas.NodeID) (Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshLocked(src)
	p, ok := t.cache[id]
	return p, ok
}

// Positions returns a copy of every resolved position.
func (t *TreeLayout) Positions(src NodeSource) map[schemas.NodeID]Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshLocked(src)
	out := make(map[schemas.NodeID]Point, len(t.cache))
	for id, p := range t.cache {
		out[id] = p
	}
	return out
}

// Invalidate drops the cache regardless of the store version.
func (t *TreeLayout) Invalidate() {
	t.mu.Lock()
	t.valid = false
	t.mu.Unlock()
}

func (t *TreeLayout) refreshLocked(src NodeSource) {
	v := src.Version()
	if t.valid && t.version == v {
		return
	}
	t.cache = t.compute(src.Nodes())
	t.version = v
	t.valid = true
}

// compute walks each node up its primary-parent chain until it reaches a
// resolved or anchored node, then resolves the chain top down.
func (t *TreeLayout) compute(nodes []schemas.Node) map[schemas.NodeID]Point {
	index := make(map[schemas.NodeID]schemas.Node, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n
	}

	siblings := make(map[schemas.NodeID]int)
	slot := make(map[schemas.NodeID]int, len(nodes))
	for _, n := range nodes {
		if pid, ok := n.ParentID(); ok {
			if _, known := index[pid]; known {
				slot[n.ID] = siblings[pid]
				siblings[pid]++
			}
		}
	}

	pos := make(map[schemas.NodeID]Point, len(nodes))
	var chain []schemas.NodeID
	for _, n := range nodes {
		chain = chain[:0]
		cur := n.ID
		for {
			if _, done := pos[cur]; done {
				break
			}
			node := index[cur]
			pid, hasParent := node.ParentID()
			_, parentKnown := index[pid]
			if !hasParent || !parentKnown || node.ManuallyPositioned {
				pos[cur] = Point{X: node.X, Y: node.Y}
				break
			}
			chain = append(chain, cur)
			cur = pid
		}

		for i := len(chain) - 1; i >= 0; i-- {
			node := index[chain[i]]
			pid, _ := node.ParentID()
			k := float64(siblings[pid])
			offset := (float64(slot[node.ID]) - (k-1)/2) * t.Spacing(node.Type)
			pos[node.ID] = pos[pid].Add(Point{X: offset, Y: t.cfg.VerticalOffset})
		}
	}
	return pos
}
