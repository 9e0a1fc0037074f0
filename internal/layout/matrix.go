// internal/layout/matrix.go
package layout

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
)

const (
	minScore = 1.0
	maxScore = 10.0
)

// Matrix maps impact and feasibility scores onto the structure canvas.
// Feasibility runs along X, impact along Y with high impact at the top.
type Matrix struct {
	cfg config.LayoutConfig
}

// NewMatrix creates a matrix for the configured canvas.
func NewMatrix(cfg config.LayoutConfig) Matrix {
	return Matrix{cfg: cfg}
}

// Bounds returns the top-left and bottom-right corners of the plottable area.
func (m Matrix) Bounds() (Point, Point) {
	return Point{X: m.cfg.Margin, Y: m.cfg.Margin},
		Point{X: m.cfg.CanvasWidth - m.cfg.Margin, Y: m.cfg.CanvasHeight - m.cfg.Margin}
}

// ScorePosition converts an assessment into canvas coordinates.
func (m Matrix) ScorePosition(a schemas.NodeAssessment) Point {
	lo, hi := m.Bounds()
	fx := (clampFloat(a.Feasibility, minScore, maxScore) - minScore) / (maxScore - minScore)
	fy := (clampFloat(a.Impact, minScore, maxScore) - minScore) / (maxScore - minScore)
	return Point{
		X: lo.X + fx*(hi.X-lo.X),
		Y: hi.Y - fy*(hi.Y-lo.Y),
	}
}

// Position resolves a node in structure mode: a grid override wins, then a
// stored structure position, then the analysis score. Nodes with none of
// these have no position.
func (m Matrix) Position(n schemas.Node, grid *GridState, analysis *schemas.StructureAnalysisResult) (Point, bool) {
	if gp, ok := grid.Get(n.ID); ok {
		return Point{X: gp.X, Y: gp.Y}, true
	}
	if n.StructurePositioned {
		return Point{X: n.X, Y: n.Y}, true
	}
	if a, ok := analysis.Assessment(n.ID); ok {
		return m.ScorePosition(a), true
	}
	return Point{}, false
}

// Priority derives the tier from the vertical third of the canvas a point falls in.
func (m Matrix) Priority(y float64) schemas.Priority {
	third := m.cfg.CanvasHeight / 3
	switch {
	case y < third:
		return schemas.PriorityHigh
	case y < 2*third:
		return schemas.PriorityMedium
	default:
		return schemas.PriorityLow
	}
}

// GridState records structure-mode drags, keyed by node id.
type GridState struct {
	mu        sync.RWMutex
	positions map[schemas.NodeID]schemas.GridPosition
}

// NewGridState creates a grid pre-filled with persisted positions.
func NewGridState(positions []schemas.GridPosition) *GridState {
	g := &GridState{positions: make(map[schemas.NodeID]schemas.GridPosition, len(positions))}
	for _, p := range positions {
		g.positions[p.NodeID] = p
	}
	return g
}

// Record stores a drag, clamped to the plottable area, and returns the
// resulting grid entry.
func (g *GridState) Record(m Matrix, id schemas.NodeID, p Point) schemas.GridPosition {
	lo, hi := m.Bounds()
	p = p.Clamp(lo, hi)
	gp := schemas.GridPosition{NodeID: id, X: p.X, Y: p.Y, Priority: m.Priority(p.Y)}

	g.mu.Lock()
	g.positions[id] = gp
	g.mu.Unlock()
	return gp
}

// Get returns the override for a node. A nil grid holds nothing.
func (g *GridState) Get(id schemas.NodeID) (schemas.GridPosition, bool) {
	if g == nil {
		return schemas.GridPosition{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	gp, ok := g.positions[id]
	return gp, ok
}

// Remove drops the overrides of the given nodes.
func (g *GridState) Remove(ids ...schemas.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.positions, id)
	}
}

// Clear drops every override.
func (g *GridState) Clear() {
	g.mu.Lock()
	g.positions = make(map[schemas.NodeID]schemas.GridPosition)
	g.mu.Unlock()
}

// Len returns the number of overrides.
func (g *GridState) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.positions)
}

// Positions returns every override ordered by node id.
func (g *GridState) Positions() []schemas.GridPosition {
	g.mu.RLock()
	out := make([]schemas.GridPosition, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, p)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Link connects two nodes in adjacent priority tiers.
type Link struct {
	From schemas.NodeID
	To   schemas.NodeID
}

func (l Link) String() string {
	return fmt.Sprintf("%d->%d", l.From, l.To)
}

// PriorityLinks lists the high-medium and medium-low pairs among the
// recorded overrides, ordered by tier then node id.
func (g *GridState) PriorityLinks() []Link {
	tiers := map[schemas.Priority][]schemas.NodeID{}
	for _, p := range g.Positions() {
		tiers[p.Priority] = append(tiers[p.Priority], p.NodeID)
	}

	var links []Link
	for _, pair := range [][2]schemas.Priority{
		{schemas.PriorityHigh, schemas.PriorityMedium},
		{schemas.PriorityMedium, schemas.PriorityLow},
	} {
		for _, from := range tiers[pair[0]] {
			for _, to := range tiers[pair[1]] {
				links = append(links, Link{From: from, To: to})
			}
		}
	}
	return links
}
