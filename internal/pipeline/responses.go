// internal/pipeline/responses.go
package pipeline

import (
	"strings"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/llmutil"
)

// Item is one generated idea as the service returns it.
type Item struct {
	Text       string `json:"text"`
	Keyword    string `json:"keyword"`
	Category   string `json:"category,omitempty"`
	Reflection string `json:"reflection,omitempty"`
}

// Decision asks for children of one selected node.
type Decision struct {
	TargetNodeID schemas.NodeID   `json:"targetNodeId"`
	NodeType     schemas.NodeType `json:"nodeType"`
	Reason       string           `json:"reason,omitempty"`
}

// -- Response variants --
//
// Each step has its own envelope. Sub, insight and opportunity envelopes
// carry the legacy "ideas" key as a fallback.

type mainResponse struct {
	Nodes []Item `json:"nodes"`
}

type subResponse struct {
	SubNodes []Item `json:"subNodes"`
	Ideas    []Item `json:"ideas"`
}

type insightResponse struct {
	Insights []Item `json:"insights"`
	Ideas    []Item `json:"ideas"`
}

type opportunityResponse struct {
	Opportunities []Item `json:"opportunities"`
	Ideas         []Item `json:"ideas"`
}

type decisionResponse struct {
	Decisions *[]Decision `json:"decisions"`
}

type regenerateResponse struct {
	Text    string `json:"text"`
	Keyword string `json:"keyword"`
}

// ChildBatch is a validated set of children for one parent.
type ChildBatch struct {
	Items []Item
	// Dropped counts items removed by truncation.
	Dropped int
}

// responseKey names the envelope key expected for children of the given type.
func responseKey(child schemas.NodeType) string {
	switch child {
	case schemas.NodeTypeMain:
		return "nodes"
	case schemas.NodeTypeSub:
		return "subNodes"
	case schemas.NodeTypeInsight:
		return "insights"
	case schemas.NodeTypeOpportunity:
		return "opportunities"
	default:
		return ""
	}
}

// parseChildren decodes and validates the envelope for children of type child.
func parseChildren(child schemas.NodeType, content string, maxChildren int) (ChildBatch, error) {
	switch child {
	case schemas.NodeTypeMain:
		r, err := llmutil.ParseJSONResponse[mainResponse](content)
		if err != nil {
			return ChildBatch{}, malformedWrap(err)
		}
		items, err := validateMain(r.Nodes)
		return ChildBatch{Items: items}, err
	case schemas.NodeTypeSub:
		r, err := llmutil.ParseJSONResponse[subResponse](content)
		if err != nil {
			return ChildBatch{}, malformedWrap(err)
		}
		return validateChildren(child, firstNonNil(r.SubNodes, r.Ideas), maxChildren)
	case schemas.NodeTypeInsight:
		r, err := llmutil.ParseJSONResponse[insightResponse](content)
		if err != nil {
			return ChildBatch{}, malformedWrap(err)
		}
		return validateChildren(child, firstNonNil(r.Insights, r.Ideas), maxChildren)
	case schemas.NodeTypeOpportunity:
		r, err := llmutil.ParseJSONResponse[opportunityResponse](content)
		if err != nil {
			return ChildBatch{}, malformedWrap(err)
		}
		return validateChildren(child, firstNonNil(r.Opportunities, r.Ideas), maxChildren)
	default:
		return ChildBatch{}, malformed("no response shape for node type '%s'", child)
	}
}

func firstNonNil(primary, legacy []Item) []Item {
	if primary != nil {
		return primary
	}
	return legacy
}

// validateMain requires exactly one item per category. Items that name a
// category must use an unused, valid one; the rest take the remaining
// categories in request order.
func validateMain(items []Item) ([]Item, error) {
	if len(items) != len(schemas.MainCategories) {
		return nil, malformed("main step requires exactly %d nodes, got %d", len(schemas.MainCategories), len(items))
	}

	out := make([]Item, len(items))
	used := make(map[schemas.Category]bool, len(items))
	for i, it := range items {
		it = normalizeItem(it)
		if it.Text == "" {
			return nil, malformed("main node %d has empty text", i)
		}
		if it.Category != "" {
			c, ok := schemas.ParseCategory(it.Category)
			if !ok {
				return nil, malformed("main node %d has unknown category '%s'", i, it.Category)
			}
			if used[c] {
				return nil, malformed("main node %d repeats category '%s'", i, c)
			}
			used[c] = true
			it.Category = string(c)
		}
		out[i] = it
	}

	remaining := make([]schemas.Category, 0, len(schemas.MainCategories))
	for _, c := range schemas.MainCategories {
		if !used[c] {
			remaining = append(remaining, c)
		}
	}
	for i := range out {
		if out[i].Category == "" {
			out[i].Category = string(remaining[0])
			remaining = remaining[1:]
		}
	}
	return out, nil
}

// validateChildren drops empty items, requires at least one, and truncates
// to maxChildren.
func validateChildren(child schemas.NodeType, items []Item, maxChildren int) (ChildBatch, error) {
	if items == nil {
		return ChildBatch{}, malformed("response is missing the '%s' array", responseKey(child))
	}
	kept := make([]Item, 0, len(items))
	for _, it := range items {
		it = normalizeItem(it)
		if it.Text != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return ChildBatch{}, malformed("response contains no usable '%s' items", responseKey(child))
	}

	batch := ChildBatch{Items: kept}
	if maxChildren > 0 && len(kept) > maxChildren {
		batch.Dropped = len(kept) - maxChildren
		batch.Items = kept[:maxChildren]
	}
	return batch, nil
}

func normalizeItem(it Item) Item {
	it.Text = strings.TrimSpace(it.Text)
	it.Keyword = strings.TrimSpace(it.Keyword)
	it.Category = strings.TrimSpace(it.Category)
	it.Reflection = strings.TrimSpace(it.Reflection)
	return it
}

// parseDecisions decodes the multi-selection envelope. An empty list is
// valid; a missing one is not.
func parseDecisions(content string) ([]Decision, error) {
	r, err := llmutil.ParseJSONResponse[decisionResponse](content)
	if err != nil {
		return nil, malformedWrap(err)
	}
	if r.Decisions == nil {
		return nil, malformed("response is missing the 'decisions' array")
	}
	return *r.Decisions, nil
}

// parseRegeneration decodes the single-node rewrite envelope.
func parseRegeneration(content string) (Item, error) {
	r, err := llmutil.ParseJSONResponse[regenerateResponse](content)
	if err != nil {
		return Item{}, malformedWrap(err)
	}
	it := normalizeItem(Item{Text: r.Text, Keyword: r.Keyword})
	if it.Text == "" {
		return Item{}, malformed("regenerated node has empty text")
	}
	return it, nil
}
