// internal/pipeline/prompts.go
package pipeline

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

const systemPrompt = `You are a design thinking facilitator. You help a designer explore a design topic by proposing concise, concrete ideas that build on the ideas already on the board. Every idea has a short text (one or two sentences) and a one or two word keyword. Always answer with a single JSON object in the required format and nothing else.`

// stepGuidance describes what a child of each type should contribute.
var stepGuidance = map[schemas.NodeType]string{
	schemas.NodeTypeMain:        "Break the topic down into its four fundamental aspects, one per category.",
	schemas.NodeTypeSub:         "Propose concrete sub-aspects that make the parent idea more specific.",
	schemas.NodeTypeInsight:     "Derive insights: non-obvious observations about needs, tensions or root causes behind the parent idea.",
	schemas.NodeTypeOpportunity: "Turn the parent insight into design opportunities: actionable 'How might we' directions.",
}

var categoryGuidance = map[schemas.Category]string{
	schemas.CategoryContext: "the environment and circumstances the design lives in",
	schemas.CategoryUser:    "the people involved and their needs",
	schemas.CategoryTask:    "the activities and workflows to support",
	schemas.CategoryGoal:    "the outcomes the design should achieve",
}

// ancestry returns the primary-parent chain of n, root first, n last.
func ancestry(lookup func(schemas.NodeID) (schemas.Node, bool), n schemas.Node) []schemas.Node {
	chain := []schemas.Node{n}
	seen := map[schemas.NodeID]bool{n.ID: true}
	cur := n
	for {
		pid, ok := cur.ParentID()
		if !ok || seen[pid] {
			break
		}
		p, ok := lookup(pid)
		if !ok {
			break
		}
		seen[pid] = true
		chain = append(chain, p)
		cur = p
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func describeChain(chain []schemas.Node) string {
	var b strings.Builder
	for i, n := range chain {
		fmt.Fprintf(&b, "%s- [%s", strings.Repeat("  ", i), n.Type)
		if n.Category != "" {
			fmt.Fprintf(&b, "/%s", n.Category)
		}
		fmt.Fprintf(&b, "] %s\n", n.Text)
	}
	return b.String()
}

func describeSiblings(siblings []schemas.Node) string {
	if len(siblings) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, n := range siblings {
		fmt.Fprintf(&b, "- %s\n", n.Text)
	}
	return b.String()
}

func itemExample(withCategory bool) string {
	if withCategory {
		return `{"text": "One or two sentences.", "keyword": "Keyword", "category": "Context", "reflection": "Optional question for the designer."}`
	}
	return `{"text": "One or two sentences.", "keyword": "Keyword", "reflection": "Optional question for the designer."}`
}

// buildExpandPrompt asks for the children of parent. chain is the parent's
// ancestry including the parent itself.
func buildExpandPrompt(topic string, chain []schemas.Node, child schemas.NodeType, maxChildren int) string {
	if child == schemas.NodeTypeMain {
		var cats strings.Builder
		for _, c := range schemas.MainCategories {
			fmt.Fprintf(&cats, "- %s: %s\n", c, categoryGuidance[c])
		}
		return fmt.Sprintf(`
Expand the design topic into its main aspects.

**Design Topic:**
%s

**Objective:**
%s
Produce exactly %d nodes, one for each category below, in this order:
%s
**Response Format (Strict JSON):**
{
  "nodes": [
    %s
  ]
}
`, topic, stepGuidance[child], len(schemas.MainCategories), cats.String(), itemExample(true))
	}

	return fmt.Sprintf(`
Expand the selected idea.

**Design Topic:**
%s

**Idea Path (root first):**
%s
**Objective:**
%s
Produce between 1 and %d %s nodes that build directly on the last idea in the path.

**Response Format (Strict JSON):**
{
  "%s": [
    %s
  ]
}
`, topic, describeChain(chain), stepGuidance[child], maxChildren, child, responseKey(child), itemExample(false))
}

// buildSelectionPrompt describes the selected nodes and asks which
// expansions to run.
func buildSelectionPrompt(topic string, selected []schemas.Node) string {
	var b strings.Builder
	for _, n := range selected {
		fmt.Fprintf(&b, "- id=%d type=%s step=%d", n.ID, n.Type, n.Step)
		if n.Category != "" {
			fmt.Fprintf(&b, " category=%s", n.Category)
		}
		fmt.Fprintf(&b, " text=%q\n", n.Text)
	}

	return fmt.Sprintf(`
The designer selected several ideas and wants new ideas that combine them.

**Design Topic:**
%s

**Selected Ideas:**
%s
**Objective:**
Decide which selected ideas should be expanded next. For each decision name the target idea id and the node type to generate under it. A node type must be the next step of the target (topic->main, main->sub, sub->insight, insight->opportunity).

**Response Format (Strict JSON):**
{
  "decisions": [
    {"targetNodeId": 1, "nodeType": "sub", "reason": "Short justification."}
  ]
}
`, topic, b.String())
}

// buildRegeneratePrompt asks for a replacement of the last node in chain.
func buildRegeneratePrompt(topic string, chain []schemas.Node, siblings []schemas.Node) string {
	target := chain[len(chain)-1]
	return fmt.Sprintf(`
Rewrite one idea so it offers a fresh perspective while keeping its role in the map.

**Design Topic:**
%s

**Idea Path (root first, the last one is rewritten):**
%s
**Sibling Ideas (avoid repeating them):**
%s
**Objective:**
Write a new %s idea that replaces "%s".

**Response Format (Strict JSON):**
{"text": "One or two sentences.", "keyword": "Keyword"}
`, topic, describeChain(chain), describeSiblings(siblings), target.Type, target.Text)
}
