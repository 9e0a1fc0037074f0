// Package creativity scores an idea graph and keeps the score history of a session.
package creativity

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xkilldash9x/ideagraph/api/schemas"
)

const (
	fluencySaturation = 100.0
	lengthSaturation  = 100.0
	scoredTypeCount   = 4.0
	weightFluency     = 0.25
	weightFlexibility = 0.25
	weightOriginality = 0.30
	weightElaboration = 0.20
	penaltyDependency = 0.20
)

var scoredTypes = map[schemas.NodeType]struct{}{
	schemas.NodeTypeMain:        {},
	schemas.NodeTypeSub:         {},
	schemas.NodeTypeInsight:     {},
	schemas.NodeTypeOpportunity: {},
}

// Compute derives a snapshot from the node set. It is pure apart from the
// timestamp, and an empty set yields all-zero scores.
func Compute(nodes []schemas.Node) schemas.MetricsSnapshot {
	snap := schemas.MetricsSnapshot{NodeCount: len(nodes), Timestamp: time.Now()}
	if len(nodes) == 0 {
		return snap
	}
	n := float64(len(nodes))

	types := make(map[schemas.NodeType]struct{})
	var withParent, generated, totalRunes int
	for _, node := range nodes {
		if _, ok := scoredTypes[node.Type]; ok {
			types[node.Type] = struct{}{}
		}
		if !node.IsRoot() {
			withParent++
		}
		if !node.ManuallyCreated {
			generated++
		}
		totalRunes += utf8.RuneCountInString(node.Text)
	}

	snap.Fluency = clamp(n / fluencySaturation)
	snap.Flexibility = clamp(float64(len(types)) / scoredTypeCount)
	snap.Originality = clamp(1 - meanPairwiseSimilarity(nodes))

	density := float64(withParent) / n
	lengthScore := clamp(float64(totalRunes) / n / lengthSaturation)
	snap.Elaboration = clamp(0.5*density + 0.5*lengthScore)

	snap.Dependency = clamp(float64(generated) / n)
	snap.Creativity = clamp(weightFluency*snap.Fluency +
		weightFlexibility*snap.Flexibility +
		weightOriginality*snap.Originality +
		weightElaboration*snap.Elaboration -
		penaltyDependency*snap.Dependency)
	return snap
}

// meanPairwiseSimilarity averages Jaccard similarity over all unordered pairs.
func meanPairwiseSimilarity(nodes []schemas.Node) float64 {
	if len(nodes) < 2 {
		return 0
	}
	sets := make([]map[string]struct{}, len(nodes))
	for i, node := range nodes {
		sets[i] = wordSet(node.Text)
	}
	var sum float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sum += Jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// TextSimilarity is Jaccard over the lower-cased word sets of two texts.
func TextSimilarity(a, b string) float64 {
	return Jaccard(wordSet(a), wordSet(b))
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
