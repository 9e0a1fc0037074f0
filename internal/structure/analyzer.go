// internal/structure/analyzer.go
package structure

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/llmutil"
	"github.com/xkilldash9x/ideagraph/internal/pipeline"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	minScore = 1.0
	maxScore = 10.0
)

// NodeSummary is what the service sees of one selected node.
type NodeSummary struct {
	ID            schemas.NodeID  `json:"id"`
	Text          string          `json:"text"`
	ParentID      *schemas.NodeID `json:"parentId"`
	Level         int             `json:"level"`
	HasReflection bool            `json:"hasReflection"`
}

// assessmentEntry is one element of the response "analysis" array.
type assessmentEntry struct {
	NodeID            schemas.NodeID `json:"nodeId"`
	Impact            float64        `json:"impact"`
	Feasibility       float64        `json:"feasibility"`
	Category          string         `json:"category"`
	Analysis          string         `json:"analysis"`
	RecommendedAction string         `json:"recommendedAction"`
	Reflection        string         `json:"reflection"`
}

type analysisResponse struct {
	Analysis      *[]assessmentEntry    `json:"analysis"`
	MainThemes    []string              `json:"mainThemes"`
	Relationships []jsoniter.RawMessage `json:"relationships"`
}

// Outcome is the applied result of one analysis run.
type Outcome struct {
	Result schemas.StructureAnalysisResult
	// Missing lists submitted nodes the response did not score.
	Missing []schemas.NodeID
	// Rejected counts entries dropped for unknown ids or out-of-range scores.
	Rejected int
}

// Analyzer classifies a node selection onto the impact/feasibility matrix.
type Analyzer struct {
	logger    *zap.Logger
	llmClient schemas.LLMClient
	cfg       config.EngineConfig
}

// NewAnalyzer initializes a new structure analysis service.
func NewAnalyzer(logger *zap.Logger, llmClient schemas.LLMClient, cfg config.EngineConfig) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		logger:    logger.Named("structure-analyzer"),
		llmClient: llmClient,
		cfg:       cfg,
	}
}

// Analyze scores the selected nodes and applies the result to the session.
// On failure the session is left untouched.
func (a *Analyzer) Analyze(ctx context.Context, sess *session.Session, ids []schemas.NodeID) (*Outcome, error) {
	const op = "analyze structure"
	if len(ids) == 0 {
		return nil, pipeline.NewOperationError(op, 0, pipeline.ErrEmptySelection)
	}

	// 1. Summarize the selection.
	summaries, err := a.summarize(sess, ids)
	if err != nil {
		return nil, pipeline.NewOperationError(op, 0, err)
	}
	a.logger.Info("Starting structure analysis", zap.Int("nodes", len(summaries)))

	// 2. Construct prompt.
	prompt, err := a.constructPrompt(sess.DesignTopic(), summaries)
	if err != nil {
		return nil, pipeline.NewOperationError(op, 0, fmt.Errorf("failed to construct analysis prompt: %w", err))
	}

	// 3. Query the LLM.
	if a.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.AnalysisTimeout)
		defer cancel()
	}
	response, err := a.llmClient.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: a.getSystemPrompt(),
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			ForceJSONFormat: true,
			Temperature:     a.cfg.AnalysisTemperature,
		},
	})
	if err != nil {
		a.logger.Error("Structure analysis call failed", zap.Error(err))
		return nil, pipeline.NewOperationError(op, 0, fmt.Errorf("%w: %w", pipeline.ErrService, err))
	}

	// 4. Parse and validate.
	outcome, reflections, err := a.parseLLMResponse(response, summaries)
	if err != nil {
		a.logger.Error("Failed to parse structure analysis response.", zap.Error(err), zap.String("raw_response", response))
		return nil, pipeline.NewOperationError(op, 0, err)
	}

	// 5. Apply.
	sess.ApplyStructureAnalysis(outcome.Result, reflections)
	if applied := sess.Analysis(); applied != nil {
		outcome.Result = *applied
	}

	a.logger.Info("Structure analysis complete.",
		zap.Int("scored", len(outcome.Result.Assessments)),
		zap.Int("missing", len(outcome.Missing)),
		zap.Int("rejected", outcome.Rejected))
	return outcome, nil
}

func (a *Analyzer) summarize(sess *session.Session, ids []schemas.NodeID) ([]NodeSummary, error) {
	seen := make(map[schemas.NodeID]bool, len(ids))
	out := make([]NodeSummary, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		n, ok := sess.Node(id)
		if !ok {
			return nil, fmt.Errorf("%w: id '%d'", pipeline.ErrNodeNotFound, id)
		}
		s := NodeSummary{
			ID:            n.ID,
			Text:          n.Text,
			Level:         n.Level,
			HasReflection: sess.Graph().HasReflection(n.ID),
		}
		if pid, ok := n.ParentID(); ok {
			s.ParentID = &pid
		}
		out = append(out, s)
	}
	return out, nil
}

func (a *Analyzer) getSystemPrompt() string {
	return `You are a senior design strategist. Your task is to evaluate a set of design ideas for their potential impact and their feasibility, so the designer can prioritize them on an impact/feasibility matrix. Score honestly, reuse the exact node ids you are given, and provide your response in the required JSON format.`
}

// constructPrompt builds the analysis prompt.
func (a *Analyzer) constructPrompt(topic string, summaries []NodeSummary) (string, error) {
	nodesJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`
Evaluate the following design ideas.

**Objective:**
1.  Score each idea's impact from 1 (negligible) to 10 (transformative).
2.  Score each idea's feasibility from 1 (very hard) to 10 (easy to do now).
3.  Classify each idea (e.g., 'Quick Win', 'Major Project', 'Fill-In', 'Thankless Task').
4.  Recommend one next action for each idea.
5.  Name the main themes across the ideas and any notable relationships between them.

**Design Topic:**
%s

**Ideas:**
%s

**Response Format (Strict JSON):**
{
  "analysis": [
    {
      "nodeId": 12,
      "impact": 8,
      "feasibility": 6,
      "category": "Quick Win",
      "analysis": "Why this idea scores the way it does.",
      "recommendedAction": "The next concrete step.",
      "reflection": "Optional question for the designer."
    }
  ],
  "mainThemes": ["Theme"],
  "relationships": ["Idea 12 enables idea 15"]
}
`, topic, string(nodesJSON)), nil
}

// parseLLMResponse extracts the assessments. Entries for ids outside the
// selection or with scores outside [1,10] are dropped.
func (a *Analyzer) parseLLMResponse(response string, summaries []NodeSummary) (*Outcome, []session.StructureReflection, error) {
	parsed, err := llmutil.ParseJSONResponse[analysisResponse](response)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", pipeline.ErrMalformedResponse, err)
	}
	if parsed.Analysis == nil {
		return nil, nil, fmt.Errorf("%w: response is missing the 'analysis' array", pipeline.ErrMalformedResponse)
	}

	submitted := make(map[schemas.NodeID]bool, len(summaries))
	for _, s := range summaries {
		submitted[s.ID] = true
	}

	outcome := &Outcome{Result: schemas.StructureAnalysisResult{
		Assessments:   []schemas.NodeAssessment{},
		MainThemes:    cleanStrings(parsed.MainThemes),
		Relationships: relationshipStrings(parsed.Relationships),
	}}
	var reflections []session.StructureReflection
	scored := make(map[schemas.NodeID]bool, len(summaries))

	for _, e := range *parsed.Analysis {
		fields := []zap.Field{zap.Int64("node_id", int64(e.NodeID)), zap.Float64("impact", e.Impact), zap.Float64("feasibility", e.Feasibility)}
		switch {
		case !submitted[e.NodeID]:
			a.logger.Warn("Ignoring assessment for a node outside the selection", fields...)
			outcome.Rejected++
			continue
		case scored[e.NodeID]:
			a.logger.Debug("Ignoring repeated assessment", fields...)
			continue
		case !inRange(e.Impact) || !inRange(e.Feasibility):
			a.logger.Warn("Dropping assessment with out-of-range scores", fields...)
			outcome.Rejected++
			continue
		}
		scored[e.NodeID] = true
		outcome.Result.Assessments = append(outcome.Result.Assessments, schemas.NodeAssessment{
			NodeID:            e.NodeID,
			Impact:            e.Impact,
			Feasibility:       e.Feasibility,
			Category:          strings.TrimSpace(e.Category),
			Analysis:          strings.TrimSpace(e.Analysis),
			RecommendedAction: strings.TrimSpace(e.RecommendedAction),
		})
		if r := strings.TrimSpace(e.Reflection); r != "" {
			reflections = append(reflections, session.StructureReflection{NodeID: e.NodeID, Content: r})
		}
	}

	for _, s := range summaries {
		if !scored[s.ID] {
			outcome.Missing = append(outcome.Missing, s.ID)
		}
	}
	if len(outcome.Missing) > 0 {
		a.logger.Warn("Some selected nodes were not scored", zap.Any("node_ids", outcome.Missing))
	}
	return outcome, reflections, nil
}

func inRange(v float64) bool {
	return v >= minScore && v <= maxScore
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// relationshipStrings accepts plain strings and falls back to the compact
// JSON text for structured entries.
func relationshipStrings(raw []jsoniter.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		if text := strings.TrimSpace(string(r)); text != "" && text != "null" {
			out = append(out, text)
		}
	}
	return out
}
