// internal/structure/analyzer_test.go
package structure

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/ideagraph"
	"github.com/xkilldash9x/ideagraph/internal/mocks"
	"github.com/xkilldash9x/ideagraph/internal/pipeline"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

// -- Test Helpers --

func newSeededSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New("structure-test", config.NewDefaultConfig().Layout(), nil)
	_, err := s.CommitTopic("Hospital patient intake")
	require.NoError(t, err)
	_, err = s.CommitGeneration(session.Commit{
		Guarded: []schemas.NodeID{1},
		Drafts: []ideagraph.Draft{
			{Node: schemas.Node{Text: "Crowded waiting rooms", Type: schemas.NodeTypeMain, Category: schemas.CategoryContext, ParentIDs: []schemas.NodeID{1}}, Reflection: "Measure peak load."},
			{Node: schemas.Node{Text: "Anxious first-time patients", Type: schemas.NodeTypeMain, Category: schemas.CategoryUser, ParentIDs: []schemas.NodeID{1}}},
			{Node: schemas.Node{Text: "Registering symptoms", Type: schemas.NodeTypeMain, Category: schemas.CategoryTask, ParentIDs: []schemas.NodeID{1}}},
		},
	})
	require.NoError(t, err)
	return s
}

func newTestAnalyzer(t *testing.T) (*Analyzer, *mocks.MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	llm := new(mocks.MockLLMClient)
	return NewAnalyzer(zap.New(core), llm, config.NewDefaultConfig().Engine()), llm, logs
}

// -- Test Cases --

func TestAnalyze_OneNodeMissingFromResponse(t *testing.T) {
	analyzer, llm, logs := newTestAnalyzer(t)
	sess := newSeededSession(t)

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful &&
			strings.Contains(req.UserPrompt, "hasReflection") &&
			strings.Contains(req.UserPrompt, "Registering symptoms")
	})).Return("```json\n"+`{
		"analysis": [
			{"nodeId": 2, "impact": 10, "feasibility": 10, "category": "Quick Win", "analysis": "Easy and valuable.", "recommendedAction": "Add seating.", "reflection": "Which hours are worst?"},
			{"nodeId": 4, "impact": 1, "feasibility": 1, "category": "Thankless Task"}
		],
		"mainThemes": ["Waiting", " "],
		"relationships": ["2 drives 4", {"from": 2, "to": 4}]
	}`+"\n```", nil).Once()

	outcome, err := analyzer.Analyze(context.Background(), sess, []schemas.NodeID{2, 3, 4})
	require.NoError(t, err)

	assert.Equal(t, []schemas.NodeID{3}, outcome.Missing)
	assert.Zero(t, outcome.Rejected)
	require.Len(t, outcome.Result.Assessments, 2)
	assert.Equal(t, []string{"Waiting"}, outcome.Result.MainThemes)
	require.Len(t, outcome.Result.Relationships, 2)
	assert.Equal(t, "2 drives 4", outcome.Result.Relationships[0])
	assert.Contains(t, outcome.Result.Relationships[1], `"from"`)
	assert.False(t, outcome.Result.AnalyzedAt.IsZero())

	assert.Equal(t, schemas.LayoutStructure, sess.Mode())

	p, ok := sess.Position(2)
	require.True(t, ok)
	assert.Equal(t, 1120.0, p.X)
	assert.Equal(t, 80.0, p.Y)

	p, ok = sess.Position(4)
	require.True(t, ok)
	assert.Equal(t, 80.0, p.X)
	assert.Equal(t, 720.0, p.Y)

	_, ok = sess.Position(3)
	assert.False(t, ok, "an unscored node has no plottable position")

	reflections := sess.StructureReflections()
	require.Len(t, reflections, 1)
	assert.Equal(t, schemas.NodeID(2), reflections[0].NodeID)
	assert.Equal(t, "Which hours are worst?", reflections[0].Content)
	assert.Len(t, sess.Graph().Reflections(), 1, "graph reflections are separate")

	assert.Equal(t, 1, logs.FilterMessage("Some selected nodes were not scored").Len())
}

func TestAnalyze_DropsInvalidEntries(t *testing.T) {
	analyzer, llm, logs := newTestAnalyzer(t)
	sess := newSeededSession(t)

	llm.On("Generate", mock.Anything, mock.Anything).Return(`{"analysis": [
		{"nodeId": 2, "impact": 11, "feasibility": 5},
		{"nodeId": 3, "impact": 5, "feasibility": 0},
		{"nodeId": 9, "impact": 5, "feasibility": 5},
		{"nodeId": 4, "impact": 6, "feasibility": 7},
		{"nodeId": 4, "impact": 2, "feasibility": 2}
	]}`, nil).Once()

	outcome, err := analyzer.Analyze(context.Background(), sess, []schemas.NodeID{2, 3, 4})
	require.NoError(t, err)
	require.Len(t, outcome.Result.Assessments, 1)
	assert.Equal(t, 6.0, outcome.Result.Assessments[0].Impact)
	assert.Equal(t, 3, outcome.Rejected)
	assert.ElementsMatch(t, []schemas.NodeID{2, 3}, outcome.Missing)
	assert.Equal(t, 2, logs.FilterMessage("Dropping assessment with out-of-range scores").Len())
	assert.Empty(t, outcome.Result.MainThemes)
}

func TestAnalyze_ReplacesPreviousResult(t *testing.T) {
	analyzer, llm, _ := newTestAnalyzer(t)
	sess := newSeededSession(t)

	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"analysis": [{"nodeId": 2, "impact": 5, "feasibility": 5, "reflection": "first"}]}`, nil).Once()
	_, err := analyzer.Analyze(context.Background(), sess, []schemas.NodeID{2})
	require.NoError(t, err)
	_, err = sess.MoveStructure(2, 300, 300)
	require.NoError(t, err)
	require.Equal(t, 1, sess.Grid().Len())

	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"analysis": [{"nodeId": 3, "impact": 7, "feasibility": 3}]}`, nil).Once()
	_, err = analyzer.Analyze(context.Background(), sess, []schemas.NodeID{3})
	require.NoError(t, err)

	result := sess.Analysis()
	require.NotNil(t, result)
	_, ok := result.Assessment(2)
	assert.False(t, ok)
	_, ok = result.Assessment(3)
	assert.True(t, ok)
	assert.Empty(t, sess.StructureReflections())
	assert.Zero(t, sess.Grid().Len(), "grid overrides are cleared by a new analysis")
}

func TestAnalyze_FailuresMutateNothing(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		callErr error
		want    error
	}{
		{name: "ServiceError", callErr: errors.New("status 500"), want: pipeline.ErrService},
		{name: "NotJSON", content: "Sorry, I cannot help.", want: pipeline.ErrMalformedResponse},
		{name: "MissingAnalysis", content: `{"mainThemes": ["x"]}`, want: pipeline.ErrMalformedResponse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			analyzer, llm, _ := newTestAnalyzer(t)
			sess := newSeededSession(t)
			llm.On("Generate", mock.Anything, mock.Anything).Return(tc.content, tc.callErr).Once()

			outcome, err := analyzer.Analyze(context.Background(), sess, []schemas.NodeID{2, 3})
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, sess.Analysis())
			assert.Equal(t, schemas.LayoutExploration, sess.Mode())
		})
	}
}

func TestAnalyze_Preconditions(t *testing.T) {
	analyzer, llm, _ := newTestAnalyzer(t)
	sess := newSeededSession(t)

	_, err := analyzer.Analyze(context.Background(), sess, nil)
	assert.ErrorIs(t, err, pipeline.ErrEmptySelection)

	_, err = analyzer.Analyze(context.Background(), sess, []schemas.NodeID{2, 42})
	assert.ErrorIs(t, err, pipeline.ErrNodeNotFound)
	var opErr *pipeline.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "analyze structure", opErr.Operation)

	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}
