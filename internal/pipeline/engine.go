// internal/pipeline/engine.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/config"
	"github.com/xkilldash9x/ideagraph/internal/ideagraph"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

// Result describes what one generation operation committed.
type Result struct {
	Nodes []schemas.Node
	// Skipped is set when the guard found every target already expanded.
	Skipped bool
	// Dropped counts generated items removed by the child limit.
	Dropped int
}

// Engine drives the staged generation pipeline against a session. Every
// operation plans first and commits once; a failed plan leaves the session
// untouched.
type Engine struct {
	llm    schemas.LLMClient
	cfg    config.EngineConfig
	logger *zap.Logger
	flight singleflight.Group
}

// NewEngine creates a pipeline engine.
func NewEngine(llm schemas.LLMClient, cfg config.EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		llm:    llm,
		cfg:    cfg,
		logger: logger.Named("pipeline"),
	}
}

// CreateTopic creates the root topic and runs the main step. When the main
// step fails the topic stays in place and the error is returned alongside it.
func (e *Engine) CreateTopic(ctx context.Context, sess *session.Session, text string) (schemas.Node, *Result, error) {
	const op = "create topic"
	if strings.TrimSpace(text) == "" {
		return schemas.Node{}, nil, NewOperationError(op, 0, ErrEmptyTopic)
	}

	topic, err := sess.CommitTopic(text)
	if err != nil {
		if errors.Is(err, session.ErrTopicExists) {
			return schemas.Node{}, nil, NewOperationError(op, 0, ErrTopicExists)
		}
		return schemas.Node{}, nil, NewOperationError(op, 0, err)
	}

	res, err := e.expand(ctx, sess, topic, schemas.NodeTypeMain, op)
	if err != nil {
		e.logger.Warn("Main step failed after topic creation", zap.Int64("topic_id", int64(topic.ID)), zap.Error(err))
		return topic, nil, err
	}
	return topic, res, nil
}

// Expand runs the step that follows the parent's type.
func (e *Engine) Expand(ctx context.Context, sess *session.Session, parentID schemas.NodeID) (*Result, error) {
	const op = "expand"
	parent, ok := sess.Node(parentID)
	if !ok {
		return nil, NewOperationError(op, parentID, ErrNodeNotFound)
	}
	child, ok := parent.Type.ChildType()
	if !ok {
		return nil, NewOperationError(op, parentID, ErrTerminalStep)
	}
	return e.expand(ctx, sess, parent, child, op)
}

// ExpandMain expands the topic into the four category nodes.
func (e *Engine) ExpandMain(ctx context.Context, sess *session.Session, topicID schemas.NodeID) (*Result, error) {
	return e.expandAs(ctx, sess, topicID, schemas.NodeTypeMain)
}

// ExpandSub expands a main node.
func (e *Engine) ExpandSub(ctx context.Context, sess *session.Session, mainID schemas.NodeID) (*Result, error) {
	return e.expandAs(ctx, sess, mainID, schemas.NodeTypeSub)
}

// ExpandInsight expands a sub node.
func (e *Engine) ExpandInsight(ctx context.Context, sess *session.Session, subID schemas.NodeID) (*Result, error) {
	return e.expandAs(ctx, sess, subID, schemas.NodeTypeInsight)
}

// ExpandOpportunity expands an insight node.
func (e *Engine) ExpandOpportunity(ctx context.Context, sess *session.Session, insightID schemas.NodeID) (*Result, error) {
	return e.expandAs(ctx, sess, insightID, schemas.NodeTypeOpportunity)
}

func (e *Engine) expandAs(ctx context.Context, sess *session.Session, parentID schemas.NodeID, child schemas.NodeType) (*Result, error) {
	op := "expand " + string(child)
	parent, ok := sess.Node(parentID)
	if !ok {
		return nil, NewOperationError(op, parentID, ErrNodeNotFound)
	}
	if want, _ := child.ParentType(); parent.Type != want {
		if parent.Type == schemas.NodeTypeOpportunity {
			return nil, NewOperationError(op, parentID, ErrTerminalStep)
		}
		return nil, NewOperationError(op, parentID,
			fmt.Errorf("%w: %s nodes expand from %s nodes, not %s", ErrPrecondition, child, want, parent.Type))
	}
	return e.expand(ctx, sess, parent, child, op)
}

// expand collapses concurrent expansions of the same parent into one call.
func (e *Engine) expand(ctx context.Context, sess *session.Session, parent schemas.Node, child schemas.NodeType, op string) (*Result, error) {
	key := sess.ID() + "/" + strconv.FormatInt(int64(parent.ID), 10)
	v, err, shared := e.flight.Do(key, func() (interface{}, error) {
		return e.expandOnce(ctx, sess, parent, child)
	})
	if shared {
		e.logger.Debug("Joined in-flight expansion", zap.String("key", key))
	}
	if err != nil {
		return nil, NewOperationError(op, parent.ID, err)
	}
	res := *v.(*Result)
	return &res, nil
}

func (e *Engine) expandOnce(ctx context.Context, sess *session.Session, parent schemas.Node, child schemas.NodeType) (*Result, error) {
	if sess.Graph().HasChildren(parent.ID) {
		e.logger.Info("Parent already expanded, skipping", zap.Int64("parent_id", int64(parent.ID)))
		return &Result{Skipped: true}, nil
	}

	drafts, dropped, err := e.plan(ctx, sess, parent, child, []schemas.NodeID{parent.ID})
	if err != nil {
		return nil, err
	}
	added, err := sess.CommitGeneration(session.Commit{Drafts: drafts, Guarded: []schemas.NodeID{parent.ID}})
	if err != nil {
		return commitOutcome(err)
	}
	return &Result{Nodes: added, Dropped: dropped}, nil
}

// plan calls the service for the children of parent and turns the validated
// items into drafts linked to parents.
func (e *Engine) plan(ctx context.Context, sess *session.Session, parent schemas.Node, child schemas.NodeType, parents []schemas.NodeID) ([]ideagraph.Draft, int, error) {
	chain := ancestry(sess.Node, parent)
	content, err := e.generate(ctx, buildExpandPrompt(topicText(sess, chain), chain, child, e.cfg.MaxChildren))
	if err != nil {
		return nil, 0, err
	}

	batch, err := parseChildren(child, content, e.cfg.MaxChildren)
	if err != nil {
		e.logger.Warn("Discarding malformed generation response",
			zap.Int64("parent_id", int64(parent.ID)),
			zap.String("child_type", string(child)),
			zap.Error(err),
			zap.String("raw_response", content))
		return nil, 0, err
	}
	if batch.Dropped > 0 {
		e.logger.Warn("Truncated generated children to the configured maximum",
			zap.Int64("parent_id", int64(parent.ID)),
			zap.Int("max_children", e.cfg.MaxChildren),
			zap.Int("dropped", batch.Dropped))
	}

	drafts := make([]ideagraph.Draft, 0, len(batch.Items))
	for _, it := range batch.Items {
		category := parent.Category
		if child == schemas.NodeTypeMain {
			category = schemas.Category(it.Category)
		}
		drafts = append(drafts, ideagraph.Draft{
			Node: schemas.Node{
				Text:      it.Text,
				Keyword:   it.Keyword,
				Type:      child,
				Category:  category,
				ParentIDs: append([]schemas.NodeID(nil), parents...),
			},
			Reflection: it.Reflection,
		})
	}
	return drafts, batch.Dropped, nil
}

// dispatch is one accepted multi-selection decision.
type dispatch struct {
	parent schemas.Node
	child  schemas.NodeType
}

// GenerateFromSelection lets the service decide which selected nodes to
// expand, then runs those expansions as one batch.
func (e *Engine) GenerateFromSelection(ctx context.Context, sess *session.Session, ids []schemas.NodeID) (*Result, error) {
	const op = "generate from selection"
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, NewOperationError(op, 0, ErrEmptySelection)
	}
	selected := make([]schemas.Node, 0, len(ids))
	byID := make(map[schemas.NodeID]schemas.Node, len(ids))
	for _, id := range ids {
		n, ok := sess.Node(id)
		if !ok {
			return nil, NewOperationError(op, id, ErrNodeNotFound)
		}
		selected = append(selected, n)
		byID[id] = n
	}

	content, err := e.generate(ctx, buildSelectionPrompt(topicText(sess, selected[:1]), selected))
	if err != nil {
		return nil, NewOperationError(op, 0, err)
	}
	decisions, err := parseDecisions(content)
	if err != nil {
		e.logger.Warn("Discarding malformed decision response", zap.Error(err), zap.String("raw_response", content))
		return nil, NewOperationError(op, 0, err)
	}

	targets := e.acceptDecisions(sess, decisions, byID)
	if len(targets) == 0 {
		e.logger.Info("No applicable decisions for selection", zap.Int("decisions", len(decisions)))
		return &Result{Skipped: true}, nil
	}

	var linked []schemas.NodeID
	if len(ids) > 1 {
		linked = ids
	}

	planned := make([][]ideagraph.Draft, len(targets))
	dropped := make([]int, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			parents := linked
			if parents == nil {
				parents = []schemas.NodeID{t.parent.ID}
			}
			drafts, n, err := e.plan(gctx, sess, t.parent, t.child, parents)
			if err != nil {
				return fmt.Errorf("node '%d': %w", t.parent.ID, err)
			}
			planned[i], dropped[i] = drafts, n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, NewOperationError(op, 0, err)
	}

	commit := session.Commit{Guarded: make([]schemas.NodeID, 0, len(targets))}
	res := &Result{}
	for i, t := range targets {
		commit.Drafts = append(commit.Drafts, planned[i]...)
		commit.Guarded = append(commit.Guarded, t.parent.ID)
		res.Dropped += dropped[i]
	}
	added, err := sess.CommitGeneration(commit)
	if err != nil {
		out, cerr := commitOutcome(err)
		if cerr != nil {
			return nil, NewOperationError(op, 0, cerr)
		}
		return out, nil
	}
	res.Nodes = added
	return res, nil
}

// acceptDecisions keeps decisions whose target is selected, whose requested
// type legitimately follows the target and whose target is not yet expanded.
// Repeated decisions collapse.
func (e *Engine) acceptDecisions(sess *session.Session, decisions []Decision, selected map[schemas.NodeID]schemas.Node) []dispatch {
	seen := make(map[schemas.NodeID]bool, len(decisions))
	var out []dispatch
	for _, d := range decisions {
		fields := []zap.Field{zap.Int64("target_id", int64(d.TargetNodeID)), zap.String("node_type", string(d.NodeType))}
		target, ok := selected[d.TargetNodeID]
		if !ok {
			e.logger.Debug("Skipping decision for unselected node", fields...)
			continue
		}
		want, ok := d.NodeType.ParentType()
		if !ok || target.Type != want {
			e.logger.Debug("Skipping decision with no matching transition", fields...)
			continue
		}
		if seen[target.ID] {
			e.logger.Debug("Collapsing duplicate decision", fields...)
			continue
		}
		seen[target.ID] = true
		if sess.Graph().HasChildren(target.ID) {
			e.logger.Debug("Skipping decision for expanded node", fields...)
			continue
		}
		out = append(out, dispatch{parent: target, child: d.NodeType})
	}
	return out
}

// Regenerate asks the service for a fresh version of one node.
func (e *Engine) Regenerate(ctx context.Context, sess *session.Session, id schemas.NodeID) (schemas.Node, error) {
	const op = "regenerate"
	n, ok := sess.Node(id)
	if !ok {
		return schemas.Node{}, NewOperationError(op, id, ErrNodeNotFound)
	}
	if n.Type == schemas.NodeTypeTopic {
		return schemas.Node{}, NewOperationError(op, id, fmt.Errorf("%w: the design topic cannot be regenerated", ErrPrecondition))
	}

	chain := ancestry(sess.Node, n)
	var siblings []schemas.Node
	if pid, ok := n.ParentID(); ok {
		for _, c := range sess.Graph().PrimaryChildren(pid) {
			if c.ID != id {
				siblings = append(siblings, c)
			}
		}
	}

	content, err := e.generate(ctx, buildRegeneratePrompt(topicText(sess, chain), chain, siblings))
	if err != nil {
		return schemas.Node{}, NewOperationError(op, id, err)
	}
	it, err := parseRegeneration(content)
	if err != nil {
		e.logger.Warn("Discarding malformed regeneration response", zap.Error(err), zap.String("raw_response", content))
		return schemas.Node{}, NewOperationError(op, id, err)
	}

	updated, err := sess.CommitRegeneration(id, it.Text, it.Keyword)
	if err != nil {
		_, cerr := commitOutcome(err)
		return schemas.Node{}, NewOperationError(op, id, cerr)
	}
	return updated, nil
}

// generate performs one service call under the configured timeout.
func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if e.cfg.GenerationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.GenerationTimeout)
		defer cancel()
	}
	content, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     e.cfg.Temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		e.logger.Error("Generation call failed", zap.Error(err))
		return "", serviceError(err)
	}
	return content, nil
}

// commitOutcome classifies a failed session commit. A guard that tripped
// between planning and committing is a skip, not a failure.
func commitOutcome(err error) (*Result, error) {
	switch {
	case errors.Is(err, session.ErrAlreadyExpanded):
		return &Result{Skipped: true}, nil
	case errors.Is(err, ideagraph.ErrNodeNotFound):
		return nil, fmt.Errorf("%w: %v", ErrNodeNotFound, err)
	case errors.Is(err, ideagraph.ErrInvalidNode):
		return nil, malformedWrap(err)
	default:
		return nil, err
	}
}

func topicText(sess *session.Session, chain []schemas.Node) string {
	if t := sess.DesignTopic(); t != "" {
		return t
	}
	if len(chain) > 0 {
		return chain[0].Text
	}
	return ""
}

func uniqueIDs(ids []schemas.NodeID) []schemas.NodeID {
	seen := make(map[schemas.NodeID]bool, len(ids))
	out := make([]schemas.NodeID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
