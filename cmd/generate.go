// File: cmd/generate.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/pipeline"
	"github.com/xkilldash9x/ideagraph/internal/session"
	"github.com/xkilldash9x/ideagraph/internal/structure"
)

// runEngine opens the LLM client and hands a ready engine to fn inside a
// loaded session.
func (a *app) runEngine(ctx context.Context, fn func(ctx context.Context, eng *pipeline.Engine, sess *session.Session) error) error {
	return a.withLLM(ctx, func(llm schemas.LLMClient) error {
		eng := pipeline.NewEngine(llm, a.cfg.Engine(), a.logger)
		return a.withSession(ctx, false, func(ctx context.Context, sess *session.Session) error {
			return fn(ctx, eng, sess)
		})
	})
}

func newTopicCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "topic <text>",
		Short: "Create the design topic and generate its four main aspects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return a.runEngine(cmd.Context(), func(ctx context.Context, eng *pipeline.Engine, sess *session.Session) error {
				topic, res, err := eng.CreateTopic(ctx, sess, text)
				if topic.ID != 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Created topic %d: %s\n", topic.ID, topic.Text)
				}
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newExpandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <node-id>",
		Short: "Generate the next pipeline step under one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			return a.runEngine(cmd.Context(), func(ctx context.Context, eng *pipeline.Engine, sess *session.Session) error {
				res, err := eng.Expand(ctx, sess, id)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	var selected []int64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Let the service decide which selected nodes to expand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEngine(cmd.Context(), func(ctx context.Context, eng *pipeline.Engine, sess *session.Session) error {
				sel := sess.Selection()
				sel.Clear()
				for _, id := range toNodeIDs(selected) {
					sel.Add(id)
				}
				res, err := eng.GenerateFromSelection(ctx, sess, sel.IDs())
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&selected, "select", nil, "comma-separated node ids to consider")
	cmd.MarkFlagRequired("select")
	return cmd
}

func newRegenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <node-id>",
		Short: "Ask the service for a fresh version of one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			return a.runEngine(cmd.Context(), func(ctx context.Context, eng *pipeline.Engine, sess *session.Session) error {
				n, err := eng.Regenerate(ctx, sess, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Regenerated %d: %s\n", n.ID, n.Text)
				return nil
			})
		},
	}
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var selected []int64
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score selected nodes on the impact/feasibility matrix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLLM(cmd.Context(), func(llm schemas.LLMClient) error {
				analyzer := structure.NewAnalyzer(a.logger, llm, a.cfg.Engine())
				return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
					outcome, err := analyzer.Analyze(ctx, sess, toNodeIDs(selected))
					if err != nil {
						return err
					}
					printOutcome(cmd.OutOrStdout(), sess, outcome)
					return nil
				})
			})
		},
	}
	cmd.Flags().Int64SliceVar(&selected, "select", nil, "comma-separated node ids to analyze")
	cmd.MarkFlagRequired("select")
	return cmd
}

func printResult(w io.Writer, res *pipeline.Result) {
	if res == nil {
		return
	}
	if res.Skipped {
		fmt.Fprintln(w, "Already expanded, nothing generated.")
		return
	}
	for _, n := range res.Nodes {
		fmt.Fprintf(w, "  + %d [%s] %s\n", n.ID, n.Type, n.Text)
	}
	if res.Dropped > 0 {
		fmt.Fprintf(w, "Dropped %d extra item(s) over the child limit.\n", res.Dropped)
	}
	fmt.Fprintf(w, "Generated %d node(s).\n", len(res.Nodes))
}

func printOutcome(w io.Writer, sess *session.Session, outcome *structure.Outcome) {
	for _, as := range outcome.Result.Assessments {
		label := ""
		if n, ok := sess.Node(as.NodeID); ok {
			label = n.Label()
		}
		fmt.Fprintf(w, "  %d %-32s impact %4.1f  feasibility %4.1f  %s\n", as.NodeID, label, as.Impact, as.Feasibility, as.Category)
	}
	if len(outcome.Result.MainThemes) > 0 {
		fmt.Fprintf(w, "Themes: %s\n", strings.Join(outcome.Result.MainThemes, ", "))
	}
	if len(outcome.Missing) > 0 {
		fmt.Fprintf(w, "Not scored: %v\n", outcome.Missing)
	}
	fmt.Fprintf(w, "Analyzed %d node(s).\n", len(outcome.Result.Assessments))
}
