// File: cmd/edit.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/pipeline"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

func newEditCmd(a *app) *cobra.Command {
	var keyword string
	cmd := &cobra.Command{
		Use:   "edit <node-id> [text]",
		Short: "Replace a node's text or keyword",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			keywordSet := cmd.Flags().Changed("keyword")
			if text == "" && !keywordSet {
				return fmt.Errorf("nothing to edit: pass new text or --keyword")
			}
			return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
				var n schemas.Node
				if text != "" {
					if n, err = sess.EditText(id, text); err != nil {
						return err
					}
				}
				if keywordSet {
					if n, err = sess.EditKeyword(id, keyword); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d: %s\n", n.ID, n.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "short label shown instead of the text")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	var keyword string
	cmd := &cobra.Command{
		Use:   "add <parent-id> <text>",
		Short: "Add a hand-written child one step below a node",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
				n, err := sess.AddManualNode(parentID, text, keyword)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d [%s] %s\n", n.ID, n.Type, n.Text)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&keyword, "keyword", "k", "", "short label shown instead of the text")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete a node and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
				removed, err := sess.DeleteNode(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d node(s): %v\n", len(removed), removed)
				return nil
			})
		},
	}
}

func newReflectionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reflection",
		Short: "List or delete reflections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List node and structure reflections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), true, func(ctx context.Context, sess *session.Session) error {
				w := cmd.OutOrStdout()
				graphRefs, structRefs := sess.Graph().Reflections(), sess.StructureReflections()
				if len(graphRefs)+len(structRefs) == 0 {
					fmt.Fprintln(w, "No reflections.")
					return nil
				}
				for _, r := range graphRefs {
					fmt.Fprintf(w, "%s  node %d  %s\n", r.ID, r.NodeID, r.Content)
				}
				for _, r := range structRefs {
					fmt.Fprintf(w, "%s  node %d  (structure) %s\n", r.ID, r.NodeID, r.Content)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <reflection-id>",
		Short: "Delete one reflection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
				if err := sess.DeleteReflection(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted reflection %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newMoveCmd(a *app) *cobra.Command {
	var toStructure bool
	cmd := &cobra.Command{
		Use:   "move <node-id> <x> <y>",
		Short: "Drag a node to a new position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNodeID(args[0])
			if err != nil {
				return err
			}
			x, err := parseCoordinate(args[1])
			if err != nil {
				return err
			}
			y, err := parseCoordinate(args[2])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), false, func(ctx context.Context, sess *session.Session) error {
				if !toStructure {
					if err := sess.MoveNode(id, x, y); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Moved %d to (%.0f, %.0f)\n", id, x, y)
					return nil
				}
				gp, err := sess.MoveStructure(id, x, y)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %d to (%.0f, %.0f), priority %s\n", id, gp.X, gp.Y, gp.Priority)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&toStructure, "structure", false, "drag on the impact/feasibility matrix")
	return cmd
}

func newLayoutCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show or switch the layout mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			readOnly := mode == ""
			return a.withSession(cmd.Context(), readOnly, func(ctx context.Context, sess *session.Session) error {
				if !readOnly {
					err := sess.SetMode(schemas.LayoutMode(mode))
					if errors.Is(err, session.ErrNoAnalysis) {
						return fmt.Errorf("%w: run analyze --select first", pipeline.ErrNoAnalysis)
					}
					if err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Layout mode: %s\n", sess.Mode())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "exploration or structure")
	return cmd
}
