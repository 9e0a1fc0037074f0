// File: cmd/view.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	yellow = color.New(color.FgYellow)

	typeColors = map[schemas.NodeType]*color.Color{
		schemas.NodeTypeTopic:       color.New(color.FgHiWhite, color.Bold),
		schemas.NodeTypeMain:        color.New(color.FgCyan, color.Bold),
		schemas.NodeTypeSub:         color.New(color.FgBlue),
		schemas.NodeTypeInsight:     color.New(color.FgMagenta),
		schemas.NodeTypeOpportunity: color.New(color.FgGreen),
	}
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Render the idea map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), true, func(ctx context.Context, sess *session.Session) error {
				renderSession(cmd.OutOrStdout(), sess)
				return nil
			})
		},
	}
}

func renderSession(w io.Writer, sess *session.Session) {
	topicID, ok := sess.TopicNodeID()
	if !ok {
		fmt.Fprintln(w, "No design topic yet. Start with: ideagraph topic <text>")
		return
	}

	brand.Fprintf(w, "Session %s", sess.ID())
	subtle.Fprintf(w, "  (%s mode, step %d)\n", sess.Mode(), sess.CurrentStep())

	if sess.Mode() == schemas.LayoutStructure {
		renderStructure(w, sess)
		return
	}
	seen := make(map[schemas.NodeID]bool)
	renderBranch(w, sess, topicID, "", seen)

	// Nodes whose primary parent chain does not reach the topic.
	for _, n := range sess.Graph().Nodes() {
		if !seen[n.ID] && n.IsRoot() {
			renderBranch(w, sess, n.ID, "", seen)
		}
	}
}

func renderBranch(w io.Writer, sess *session.Session, id schemas.NodeID, indent string, seen map[schemas.NodeID]bool) {
	n, ok := sess.Node(id)
	if !ok || seen[id] {
		return
	}
	seen[id] = true

	c, ok := typeColors[n.Type]
	if !ok {
		c = subtle
	}
	fmt.Fprint(w, indent)
	c.Fprintf(w, "%d %s", n.ID, n.Label())
	if n.Category != "" {
		subtle.Fprintf(w, " [%s]", n.Category)
	}
	if len(n.ParentIDs) > 1 {
		subtle.Fprintf(w, " parents %v", n.ParentIDs)
	}
	if sess.Graph().HasReflection(n.ID) {
		yellow.Fprint(w, " *")
	}
	fmt.Fprintln(w)

	for _, child := range sess.Graph().PrimaryChildren(id) {
		renderBranch(w, sess, child.ID, indent+"  ", seen)
	}
}

func renderStructure(w io.Writer, sess *session.Session) {
	analysis := sess.Analysis()
	for _, n := range sess.Graph().Nodes() {
		p, ok := sess.Position(n.ID)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%d %-32s (%.0f, %.0f)", n.ID, n.Label(), p.X, p.Y)
		if gp, ok := sess.Grid().Get(n.ID); ok {
			line += " priority " + string(gp.Priority)
		} else if as, ok := analysis.Assessment(n.ID); ok {
			line += fmt.Sprintf(" impact %.1f feasibility %.1f", as.Impact, as.Feasibility)
		}
		typeColors[n.Type].Fprintln(w, line)
	}

	if links := sess.Grid().PriorityLinks(); len(links) > 0 {
		parts := make([]string, 0, len(links))
		for _, l := range links {
			parts = append(parts, l.String())
		}
		subtle.Fprintf(w, "Links: %s\n", strings.Join(parts, " "))
	}
	if analysis != nil && len(analysis.MainThemes) > 0 {
		yellow.Fprintf(w, "Themes: %s\n", strings.Join(analysis.MainThemes, ", "))
	}
}

func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the creativity metrics of the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), true, func(ctx context.Context, sess *session.Session) error {
				w := cmd.OutOrStdout()
				cur, ok := sess.History().Current()
				if !ok {
					fmt.Fprintln(w, "No metrics recorded yet.")
					return nil
				}
				fmt.Fprintf(w, "Creativity   %.2f\n", cur.Creativity)
				fmt.Fprintf(w, "Fluency      %.2f\n", cur.Fluency)
				fmt.Fprintf(w, "Flexibility  %.2f\n", cur.Flexibility)
				fmt.Fprintf(w, "Originality  %.2f\n", cur.Originality)
				fmt.Fprintf(w, "Elaboration  %.2f\n", cur.Elaboration)
				fmt.Fprintf(w, "Dependency   %.2f\n", cur.Dependency)
				fmt.Fprintf(w, "Nodes %d  edits %d  generations %d  snapshots %d\n",
					cur.NodeCount, sess.EditCount(), sess.AIGenerationCount(), sess.History().Len())
				return nil
			})
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newSnapshotStore(cmd.Context(), a.cfg.Store(), a.logger)
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			defer st.Close()

			ids, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(w, "No stored sessions.")
				return nil
			}
			for _, id := range ids {
				marker := " "
				if id == a.sessionID {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %s\n", marker, id)
			}
			return nil
		},
	}
}
