package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agentkit/pkg/persistence"
)

//nolint:gochecknoglobals // cobra command tree
var listLimit int

//nolint:gochecknoglobals // cobra command tree
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted chat sessions",
}

//nolint:gochecknoglobals // cobra command tree
var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(func(ops *persistence.DatabaseOperations) error {
			sessions, err := ops.ListSessions(cmd.Context(), listLimit)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			return writeSessionTable(cmd.OutOrStdout(), sessions)
		})
	},
}

//nolint:gochecknoglobals // cobra command tree
var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the stored conversation of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ops *persistence.DatabaseOperations) error {
			s, err := ops.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err //nolint:wrapcheck // carries the session id
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s  model=%s  status=%s  tokens=%d/%d\n",
				s.ID, s.Model, s.Status, s.PromptTokens, s.CompletionTokens)

			h, err := ops.LoadHistory(cmd.Context(), s.ID)
			if err != nil {
				return err //nolint:wrapcheck // carries the session id
			}
			printHistory(out, h)
			return nil
		})
	},
}

//nolint:gochecknoglobals // cobra command tree
var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Delete sessions and their history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ops *persistence.DatabaseOperations) error {
			for _, id := range args {
				if err := ops.DeleteSession(cmd.Context(), id); err != nil {
					return err //nolint:wrapcheck // carries the session id
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		})
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	sessionsListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum sessions to show, 0 for all")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
}

func withStore(fn func(ops *persistence.DatabaseOperations) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ops, closeStore, err := requireStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ops)
}

func writeSessionTable(out io.Writer, sessions []persistence.Session) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tMODEL\tSTATUS\tTOKENS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Model, s.Status, s.PromptTokens+s.CompletionTokens, s.UpdatedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write session table: %w", err)
	}
	return nil
}
