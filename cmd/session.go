package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/store"
	"github.com/abhisek/tutorpolicy/internal/ui/theme"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect tutoring sessions",
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a learner's sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		sessions, err := s.SessionRepo().ListSessions(context.Background(), user, limit)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		fmt.Printf("%-36s  %-19s  %-20s  %s\n", "ID", "Updated", "Concept", "Last action")
		fmt.Println(strings.Repeat("─", 96))
		for _, sess := range sessions {
			fmt.Printf("%-36s  %-19s  %-20s  %s\n",
				sess.ID,
				sess.UpdatedAt.Local().Format(timeLayout),
				truncate(sess.LastConcept, 20),
				sess.LastAction,
			)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's policy state and turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		turns, _ := cmd.Flags().GetInt("turns")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()
		sess, err := s.SessionRepo().GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		state, err := policy.ParseState(sess.Policy)
		if err != nil {
			fmt.Println(theme.Bad.Render("stored policy state is malformed: " + err.Error()))
		}

		fmt.Println(theme.Title.Render("Session " + sess.ID))
		fmt.Println(theme.Field("User", sess.UserID))
		fmt.Println(theme.Field("Targets", strings.Join(sess.TargetConcepts, ", ")))
		fmt.Println(theme.Field("Focus", fmt.Sprintf("%s [%s]", state.FocusConcept, state.FocusLevel)))
		fmt.Println(theme.Field("Path", strings.Join(state.LearningPath, " → ")))
		fmt.Println(theme.Field("Cold start", fmt.Sprintf("%v (done: %s)", state.ColdStart, strings.Join(state.ColdStartCompleted, ", "))))
		fmt.Println(theme.Field("Explains", fmt.Sprintf("%d consecutive", state.ConsecutiveExplains)))

		records, err := s.SessionRepo().ListTurns(ctx, sess.ID, turns)
		if err != nil {
			return fmt.Errorf("list turns: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		fmt.Println()
		sep := strings.Repeat("─", 60)
		for _, t := range records {
			fmt.Println(sep)
			fmt.Printf("#%d  %s  %s/%s  %s\n", t.Index, theme.Action.Render(t.Action), t.Intent, t.Affect, t.Concept)
			fmt.Println(theme.Hint.Render("> " + t.UserText))
			fmt.Println(t.ResponseText)
			if len(t.Degraded) > 0 {
				fmt.Println(theme.Bad.Render("degraded: " + strings.Join(t.Degraded, ", ")))
			}
		}
		return nil
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show tutor events (cold starts, action decisions) for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.EventRepo().QueryTutorEvents(context.Background(), store.QueryOpts{SessionID: args[0], Limit: limit})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No tutor events found.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("%-5d  %-19s  %-22s  %s\n",
				e.Sequence,
				e.Timestamp.Local().Format(timeLayout),
				theme.Action.Render(e.Kind),
				string(e.Payload),
			)
		}
		return nil
	},
}

func init() {
	sessionListCmd.Flags().StringP("user", "u", "local", "Learner id")
	sessionListCmd.Flags().IntP("limit", "n", 20, "Number of sessions to show")
	sessionShowCmd.Flags().IntP("turns", "n", 10, "Number of most recent turns to show (0 for all)")

	sessionCmd.AddCommand(sessionListCmd)
	sessionEventsCmd.Flags().IntP("limit", "n", 50, "Number of events to show")

	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionEventsCmd)
}
