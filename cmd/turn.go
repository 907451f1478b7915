package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorpolicy/internal/tutor"
	"github.com/abhisek/tutorpolicy/internal/ui/theme"
)

var turnCmd = &cobra.Command{
	Use:   "turn [message]",
	Short: "Run one tutoring turn",
	Long: "Send a learner message to the tutor. Without --session a new session " +
		"is created; its id is printed so later turns can continue it.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		msg, _ := flags.GetString("message")
		if len(args) == 1 {
			msg = args[0]
		}
		user, _ := flags.GetString("user")
		sessionID, _ := flags.GetString("session")
		targets, _ := flags.GetStringSlice("target")
		resource, _ := flags.GetString("resource")
		override, _ := flags.GetString("override")
		params, _ := flags.GetStringToString("param")
		asJSON, _ := flags.GetBool("json")

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p := tutor.TurnParams{
			UserID:         user,
			SessionID:      sessionID,
			Message:        msg,
			TargetConcepts: targets,
			ResourceID:     resource,
			Override:       tutor.Override{Type: override, Params: params},
		}
		if flags.Changed("correct") {
			v, _ := flags.GetBool("correct")
			p.AnswerCorrect = &v
		}

		res, err := a.Agent.Turn(cmd.Context(), p)
		if err != nil {
			return fmt.Errorf("turn: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		printTurn(res)
		return nil
	},
}

func printTurn(res *tutor.TurnResult) {
	fmt.Println(theme.Card.Render(res.Response))
	fmt.Println(theme.Field("Action", theme.Action.Render(string(res.Action))+" ("+string(res.Cause)+")"))
	fmt.Println(theme.Field("Concept", fmt.Sprintf("%s [%s]", res.Concept, res.Level)))
	fmt.Println(theme.Field("Learner", fmt.Sprintf("%s / %s", res.Intent, res.Affect)))
	if len(res.LearningPath) > 0 {
		fmt.Println(theme.Field("Path", strings.Join(res.LearningPath, " → ")))
	}
	if len(res.SourceChunkIDs) > 0 {
		fmt.Println(theme.Field("Sources", strings.Join(res.SourceChunkIDs, ", ")))
	}
	fmt.Println(theme.Field("Confidence", theme.Score(res.Confidence, 0.5)))
	if res.MasteryDelta != nil {
		fmt.Println(theme.Field("Mastery Δ", fmt.Sprintf("%+.3f", *res.MasteryDelta)))
	}
	if len(res.Degraded) > 0 {
		fmt.Println(theme.Field("Degraded", theme.Bad.Render(strings.Join(res.Degraded, ", "))))
	}
	fmt.Println(theme.Hint.Render(fmt.Sprintf("session %s · turn %d", res.SessionID, res.TurnIndex)))
}

func init() {
	f := turnCmd.Flags()
	f.StringP("message", "m", "", "Learner message")
	f.StringP("user", "u", "local", "Learner id")
	f.StringP("session", "s", "", "Session to continue")
	f.StringSliceP("target", "t", nil, "Target concepts for a new session")
	f.String("resource", "", "Restrict retrieval to one resource")
	f.String("override", "", "Force an action (ask, hint, reflect, explain, review, worked_example)")
	f.StringToString("param", nil, "Override parameters, e.g. concept=Limits")
	f.Bool("correct", false, "Mark the learner's answer as correct or incorrect")
	f.Bool("json", false, "Print the full turn result as JSON")
}
