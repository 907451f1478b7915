package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorpolicy/internal/critic"
	"github.com/abhisek/tutorpolicy/internal/reward"
	"github.com/abhisek/tutorpolicy/internal/rollout"
	"github.com/abhisek/tutorpolicy/internal/ui/theme"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a response against an observation",
	Long: "Runs the reward engine and the heuristic critic on one response. The " +
		"observation file holds a turn observation or a rollout situation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		obsPath, _ := flags.GetString("observation")
		response, _ := flags.GetString("response")
		responseFile, _ := flags.GetString("response-file")
		cited, _ := flags.GetStringSlice("cite")
		stepwise, _ := flags.GetBool("stepwise")
		asJSON, _ := flags.GetBool("json")

		if responseFile != "" {
			raw, err := os.ReadFile(responseFile)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			response = string(raw)
		}
		if strings.TrimSpace(response) == "" {
			return fmt.Errorf("a response is required (--response or --response-file)")
		}

		f, err := os.Open(obsPath)
		if err != nil {
			return fmt.Errorf("open observation: %w", err)
		}
		entries, err := rollout.ReadObservations(f)
		f.Close()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("%s holds no observation", obsPath)
		}
		e := entries[0]
		obs := rollout.EnsureObservation(e, e.Observation, "", 0, rollout.Evidence{SourceChunkIDs: cited}, "")

		cfg := reward.ConfigFromEnv()
		if flags.Changed("stepwise") {
			cfg.Stepwise = stepwise
		}
		eng, err := reward.NewEngine(cfg)
		if err != nil {
			return err
		}
		r := eng.Score(reward.Input{Observation: obs, Response: response, CitedIDs: cited})
		c := critic.Heuristic(critic.Input{Observation: obs, Response: response, CitedIDs: cited})

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(map[string]any{"reward": r, "critic": c})
		}

		fmt.Println(theme.Title.Render("Reward"))
		names := make([]string, 0, len(r.Components))
		for name := range r.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pass := cfg.Thresholds[name]
			fmt.Println(theme.Field(name, fmt.Sprintf("%s  (w=%.2f)", theme.Score(r.Components[name].Score, pass), r.NormalizedWeights[name])))
		}
		fmt.Println(theme.Field("total", theme.Score(r.Total, 0.6)))
		if len(r.Flags) > 0 {
			fmt.Println(theme.Field("flags", theme.Bad.Render(strings.Join(r.Flags, ", "))))
		}

		fmt.Println()
		fmt.Println(theme.Title.Render("Critic"))
		fmt.Println(theme.Field("clarity", theme.Score(c.Clarity, 0.5)))
		fmt.Println(theme.Field("accuracy", theme.Score(c.Accuracy, 0.5)))
		fmt.Println(theme.Field("support", theme.Score(c.Support, 0.5)))
		fmt.Println(theme.Field("confidence", theme.Score(c.Confidence, 0.5)))
		if c.Hallucination {
			fmt.Println(theme.Bad.Render("possible hallucination"))
		}
		if c.Notes != "" {
			fmt.Println(theme.Hint.Render(c.Notes))
		}
		return nil
	},
}

func init() {
	f := scoreCmd.Flags()
	f.StringP("observation", "o", "", "Observation or situation JSON file")
	f.StringP("response", "r", "", "Response text to score")
	f.String("response-file", "", "Read the response text from a file")
	f.StringSlice("cite", nil, "Chunk ids the response cites")
	f.Bool("stepwise", false, "Blend the stepwise rubric into the total")
	f.Bool("json", false, "Print scores as JSON")
	_ = scoreCmd.MarkFlagRequired("observation")
}
