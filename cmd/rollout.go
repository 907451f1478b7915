package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/tutorpolicy/internal/app"
	"github.com/abhisek/tutorpolicy/internal/critic"
	"github.com/abhisek/tutorpolicy/internal/reward"
	"github.com/abhisek/tutorpolicy/internal/rollout"
	"github.com/abhisek/tutorpolicy/internal/ui/theme"
)

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Generate and score candidate responses for recorded situations",
	Long: "Reads situations (JSON array or JSON lines of payloads and/or observations), " +
		"generates several candidates per situation, scores each with the reward engine " +
		"and critic, ranks them and writes SFT and preference JSONL files.",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		input, _ := flags.GetString("input")
		sftPath, _ := flags.GetString("sft")
		prefPath, _ := flags.GetString("pref")
		cfgPath, _ := flags.GetString("config")

		base := rollout.DefaultConfig()
		base.Reward = reward.ConfigFromEnv()
		cfg := base
		if cfgPath != "" {
			loaded, err := rollout.LoadConfig(cfgPath, base)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if flags.Changed("mock") {
			cfg.MockMode, _ = flags.GetBool("mock")
		}
		if flags.Changed("seed") {
			seed, _ := flags.GetInt64("seed")
			cfg.Seed = &seed
		}
		if flags.Changed("candidates") {
			cfg.Candidates, _ = flags.GetInt("candidates")
		}
		if flags.Changed("actions") {
			raw, _ := flags.GetString("actions")
			cfg.Actions = rollout.ParseActions(raw)
		}
		if flags.Changed("parallel") {
			cfg.Parallelism, _ = flags.GetInt("parallel")
		}
		if flags.Changed("critic-model") {
			cfg.CriticModel, _ = flags.GetString("critic-model")
		}
		if cfg.PromptSet != "" && !flags.Changed("prompt-set") {
			_ = flags.Set("prompt-set", cfg.PromptSet)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		entries, err := rollout.ReadObservations(f)
		f.Close()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No situations found in", input)
			return nil
		}

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		cfg.PromptSet = a.Prompts.Name()

		gen, err := generator(cfg, a)
		if err != nil {
			return err
		}
		judge := critic.New(a.Service, a.Prompts, critic.DefaultConfig(), log)
		ranker := critic.NewRanker(a.Service, a.Prompts, critic.DefaultConfig(), log)
		orch, err := rollout.New(cfg, gen, judge, ranker, log)
		if err != nil {
			return err
		}

		w, err := rollout.NewJSONLWriter(sftPath, prefPath)
		if err != nil {
			return err
		}
		sum, runErr := orch.Run(cmd.Context(), entries, w)
		if err := w.Close(); err != nil && runErr == nil {
			runErr = fmt.Errorf("close output: %w", err)
		}
		if runErr != nil {
			return runErr
		}

		fmt.Println(theme.Title.Render("Rollout complete"))
		fmt.Println(theme.Field("Situations", fmt.Sprint(sum.Situations)))
		fmt.Println(theme.Field("SFT records", fmt.Sprintf("%d → %s", sum.SFT, sftPath)))
		fmt.Println(theme.Field("Preferences", fmt.Sprintf("%d → %s", sum.Preferences, prefPath)))
		fmt.Println(theme.Field("Mean reward", theme.Score(sum.MeanReward, 0.6)))
		fmt.Println(theme.Field("Seed", fmt.Sprint(sum.Seed)))
		return nil
	},
}

// generator picks mock generation, or replays situations through the
// agent when a generation provider is available.
func generator(cfg rollout.Config, a *app.App) (rollout.Generator, error) {
	if cfg.MockMode {
		return rollout.MockGenerator{}, nil
	}
	if !a.Service.Enabled() {
		return nil, fmt.Errorf("no generation provider configured; set TUTOR_LLM_PROVIDER or use --mock")
	}
	return rollout.AgentGenerator{Agent: a.Agent}, nil
}

func init() {
	f := rolloutCmd.Flags()
	f.StringP("input", "i", "", "Situations file (JSON array or JSONL)")
	f.String("sft", "out/rollout_sft.jsonl", "SFT output path")
	f.String("pref", "out/rollout_pref.jsonl", "Preference output path")
	f.StringP("config", "c", "", "YAML rollout config")
	f.Bool("mock", false, "Generate templated candidates without a provider")
	f.Int64("seed", 0, "Seed for mock generation (random when unset)")
	f.IntP("candidates", "k", 4, "Candidates per situation")
	f.String("actions", "", "Comma-separated action cycle, e.g. explain,ask,hint,auto")
	f.Int("parallel", 0, "Concurrent generations per situation (0 = one per candidate)")
	f.String("critic-model", "", "Model for critic and preference calls")
	_ = rolloutCmd.MarkFlagRequired("input")
}
