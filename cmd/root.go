package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/abhisek/tutorpolicy/internal/app"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/store"
)

var (
	log           *logger.Logger
	shutdownTrace func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "tutor",
	Short: "Adaptive tutor policy and rollout tooling",
	Long: "tutor runs adaptive tutoring turns over a passage corpus, scores responses " +
		"and generates candidate rollouts for policy training.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; variables may come from the environment.
		_ = godotenv.Load()

		l, err := logger.New(os.Getenv("TUTOR_LOG_MODE"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log = l
		return initTracing()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if shutdownTrace != nil {
			_ = shutdownTrace(context.Background())
		}
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides TUTOR_DB env var)")
	rootCmd.PersistentFlags().String("corpus", "", "JSONL passage corpus (overrides TUTOR_CORPUS)")
	rootCmd.PersistentFlags().String("graph", "", "YAML concept graph (overrides TUTOR_CONCEPT_GRAPH)")
	rootCmd.PersistentFlags().String("prompts-dir", "", "Directory of prompt sets (overrides TUTOR_PROMPT_DIR)")
	rootCmd.PersistentFlags().String("prompt-set", "", "Prompt set name (overrides TUTOR_PROMPT_SET)")

	rootCmd.AddCommand(turnCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(rolloutCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(llmCmd)
	rootCmd.AddCommand(versionCmd)
}

// initTracing installs a stdout span exporter when TUTOR_TRACE_STDOUT=1.
func initTracing() error {
	if os.Getenv("TUTOR_TRACE_STDOUT") != "1" {
		return nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return fmt.Errorf("init trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	shutdownTrace = tp.Shutdown
	return nil
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then TUTOR_DB env var, then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	return store.DefaultDBPath()
}

// buildApp wires the tutor from flags and environment. Warnings about
// optional backends go to stderr.
func buildApp(cmd *cobra.Command) (*app.App, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	flags := cmd.Flags()
	corpus, _ := flags.GetString("corpus")
	graph, _ := flags.GetString("graph")
	promptDir, _ := flags.GetString("prompts-dir")
	promptSet, _ := flags.GetString("prompt-set")

	a, err := app.Build(cmd.Context(), app.Options{
		DBPath:     dbPath,
		CorpusPath: corpus,
		GraphPath:  graph,
		PromptDir:  promptDir,
		PromptSet:  promptSet,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}
	for _, w := range a.Warnings() {
		fmt.Fprintln(os.Stderr, w)
	}
	return a, nil
}
