// Package app assembles the tutor and its collaborators from the
// environment for the command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/concepts"
	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/prompts"
	"github.com/abhisek/tutorpolicy/internal/responses"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
	"github.com/abhisek/tutorpolicy/internal/sessionlock"
	"github.com/abhisek/tutorpolicy/internal/store"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// Options selects the database and optional local fixtures. Empty paths
// fall back to TUTOR_CORPUS, TUTOR_CONCEPT_GRAPH and TUTOR_PROMPT_DIR.
type Options struct {
	DBPath     string
	CorpusPath string
	GraphPath  string
	PromptDir  string
	PromptSet  string
	Log        *logger.Logger
}

// App holds the wired tutor. Close releases every connection it opened.
type App struct {
	Store    *store.Store
	Agent    *tutor.Agent
	Service  *llm.JSONService // nil when no provider is configured
	Prompts  *prompts.Set
	LLM      llm.Config
	Log      *logger.Logger
	closers  []func() error
	warnings []string
}

// Warnings lists collaborators that were configured but could not start.
func (a *App) Warnings() []string { return a.warnings }

// Close closes collaborators in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build opens the store and wires the agent. Optional backends (Redis
// locks, Neo4j, Postgres retrieval, a generation provider) are used when
// their environment is set; a backend that fails to start is skipped and
// reported in Warnings.
func Build(ctx context.Context, opts Options) (*App, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Log: log}

	var storeOpts []store.Option
	redisLock, err := sessionlock.NewRedisLockerFromEnv(ctx)
	switch {
	case err != nil:
		a.warn("redis session lock", err)
	case redisLock != nil:
		storeOpts = append(storeOpts, store.WithLocker(redisLock))
		a.closers = append(a.closers, redisLock.Close)
	}

	st, err := store.Open(opts.DBPath, storeOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	set, err := loadPrompts(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Prompts = set

	provider, cfg, err := llm.NewProviderFromEnv(ctx, st.EventRepo(), log)
	a.LLM = cfg
	if err != nil {
		a.warn("generation provider", err)
	} else {
		a.Service = llm.NewJSONService(provider, cfg.Timeout, log)
	}

	lookup, err := a.conceptLookup(ctx, firstNonEmpty(opts.GraphPath, os.Getenv("TUTOR_CONCEPT_GRAPH")))
	if err != nil {
		a.Close()
		return nil, err
	}

	searcher, err := a.searcher(ctx, firstNonEmpty(opts.CorpusPath, os.Getenv("TUTOR_CORPUS")))
	if err != nil {
		a.Close()
		return nil, err
	}

	examples, err := responses.NewExampleGenerator(a.Service, set, nil, responses.ExampleConfigFromEnv(), log)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := tutor.Deps{
		Sessions:      st.SessionRepo(),
		Events:        st.EventRepo(),
		Classifier:    classifier.New(a.Service, set, classifier.DefaultConfig(), log),
		Mastery:       mastery.NewStoreReader(st.MasteryRepo()),
		Concepts:      lookup,
		Checker:       concepts.NewChecker(concepts.CheckerConfigFromEnv()),
		Retriever:     retrieval.NewRetriever(searcher, retrieval.ConfigFromEnv(), log),
		Responses:     responses.NewBuilder(a.Service, set, examples, responses.DefaultConfig(), log),
		MasteryWriter: st.MasteryRepo(),
		Updater:       mastery.NewUpdater(mastery.DefaultUpdaterConfig()),
		Assessor:      mastery.NewAssessor(a.Service, set, log),
		Log:           log,
	}
	agent, err := tutor.NewAgent(deps, tutor.ConfigFromEnv())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Agent = agent
	return a, nil
}

func (a *App) warn(what string, err error) {
	msg := fmt.Sprintf("%s unavailable: %v", what, err)
	a.warnings = append(a.warnings, msg)
	a.Log.Warn(what+" unavailable", "error", err)
}

func loadPrompts(opts Options) (*prompts.Set, error) {
	dir := firstNonEmpty(opts.PromptDir, os.Getenv("TUTOR_PROMPT_DIR"))
	name := firstNonEmpty(opts.PromptSet, os.Getenv("TUTOR_PROMPT_SET"))
	if dir == "" || name == "" || name == prompts.Baseline().Name() {
		return prompts.Baseline(), nil
	}
	return prompts.Load(dir, name)
}

// conceptLookup prefers Neo4j, then a YAML graph file. Either is cached.
func (a *App) conceptLookup(ctx context.Context, graphPath string) (concepts.Lookup, error) {
	neo, err := concepts.NewNeo4jLookupFromEnv(ctx, a.Log)
	if err != nil {
		a.warn("neo4j concept graph", err)
	}
	if neo != nil {
		a.closers = append(a.closers, func() error { return neo.Close(context.Background()) })
		return concepts.NewCachedLookup(neo, 0), nil
	}
	if graphPath == "" {
		return nil, nil
	}
	g, err := concepts.LoadGraph(graphPath)
	if err != nil {
		return nil, err
	}
	return concepts.NewCachedLookup(g, 0), nil
}

// searcher prefers Postgres hybrid search, then a JSONL corpus. With
// neither, retrieval always falls back.
func (a *App) searcher(ctx context.Context, corpusPath string) (retrieval.Searcher, error) {
	pg, err := retrieval.NewPGSearcherFromEnv(ctx, a.Log)
	if err != nil {
		a.warn("postgres retrieval", err)
	}
	if pg != nil {
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	}
	if corpusPath == "" {
		return nil, nil
	}
	return retrieval.LoadMemorySearcher(corpusPath)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
