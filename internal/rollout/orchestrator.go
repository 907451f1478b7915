// Package rollout generates several candidate responses per recorded
// situation, scores each with the reward engine and the critic, ranks them
// and writes supervised and preference training records.
package rollout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/tutorpolicy/internal/critic"
	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/reward"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

var tracer = otel.Tracer("github.com/abhisek/tutorpolicy/internal/rollout")

// Summary reports what a run wrote.
type Summary struct {
	Situations  int     `json:"situations"`
	SFT         int     `json:"sft_records"`
	Preferences int     `json:"preference_records"`
	Seed        int64   `json:"seed"`
	MeanReward  float64 `json:"mean_reward"`
}

// Orchestrator drives a rollout run.
type Orchestrator struct {
	cfg    Config
	gen    Generator
	critic *critic.Critic
	ranker *critic.Ranker
	reward *reward.Engine
	log    *logger.Logger
}

// New validates cfg and wires the scorers. A nil critic or ranker falls
// back to its heuristic.
func New(cfg Config, gen Generator, c *critic.Critic, r *critic.Ranker, log *logger.Logger) (*Orchestrator, error) {
	if gen == nil {
		return nil, errors.New("rollout: generator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng, err := reward.NewEngine(cfg.Reward)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	if c == nil {
		c = critic.New(nil, nil, critic.DefaultConfig(), log)
	}
	if r == nil {
		r = critic.NewRanker(nil, nil, critic.DefaultConfig(), log)
	}
	return &Orchestrator{cfg: cfg, gen: gen, critic: c, ranker: r, reward: eng, log: log}, nil
}

// Run processes entries in order. Candidates of one situation are
// generated concurrently but always recorded in slot order. A generator
// failure aborts the run.
func (o *Orchestrator) Run(ctx context.Context, entries []Entry, sink Sink) (Summary, error) {
	seed := time.Now().UnixNano()
	if o.cfg.Seed != nil {
		seed = *o.cfg.Seed
	}
	sum := Summary{Seed: seed}
	var rewardTotal float64

	for i, e := range entries {
		cands, dec, err := o.situation(ctx, i, e, seed)
		if err != nil {
			return sum, err
		}
		for _, c := range cands {
			rec := SFTRecord{
				ID:          uuid.NewString(),
				Observation: c.Observation,
				Action:      c.Action,
				Response:    c.Response,
				Reward:      c.Reward,
				Critic:      c.Critic,
				Meta:        c.Meta,
			}
			if err := sink.WriteSFT(rec); err != nil {
				return sum, fmt.Errorf("write sft record: %w", err)
			}
			sum.SFT++
			rewardTotal += c.Reward.Total
		}
		pref := PreferenceRecord{
			ID:          uuid.NewString(),
			Observation: cands[0].Observation,
			Candidates:  cands,
			Preference:  dec,
			Meta: PreferenceMeta{
				SituationID: e.ID,
				Seed:        seed,
				Mock:        o.cfg.MockMode,
				PromptSet:   o.cfg.PromptSet,
				Actions:     o.cfg.Actions,
			},
		}
		if err := sink.WritePreference(pref); err != nil {
			return sum, fmt.Errorf("write preference record: %w", err)
		}
		sum.Preferences++
		sum.Situations++
	}
	if sum.SFT > 0 {
		sum.MeanReward = round4(rewardTotal / float64(sum.SFT))
	}
	o.log.Info("rollout finished", "situations", sum.Situations, "sft", sum.SFT, "seed", seed, "mean_reward", sum.MeanReward)
	return sum, nil
}

func (o *Orchestrator) situation(ctx context.Context, idx int, e Entry, seed int64) ([]Candidate, critic.Decision, error) {
	ctx, span := tracer.Start(ctx, "rollout.situation", trace.WithAttributes(
		attribute.String("situation.id", e.ID),
		attribute.Int("rollout.candidates", o.cfg.Candidates),
	))
	defer span.End()

	cands := make([]Candidate, o.cfg.Candidates)
	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.Parallelism
	if limit <= 0 {
		limit = o.cfg.Candidates
	}
	g.SetLimit(limit)
	for slot := range cands {
		g.Go(func() error {
			c, err := o.candidate(gctx, idx, slot, e, seed)
			if err != nil {
				return fmt.Errorf("situation %s candidate %d: %w", e.ID, slot, err)
			}
			cands[slot] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, critic.Decision{}, err
	}

	scored := make([]critic.Scored, len(cands))
	for i, c := range cands {
		scored[i] = critic.Scored{
			Action:     c.Action.Type,
			Response:   c.Response,
			Reward:     c.Reward.Total,
			Confidence: c.Critic.Confidence,
		}
	}
	dec, err := o.ranker.Rank(o.scorerContext(ctx), cands[0].Observation, scored)
	if err != nil {
		return nil, critic.Decision{}, err
	}
	span.SetAttributes(attribute.Int("preference.chosen", dec.Chosen))
	o.log.Debug("situation ranked", "situation", e.ID, "chosen", dec.Chosen, "source", dec.Source)
	return cands, dec, nil
}

func (o *Orchestrator) candidate(ctx context.Context, idx, slot int, e Entry, seed int64) (Candidate, error) {
	action, model := o.cfg.slot(slot)
	gen, err := o.gen.Generate(ctx, Request{
		Situation: idx,
		Slot:      slot,
		Seed:      seed,
		Entry:     e,
		Action:    action,
		Model:     model,
	})
	if err != nil {
		return Candidate{}, err
	}

	var base *tutor.Observation
	if gen.Observation != nil {
		base = gen.Observation
	} else if e.Observation != nil {
		// The candidate acted and cited on its own.
		cp := *e.Observation
		cp.Action = tutor.ActionBlock{}
		cp.Retrieval.SourceChunkIDs = nil
		base = &cp
	}
	override := ""
	if action != ActionAuto {
		override = action
	}
	obs := EnsureObservation(e, base, gen.Action, slot, Evidence{
		SourceChunkIDs: gen.SourceChunkIDs,
		Confidence:     gen.Confidence,
	}, override)

	sctx := o.scorerContext(ctx)
	return Candidate{
		Action:   obs.Action,
		Response: gen.Response,
		Reward: o.reward.Score(reward.Input{
			Observation: obs,
			Response:    gen.Response,
			CitedIDs:    gen.SourceChunkIDs,
		}),
		Critic: o.critic.Score(sctx, critic.Input{
			Observation: obs,
			Response:    gen.Response,
			CitedIDs:    gen.SourceChunkIDs,
		}),
		Meta: CandidateMeta{
			SituationID:    e.ID,
			CandidateIndex: slot,
			SourceChunkIDs: nonNil(gen.SourceChunkIDs),
			Confidence:     gen.Confidence,
			PromptSet:      o.cfg.PromptSet,
			Model:          model,
			Mock:           o.cfg.MockMode,
		},
		Observation: obs,
	}, nil
}

func (o *Orchestrator) scorerContext(ctx context.Context) context.Context {
	if o.cfg.CriticModel == "" {
		return ctx
	}
	return llm.WithModelHint(ctx, o.cfg.CriticModel)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
