package rollout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/abhisek/tutorpolicy/internal/llm"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/tutor"
)

// Request asks a generator for the candidate in one slot of a situation.
type Request struct {
	Situation int
	Slot      int
	Seed      int64
	Entry     Entry
	Action    string // an action name or ActionAuto
	Model     string
}

// Generated is one candidate response. Observation is the situation as
// the generator saw it, when it produced one.
type Generated struct {
	Response       string
	Action         policy.Action
	Confidence     float64
	SourceChunkIDs []string
	Observation    *tutor.Observation
}

// Generator produces candidate responses.
type Generator interface {
	Generate(ctx context.Context, req Request) (Generated, error)
}

// MockGenerator produces deterministic templated responses without any
// external service. The same seed, situation and slot always produce the
// same candidate.
type MockGenerator struct{}

func (MockGenerator) Generate(_ context.Context, req Request) (Generated, error) {
	base := req.Entry.Observation
	action := policy.ActionExplain
	if req.Action == ActionAuto {
		if base != nil && base.Action.Type != "" {
			action = base.Action.Type
		}
	} else if a, ok := policy.ParseAction(req.Action); ok {
		action = a
	}

	focus, snippet := "the concept", ""
	var ids []string
	if base != nil {
		if c := base.Concept(); c != "" {
			focus = c
		}
		if len(base.Retrieval.Chunks) > 0 {
			snippet = base.Retrieval.Chunks[0].Snippet
		}
		ids = base.Retrieval.ChunkIDs
	}
	if focus == "the concept" && req.Entry.Payload != nil && req.Entry.Payload.FocusConcept != "" {
		focus = req.Entry.Payload.FocusConcept
	}
	if len(ids) == 0 {
		ids = []string{fmt.Sprintf("chunk-%d", req.Slot+1)}
	}
	if snippet == "" {
		snippet = "Let's work through it step by step."
	}

	rng := rand.New(rand.NewPCG(uint64(req.Seed), uint64(req.Situation)<<32|uint64(req.Slot)))
	return Generated{
		Response:       fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(action)), focus, truncate(snippet, 120)),
		Action:         action,
		Confidence:     round4(0.55 + 0.1*rng.Float64()),
		SourceChunkIDs: append([]string(nil), ids...),
	}, nil
}

// Turner runs one tutor turn.
type Turner interface {
	Turn(ctx context.Context, p tutor.TurnParams) (*tutor.TurnResult, error)
}

// AgentGenerator replays each situation through a tutor agent. Every
// candidate runs in a fresh session seeded with the situation's policy
// state so candidates never see each other's turns, and no candidate
// writes the learner's mastery.
type AgentGenerator struct {
	Agent Turner
}

var errNoMessage = errors.New("situation has no learner message")

func (g AgentGenerator) Generate(ctx context.Context, req Request) (Generated, error) {
	p := req.Entry.payload()
	base := req.Entry.Observation

	msg, userID, targets := p.Message, p.UserID, p.TargetConcepts
	resourceID := p.ResourceID
	var initial json.RawMessage
	if base != nil {
		msg = or(msg, base.User.Message)
		userID = or(userID, base.User.UserID)
		if len(targets) == 0 {
			targets = base.User.TargetConcepts
		}
		resourceID = or(resourceID, base.Session.ResourceID)
		raw, err := json.Marshal(base.Policy)
		if err != nil {
			return Generated{}, fmt.Errorf("encode situation policy: %w", err)
		}
		initial = raw
	}
	if strings.TrimSpace(msg) == "" {
		return Generated{}, errNoMessage
	}

	params := tutor.TurnParams{
		UserID:         or(userID, "rollout-user"),
		SessionID:      "rollout-" + uuid.NewString(),
		Message:        msg,
		TargetConcepts: targets,
		ResourceID:     resourceID,
		InitialPolicy:  initial,

		SkipMasteryWrite: true,
	}
	if req.Action != ActionAuto {
		params.Override = tutor.Override{Type: req.Action}
		if focus := p.FocusConcept; focus != "" {
			params.Override.Params = map[string]string{"concept": focus}
		}
	}
	if req.Model != "" {
		ctx = llm.WithModelHint(ctx, req.Model)
	}

	res, err := g.Agent.Turn(ctx, params)
	if err != nil {
		return Generated{}, err
	}
	obs := res.Observation
	return Generated{
		Response:       res.Response,
		Action:         res.Action,
		Confidence:     res.Confidence,
		SourceChunkIDs: res.SourceChunkIDs,
		Observation:    &obs,
	}, nil
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
