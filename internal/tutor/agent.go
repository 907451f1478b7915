// Package tutor runs one learner turn end to end: classification, focus
// and cold-start selection, retrieval, action choice, response generation
// and persistence of the turn with the updated policy state.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/abhisek/tutorpolicy/internal/classifier"
	"github.com/abhisek/tutorpolicy/internal/concepts"
	"github.com/abhisek/tutorpolicy/internal/logger"
	"github.com/abhisek/tutorpolicy/internal/mastery"
	"github.com/abhisek/tutorpolicy/internal/policy"
	"github.com/abhisek/tutorpolicy/internal/responses"
	"github.com/abhisek/tutorpolicy/internal/retrieval"
	"github.com/abhisek/tutorpolicy/internal/store"
)

var tracer = otel.Tracer("github.com/abhisek/tutorpolicy/internal/tutor")

var (
	ErrMissingMessage = errors.New("message is required")
	ErrMissingUserID  = errors.New("user id is required")
)

// Tutor event kinds.
const (
	EventColdStart = "cold_start_triggered"
	EventDecision  = "action_decided"
)

// Degraded flags name the collaborator that fell back during a turn.
const (
	DegradedClassifier   = "classifier"
	DegradedPrereqChain  = "prereq_chain"
	DegradedMastery      = "mastery"
	DegradedRetrieval    = "retrieval"
	DegradedResponse     = "response"
	DegradedPolicyState  = "policy_state"
	DegradedMasteryWrite = "mastery_update"
	DegradedEvents       = "events"
)

// reviewRoles are requested when revisiting a missing prerequisite.
var reviewRoles = []string{policy.RoleDefinition, policy.RoleExplanation}

// overrideParams are the override parameters carried into action params.
var overrideParams = []string{"concept", "level", "difficulty", "question_type"}

// Config controls optional turn behaviour.
type Config struct {
	RetrievalK     int
	MasteryUpdates bool
}

func DefaultConfig() Config {
	return Config{RetrievalK: 4}
}

// ConfigFromEnv reads TUTOR_MASTERY_REALTIME_UPDATE and TUTOR_RAG_K.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("TUTOR_MASTERY_REALTIME_UPDATE"); v != "" {
		cfg.MasteryUpdates, _ = strconv.ParseBool(v)
	}
	if n, err := strconv.Atoi(os.Getenv("TUTOR_RAG_K")); err == nil && n > 0 {
		cfg.RetrievalK = n
	}
	return cfg
}

// Deps are the collaborators of an Agent. Sessions, Classifier, Retriever
// and Responses are required; the rest switch features off when nil.
type Deps struct {
	Sessions   store.SessionRepo
	Events     store.EventRepo
	Classifier *classifier.Adapter
	Mastery    mastery.Reader
	Concepts   concepts.Lookup
	Checker    *concepts.Checker
	Retriever  *retrieval.Retriever
	Responses  *responses.Builder

	MasteryWriter mastery.Writer
	Updater       *mastery.Updater
	Assessor      *mastery.Assessor

	Log *logger.Logger
}

// Agent executes tutoring turns. It holds no per-session state; everything
// a turn needs is loaded from and written back to the session store.
type Agent struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
}

// NewAgent validates deps and returns an Agent.
func NewAgent(deps Deps, cfg Config) (*Agent, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("tutor agent: session repo is required")
	case deps.Classifier == nil:
		return nil, errors.New("tutor agent: classifier is required")
	case deps.Retriever == nil:
		return nil, errors.New("tutor agent: retriever is required")
	case deps.Responses == nil:
		return nil, errors.New("tutor agent: response builder is required")
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = DefaultConfig().RetrievalK
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Agent{deps: deps, cfg: cfg, log: log}, nil
}

// Override forces an action for one turn.
type Override struct {
	Type   string
	Params map[string]string
}

// TurnParams is one learner message.
type TurnParams struct {
	UserID         string
	SessionID      string // a new session is created when empty
	Message        string
	TargetConcepts []string
	ResourceID     string
	Override       Override

	// InitialPolicy seeds the policy state of a newly created session.
	// It is ignored when the session already exists.
	InitialPolicy json.RawMessage

	// SkipMasteryWrite leaves the learner's mastery untouched even when
	// realtime updates are on. Hypothetical turns set it.
	SkipMasteryWrite bool

	// Optional externally assessed signals for the mastery update.
	AnswerCorrect      *bool
	ExplanationQuality *float64
	MasteryDelta       *float64
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	SessionID                string              `json:"session_id"`
	TurnID                   string              `json:"turn_id"`
	TurnIndex                int                 `json:"turn_index"`
	Response                 string              `json:"response"`
	Action                   policy.Action       `json:"action_type"`
	Cause                    policy.Cause        `json:"decision_cause"`
	SourceChunkIDs           []string            `json:"source_chunk_ids"`
	Confidence               float64             `json:"confidence"`
	Intent                   classifier.Intent   `json:"intent"`
	Affect                   classifier.Affect   `json:"affect"`
	Concept                  string              `json:"concept"`
	Level                    policy.Level        `json:"level"`
	LearningPath             []string            `json:"learning_path"`
	ColdStart                bool                `json:"cold_start"`
	ClassificationConfidence float64             `json:"classification_confidence"`
	MasteryDelta             *float64            `json:"mastery_delta,omitempty"`
	Readiness                *concepts.Readiness `json:"readiness,omitempty"`
	Degraded                 []string            `json:"degraded"`
	Progress                 []Stage             `json:"progress"`
	Observation              Observation         `json:"observation"`
}

// Turn processes one learner message. Only missing input and store
// failures are returned as errors; every other collaborator degrades to
// its default and is named in TurnResult.Degraded.
func (a *Agent) Turn(ctx context.Context, p TurnParams) (*TurnResult, error) {
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return nil, ErrMissingMessage
	}
	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return nil, ErrMissingUserID
	}

	ctx, span := tracer.Start(ctx, "tutor.turn")
	defer span.End()

	var (
		prog     progress
		degraded []string
	)
	degrade := func(flag string) {
		if !slices.Contains(degraded, flag) {
			degraded = append(degraded, flag)
		}
	}

	// Session.
	_, end := prog.begin(ctx, "session")
	targets := concepts.Dedupe(p.TargetConcepts)
	sess, err := a.deps.Sessions.EnsureSession(ctx, store.SessionSpec{
		ID:             strings.TrimSpace(p.SessionID),
		UserID:         userID,
		ResourceID:     p.ResourceID,
		TargetConcepts: targets,
		Policy:         p.InitialPolicy,
	})
	end(false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensure session")
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	if len(targets) == 0 {
		targets = sess.TargetConcepts
	}
	resourceID := p.ResourceID
	if resourceID == "" {
		resourceID = sess.ResourceID
	}
	log := a.log.With("session_id", sess.ID, "user_id", userID)
	span.SetAttributes(attribute.String("tutor.session_id", sess.ID))

	state, err := policy.ParseState(sess.Policy)
	if err != nil {
		log.Warn("stored policy state unreadable", "fallback", "empty_state", "error", err)
		degrade(DegradedPolicyState)
	}

	// Classification.
	stageCtx, end := prog.begin(ctx, "classification")
	cls := a.deps.Classifier.Classify(stageCtx, classifier.Input{
		Message:        msg,
		TargetConcepts: targets,
		LastConcept:    sess.LastConcept,
	})
	end(cls.Fallback)
	if cls.Fallback {
		degrade(DegradedClassifier)
	}

	// Prerequisites and mastery.
	stageCtx, end = prog.begin(ctx, "knowledge")
	chain, chainFallback := concepts.ChainOrFallback(stageCtx, a.deps.Concepts, append([]string{cls.Concept}, targets...), log)
	if chainFallback {
		degrade(DegradedPrereqChain)
	}
	m := mastery.Map{}
	if a.deps.Mastery != nil && len(chain) > 0 {
		got, err := a.deps.Mastery.MasteryFor(stageCtx, userID, chain)
		if err != nil {
			log.Warn("mastery lookup failed", "fallback", "empty_mastery", "error", err)
			degrade(DegradedMastery)
		} else if got != nil {
			m = got
		}
	}
	end(chainFallback || slices.Contains(degraded, DegradedMastery))

	focus := policy.SelectFocus(cls.Concept, chain, m, targets)
	var readiness *concepts.Readiness
	if a.deps.Checker.Enabled() && focus != "" {
		rd := a.deps.Checker.Check(focus, chain, m)
		if !rd.Ready && len(rd.Missing) == 0 {
			if next := a.deps.Checker.NextReady(chain, m); next != "" && next != focus {
				log.Info("focus substituted for readiness", "from", focus, "to", next, "weak", rd.Weak)
				focus = next
				rd = a.deps.Checker.Check(focus, chain, m)
			}
		}
		readiness = &rd
	}

	override := a.parseOverride(p.Override, log)
	conceptForAction := focus
	level := policy.LevelOf(m, focus)
	if override != "" {
		if c := strings.TrimSpace(p.Override.Params["concept"]); c != "" {
			conceptForAction = c
		}
		if l := strings.TrimSpace(p.Override.Params["level"]); l != "" {
			level = policy.ParseLevel(l)
		}
	}
	coldStart := override == "" && policy.NeedsColdStart(focus, m, state)

	// Retrieval.
	roles := policy.RoleSequence(level)
	stageCtx, end = prog.begin(ctx, "retrieval")
	query, ret := a.retrieve(stageCtx, conceptForAction, msg, roles, resourceID)
	end(ret.Fallback)
	if ret.Fallback {
		degrade(DegradedRetrieval)
	}
	chunks := ret.Chunks

	// Decision.
	_, endDecision := prog.begin(ctx, "decision")
	prereqReview := readiness != nil && readiness.ShouldReview && len(readiness.Missing) > 0 && override == ""
	decision := policy.Decide(policy.Signals{
		ColdStart:           coldStart,
		Override:            override,
		PrereqReview:        prereqReview,
		Intent:              cls.Intent,
		Affect:              cls.Affect,
		HasContext:          len(chunks) > 0,
		ConsecutiveExplains: state.ConsecutiveExplains,
	})
	span.SetAttributes(
		attribute.String("tutor.action", string(decision.Action)),
		attribute.String("tutor.cause", string(decision.Cause)),
	)

	params := map[string]string{"concept": conceptForAction, "level": string(level)}
	inference := conceptForAction
	reviewConcept := ""
	switch decision.Mode {
	case policy.ModeColdStart:
		params["mode"] = string(policy.ModeColdStart)
	case policy.ModeOverride:
		for _, k := range overrideParams {
			if v := strings.TrimSpace(p.Override.Params[k]); v != "" {
				params[k] = v
			}
		}
	case policy.ModePrereqReview:
		reviewConcept = readiness.Missing[0]
		inference = reviewConcept
		params["mode"] = string(policy.ModePrereqReview)
		params["review_concept"] = reviewConcept
		stageCtx, end = prog.begin(ctx, "prereq_retrieval")
		q, review := a.retrieve(stageCtx, reviewConcept, "", reviewRoles, resourceID)
		end(review.Fallback)
		if review.Fallback {
			degrade(DegradedRetrieval)
		}
		if len(review.Chunks) > 0 {
			query, chunks = q, review.Chunks
		}
	}
	deleteEmpty(params)
	endDecision(false)

	// Response.
	stageCtx, end = prog.begin(ctx, "response")
	resp := a.deps.Responses.Build(stageCtx, responses.Request{
		Action:        decision.Action,
		Mode:          decision.Mode,
		Concept:       conceptForAction,
		Level:         level,
		Message:       msg,
		Chunks:        chunks,
		ReviewConcept: reviewConcept,
	})
	end(resp.Fallback)
	if resp.Fallback {
		degrade(DegradedResponse)
	}
	if resp.InferredConcept != "" && decision.Mode != policy.ModePrereqReview {
		inference = resp.InferredConcept
	}

	// Mastery.
	var delta *float64
	if a.cfg.MasteryUpdates && !p.SkipMasteryWrite {
		stageCtx, end = prog.begin(ctx, "mastery")
		d, err := a.updateMastery(stageCtx, sess.ID, userID, focus, msg, cls, m, chunks, p)
		if err != nil {
			log.Warn("mastery update failed", "fallback", "skip_update", "error", err)
			degrade(DegradedMasteryWrite)
		}
		delta = d
		end(err != nil)
	}

	// Persist.
	stageCtx, end = prog.begin(ctx, "persist")
	var (
		finalState policy.State
		turnIndex  int
	)
	turn, _, err := a.deps.Sessions.AppendTurn(stageCtx, sess.ID, func(cur store.Session, index int) (store.TurnRecord, store.SessionUpdate, error) {
		fresh, perr := policy.ParseState(cur.Policy)
		if perr != nil {
			fresh = policy.NewState()
		}
		finalState = fresh.Apply(policy.Update{
			LearningPath:     chain,
			FocusConcept:     focus,
			FocusLevel:       level,
			Action:           decision.Action,
			ColdStart:        decision.ColdStart,
			ColdStartConcept: focus,
		})
		raw, merr := json.Marshal(finalState)
		if merr != nil {
			return store.TurnRecord{}, store.SessionUpdate{}, fmt.Errorf("encode policy state: %w", merr)
		}
		turnIndex = index
		return store.TurnRecord{
				UserText:       msg,
				Intent:         string(cls.Intent),
				Affect:         string(cls.Affect),
				Concept:        inference,
				Action:         string(decision.Action),
				ResponseText:   resp.Text,
				SourceChunkIDs: resp.CitedChunkIDs,
				Confidence:     resp.Confidence,
				MasteryDelta:   delta,
				Cause:          string(decision.Cause),
				Degraded:       degraded,
			}, store.SessionUpdate{
				Policy:      raw,
				LastConcept: inference,
				LastAction:  string(decision.Action),
			}, nil
	})
	end(false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append turn")
		return nil, fmt.Errorf("append turn: %w", err)
	}
	span.SetAttributes(attribute.Int("tutor.turn_index", turnIndex))

	if decision.ColdStart {
		a.recordEvent(ctx, log, sess.ID, userID, EventColdStart, map[string]any{
			"concept":    focus,
			"turn_index": turnIndex,
		}, degrade)
	}
	a.recordEvent(ctx, log, sess.ID, userID, EventDecision, map[string]any{
		"turn_index": turnIndex,
		"action":     decision.Action,
		"cause":      decision.Cause,
		"mode":       decision.Mode,
		"concept":    inference,
		"level":      level,
		"degraded":   degraded,
	}, degrade)

	obs := BuildObservation(ObservationInput{
		Message:          msg,
		UserID:           userID,
		TargetConcepts:   targets,
		Classification:   cls,
		FocusConcept:     focus,
		Level:            level,
		InferenceConcept: inference,
		LearningPath:     chain,
		Mastery:          m,
		Query:            query,
		Roles:            roles,
		Chunks:           chunks,
		Policy:           finalState,
		SessionID:        sess.ID,
		TurnIndex:        turnIndex,
		ResourceID:       resourceID,
		Decision:         decision,
		Confidence:       resp.Confidence,
		MasteryDelta:     delta,
		SourceChunkIDs:   resp.CitedChunkIDs,
		Params:           params,
		OverrideType:     strings.TrimSpace(p.Override.Type),
	})

	log.Info("turn complete",
		"turn_index", turnIndex,
		"action", decision.Action,
		"cause", decision.Cause,
		"concept", inference,
		"degraded", degraded,
	)

	return &TurnResult{
		SessionID:                sess.ID,
		TurnID:                   turn.ID,
		TurnIndex:                turnIndex,
		Response:                 resp.Text,
		Action:                   decision.Action,
		Cause:                    decision.Cause,
		SourceChunkIDs:           nonNil(resp.CitedChunkIDs),
		Confidence:               resp.Confidence,
		Intent:                   cls.Intent,
		Affect:                   cls.Affect,
		Concept:                  inference,
		Level:                    level,
		LearningPath:             nonNil(chain),
		ColdStart:                decision.ColdStart,
		ClassificationConfidence: cls.Confidence,
		MasteryDelta:             delta,
		Readiness:                readiness,
		Degraded:                 nonNil(degraded),
		Progress:                 prog.stages,
		Observation:              obs,
	}, nil
}

// parseOverride maps the requested override to an action. An unknown
// override type still overrides, with explain.
func (a *Agent) parseOverride(o Override, log *logger.Logger) policy.Action {
	t := strings.TrimSpace(o.Type)
	if t == "" {
		return ""
	}
	if act, ok := policy.ParseAction(t); ok {
		return act
	}
	log.Warn("unknown override action", "override", t, "fallback", string(policy.ActionExplain))
	return policy.ActionExplain
}

// retrieve searches for the concept first and falls back to the raw
// message when the concept finds nothing.
func (a *Agent) retrieve(ctx context.Context, concept, message string, roles []string, resourceID string) (string, retrieval.Result) {
	var res retrieval.Result
	query := strings.TrimSpace(concept)
	if query != "" {
		res = a.deps.Retriever.Retrieve(ctx, retrieval.Request{Query: query, Roles: roles, K: a.cfg.RetrievalK, ResourceID: resourceID})
		if len(res.Chunks) > 0 {
			return query, res
		}
	}
	if message == "" || message == query {
		return query, res
	}
	again := a.deps.Retriever.Retrieve(ctx, retrieval.Request{Query: message, Roles: roles, K: a.cfg.RetrievalK, ResourceID: resourceID})
	again.Fallback = again.Fallback || res.Fallback
	return message, again
}

// updateMastery feeds the turn's signals into the updater and persists the
// result. The returned delta is nil when nothing was written.
func (a *Agent) updateMastery(ctx context.Context, sessionID, userID, concept, msg string, cls classifier.Classification, m mastery.Map, chunks []retrieval.Chunk, p TurnParams) (*float64, error) {
	if concept == "" || a.deps.MasteryWriter == nil {
		return nil, nil
	}
	updater := a.deps.Updater
	if updater == nil {
		updater = mastery.NewUpdater(mastery.DefaultUpdaterConfig())
	}

	correct := p.AnswerCorrect
	quality := 0.0
	if p.ExplanationQuality != nil {
		quality = *p.ExplanationQuality
	}
	assessable := cls.Intent == classifier.IntentAnswer || cls.Intent == classifier.IntentReflection
	if assessable && a.deps.Assessor != nil && correct == nil && p.ExplanationQuality == nil {
		var question string
		if prev, err := a.deps.Sessions.ListTurns(ctx, sessionID, 1); err == nil && len(prev) > 0 {
			question = prev[len(prev)-1].ResponseText
		}
		as := a.deps.Assessor.Assess(ctx, mastery.AssessInput{
			Concept:  concept,
			Question: question,
			Answer:   msg,
			Context:  retrieval.FormatSnippets(chunks),
		})
		correct = as.Correct
		quality = as.Quality
	}

	var upd mastery.Update
	if p.MasteryDelta != nil {
		upd = mastery.Update{Concept: concept, Delta: *p.MasteryDelta, Reason: "external_delta", Confidence: 1, Correct: correct}
	} else {
		current := 0.0
		if s := m.Score(concept); s != nil {
			current = *s
		}
		upd = updater.Compute(concept, mastery.Signals{
			Intent:                   cls.Intent,
			Affect:                   cls.Affect,
			AnswerCorrect:            correct,
			ExplanationQuality:       quality,
			ClassificationConfidence: cls.Confidence,
		}, current)
	}

	_, applied, err := updater.Apply(ctx, a.deps.MasteryWriter, userID, upd)
	if err != nil || !applied {
		return nil, err
	}
	d := upd.Delta
	return &d, nil
}

func (a *Agent) recordEvent(ctx context.Context, log *logger.Logger, sessionID, userID, kind string, payload map[string]any, degrade func(string)) {
	if a.deps.Events == nil {
		return
	}
	err := a.deps.Events.AppendTutorEvent(ctx, store.TutorEventData{
		SessionID: sessionID,
		UserID:    userID,
		Kind:      kind,
		Payload:   maps.Clone(payload),
	})
	if err != nil {
		log.Warn("tutor event not recorded", "kind", kind, "error", err)
		degrade(DegradedEvents)
	}
}

func deleteEmpty(m map[string]string) {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
}
