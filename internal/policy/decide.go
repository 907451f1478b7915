package policy

import "github.com/abhisek/tutorpolicy/internal/classifier"

// Cause names the rule that chose an action.
type Cause string

const (
	CauseColdStart           Cause = "cold_start"
	CauseOverride            Cause = "override_request"
	CausePrereqGating        Cause = "prereq_gating"
	CauseReflectionClaimed   Cause = "reflection_claimed_understanding"
	CauseConsecutiveExplains Cause = "consecutive_explains_cap"
	CauseStudentAnswer       Cause = "student_answer"
	CauseConfusedBasics      Cause = "affect_confused_explain_basics"
	CauseExplainDefault      Cause = "explain_default"
)

// Mode selects the response template variant for an action.
type Mode string

const (
	ModeColdStart        Mode = "cold_start"
	ModeOverride         Mode = "override"
	ModePrereqReview     Mode = "prereq_review"
	ModeAssessment       Mode = "assessment"
	ModeReflection       Mode = "reflection"
	ModeConfusionSupport Mode = "confusion_support"
	ModeDefault          Mode = "default"
)

// ExplainCap is the consecutive-explain count that forces an assessment.
const ExplainCap = 2

// Signals are the inputs of the action state machine.
type Signals struct {
	ColdStart bool

	// Override forces an action when set.
	Override Action

	// PrereqReview is set when the focus concept has missing prerequisites
	// and prerequisite gating is enabled.
	PrereqReview bool

	Intent              classifier.Intent
	Affect              classifier.Affect
	HasContext          bool
	ConsecutiveExplains int
}

// Decision is the chosen action and why.
type Decision struct {
	Action    Action `json:"action"`
	Cause     Cause  `json:"cause"`
	Mode      Mode   `json:"mode"`
	ColdStart bool   `json:"cold_start"`
}

// Decide evaluates the rules in precedence order. An explicit override wins;
// without one, prerequisite review comes before cold start, and cold start
// before every learner-signal rule.
func Decide(s Signals) Decision {
	switch {
	case s.Override != "":
		return Decision{Action: s.Override, Cause: CauseOverride, Mode: ModeOverride}

	case s.PrereqReview:
		return Decision{Action: ActionReview, Cause: CausePrereqGating, Mode: ModePrereqReview}

	case s.ColdStart:
		return Decision{Action: ActionAsk, Cause: CauseColdStart, Mode: ModeColdStart, ColdStart: true}

	case s.HasContext && s.Intent == classifier.IntentReflection && s.Affect == classifier.AffectEngaged:
		return Decision{Action: ActionAsk, Cause: CauseReflectionClaimed, Mode: ModeAssessment}

	case s.HasContext && s.ConsecutiveExplains >= ExplainCap:
		return Decision{Action: ActionAsk, Cause: CauseConsecutiveExplains, Mode: ModeAssessment}

	case s.HasContext && s.Intent == classifier.IntentAnswer:
		return Decision{Action: ActionReflect, Cause: CauseStudentAnswer, Mode: ModeReflection}

	case s.HasContext && s.Affect.Struggling():
		return Decision{Action: ActionExplain, Cause: CauseConfusedBasics, Mode: ModeConfusionSupport}

	default:
		return Decision{Action: ActionExplain, Cause: CauseExplainDefault, Mode: ModeDefault}
	}
}
