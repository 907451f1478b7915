package classifier

import "strings"

// Intent is what the learner is trying to do with a message.
type Intent string

const (
	IntentQuestion   Intent = "question"
	IntentAnswer     Intent = "answer"
	IntentReflection Intent = "reflection"
	IntentOffTopic   Intent = "off_topic"
	IntentGreeting   Intent = "greeting"
	IntentUnknown    Intent = "unknown"
)

// AllIntents lists the valid intents in prompt order.
var AllIntents = []Intent{IntentQuestion, IntentAnswer, IntentReflection, IntentOffTopic, IntentGreeting, IntentUnknown}

// ParseIntent maps free text to an Intent. Anything outside the
// enumeration is IntentUnknown.
func ParseIntent(s string) Intent {
	v := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, i := range AllIntents {
		if v == i {
			return v
		}
	}
	return IntentUnknown
}

// Affect is the learner's apparent emotional state.
type Affect string

const (
	AffectConfused   Affect = "confused"
	AffectUnsure     Affect = "unsure"
	AffectEngaged    Affect = "engaged"
	AffectFrustrated Affect = "frustrated"
	AffectNeutral    Affect = "neutral"
)

// AllAffects lists the valid affects in prompt order.
var AllAffects = []Affect{AffectConfused, AffectUnsure, AffectEngaged, AffectFrustrated, AffectNeutral}

// ParseAffect maps free text to an Affect. Anything outside the
// enumeration is AffectNeutral.
func ParseAffect(s string) Affect {
	v := Affect(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range AllAffects {
		if v == a {
			return v
		}
	}
	return AffectNeutral
}

// Struggling reports confused or unsure, the states that get a
// basics-first explanation.
func (a Affect) Struggling() bool {
	return a == AffectConfused || a == AffectUnsure
}

// Distressed reports any negative state, used by reward scoring.
func (a Affect) Distressed() bool {
	return a.Struggling() || a == AffectFrustrated
}

// Classification is the validated judgment for one learner message.
type Classification struct {
	Intent          Intent  `json:"intent"`
	Affect          Affect  `json:"affect"`
	Concept         string  `json:"concept"`
	Confidence      float64 `json:"confidence"`
	NeedsEscalation bool    `json:"needs_escalation"`

	// Fallback is set when the defaults were used because the generation
	// call failed.
	Fallback bool `json:"fallback,omitempty"`
}
