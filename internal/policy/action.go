package policy

import "strings"

// Action is a pedagogical move.
type Action string

const (
	ActionAsk           Action = "ask"
	ActionHint          Action = "hint"
	ActionReflect       Action = "reflect"
	ActionExplain       Action = "explain"
	ActionReview        Action = "review"
	ActionWorkedExample Action = "worked_example"
)

// AllActions lists every action in a stable order.
func AllActions() []Action {
	return []Action{ActionAsk, ActionHint, ActionReflect, ActionExplain, ActionReview, ActionWorkedExample}
}

// ParseAction maps a string to an Action. ok is false for anything that is
// not a known action.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllActions() {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// NeedsContext reports whether the action's response is built from
// retrieved passages and degrades without them.
func (a Action) NeedsContext() bool {
	switch a {
	case ActionExplain, ActionHint, ActionReview, ActionWorkedExample:
		return true
	}
	return false
}
