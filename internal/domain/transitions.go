package domain

import "strings"

// statusTransitions is shared by deposit entries and withdrawal requests.
// processing -> pending exists only for stale-claim recovery and
// insufficient-confirmation requeues.
var statusTransitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusProcessing: {},
		StatusFailed:     {},
	},
	StatusProcessing: {
		StatusPending:   {},
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func NormalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// CanTransition reports whether a record may move from current to next.
func CanTransition(current, next string) bool {
	nextStates, ok := statusTransitions[NormalizeStatus(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[NormalizeStatus(next)]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(status string) bool {
	s := NormalizeStatus(status)
	return s == StatusCompleted || s == StatusFailed
}
