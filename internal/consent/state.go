// Package consent manages share grants: the consent state machine, the
// permission choke point for all content access, per-grant access logs, and
// audit export.
package consent

import (
	"fmt"

	"github.com/signatura/signatura-core-go/internal/model"
)

// StateTransitionError indicates an attempted transition from a terminal or
// mismatched state, such as re-approving a denied grant.
type StateTransitionError struct {
	GrantID string
	From    string
	To      string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("grant %s: cannot transition from %s to %s", e.GrantID, e.From, e.To)
}

// transitions is the full lifecycle table. A pending grant moves exactly
// once to approved or denied; an approved grant may later be revoked.
// Denied and revoked are terminal.
var transitions = map[string]map[string]bool{
	model.GrantPending: {
		model.GrantApproved: true,
		model.GrantDenied:   true,
	},
	model.GrantApproved: {
		model.GrantRevoked: true,
	},
}

func canTransition(from, to string) bool {
	return transitions[from][to]
}
