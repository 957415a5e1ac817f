package access

import (
	"errors"
	"fmt"

	"supervisory/internal/domain"
)

// Wildcard in authorised_agents admits any non-empty caller identity.
const Wildcard = domain.WildcardAgent

// ErrDenied is matched by every denial returned from Authorize.
var ErrDenied = errors.New("access denied")

// NotApprovedError indicates the skill exists but its status is not approved.
type NotApprovedError struct {
	SkillID string
	Status  domain.Status
}

func (e NotApprovedError) Error() string {
	return fmt.Sprintf("skill %s has status %s; only approved skills may be loaded", e.SkillID, e.Status)
}

func (e NotApprovedError) Is(target error) bool { return target == ErrDenied }

// NotAuthorizedError indicates the caller is not on the skill's allowlist.
type NotAuthorizedError struct {
	SkillID string
	Caller  string
}

func (e NotAuthorizedError) Error() string {
	return fmt.Sprintf("agent %q is not authorised to load skill %s", e.Caller, e.SkillID)
}

func (e NotAuthorizedError) Is(target error) bool { return target == ErrDenied }

// Authorize applies the status gate and then the allowlist gate, stopping at
// the first failure. It has no side effects.
func Authorize(def *domain.Definition, caller string) error {
	if def == nil {
		return errors.New("definition is nil")
	}
	if def.Metadata.Status != domain.StatusApproved {
		return NotApprovedError{SkillID: def.Metadata.ID, Status: def.Metadata.Status}
	}
	if !allowlisted(def.Metadata.AuthorisedAgents, caller) {
		return NotAuthorizedError{SkillID: def.Metadata.ID, Caller: caller}
	}
	return nil
}

// Permitted is Authorize without the reason.
func Permitted(def *domain.Definition, caller string) bool {
	return Authorize(def, caller) == nil
}

func allowlisted(agents []string, caller string) bool {
	if caller == "" {
		return false
	}
	for _, a := range agents {
		if a == caller || a == Wildcard {
			return true
		}
	}
	return false
}
