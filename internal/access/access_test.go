package access_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supervisory/internal/access"
	"supervisory/internal/domain"
)

func definition(status domain.Status, agents ...string) *domain.Definition {
	var d domain.Definition
	d.Metadata.ID = "retail_banking/loan-application-processing"
	d.Metadata.Status = status
	d.Metadata.AuthorisedAgents = agents
	return &d
}

func TestStatusGateDeniesDraftEvenForWildcard(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusDraft, domain.StatusDeprecated} {
		err := access.Authorize(definition(status, "*"), "any-agent")
		var nae access.NotApprovedError
		require.ErrorAs(t, err, &nae, "status %s", status)
		assert.Equal(t, status, nae.Status)
		assert.True(t, errors.Is(err, access.ErrDenied))
	}
}

func TestAllowlistGate(t *testing.T) {
	def := definition(domain.StatusApproved, "loan-processor-agent-prod")

	err := access.Authorize(def, "rogue-agent")
	var na access.NotAuthorizedError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, "rogue-agent", na.Caller)
	assert.Equal(t, def.Metadata.ID, na.SkillID)

	require.NoError(t, access.Authorize(def, "loan-processor-agent-prod"))
	assert.True(t, access.Permitted(def, "loan-processor-agent-prod"))
}

func TestWildcardAdmitsAnyNamedCaller(t *testing.T) {
	def := definition(domain.StatusApproved, access.Wildcard)
	require.NoError(t, access.Authorize(def, "whoever"))

	err := access.Authorize(def, "")
	assert.ErrorAs(t, err, &access.NotAuthorizedError{})
}

func TestStatusGateRunsBeforeAllowlist(t *testing.T) {
	err := access.Authorize(definition(domain.StatusDraft, "a"), "b")
	assert.ErrorAs(t, err, &access.NotApprovedError{})
	assert.False(t, access.Permitted(definition(domain.StatusDraft, "a"), "a"))
}
