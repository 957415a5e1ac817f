package export_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supervisory/internal/domain"
	"supervisory/internal/export"
)

func TestEnvelope(t *testing.T) {
	var def domain.Definition
	def.Metadata.ID = "markets/valuation"
	def.Context.Description = "Values <retail> companies & more"
	def.ControlPoints = []domain.ControlPoint{{ID: "stop", Classification: domain.ClassVetoed}}

	data, err := export.JSON(&def)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<retail> companies & more")

	var got struct {
		ExportFormat string         `json:"export_format"`
		SkillID      string         `json:"skill_id"`
		Skill        map[string]any `json:"skill"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, export.Format, got.ExportFormat)
	assert.Equal(t, "markets/valuation", got.SkillID)
	assert.Contains(t, got.Skill, "control_points")
	assert.Contains(t, got.Skill, "workflow")
}

func TestEnvelopeWithoutID(t *testing.T) {
	assert.Equal(t, "unknown", export.New(&domain.Definition{}).SkillID)
	assert.Equal(t, "unknown", export.New(nil).SkillID)
}
