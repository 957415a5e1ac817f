package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"supervisory/internal/domain"
)

// Format identifies the envelope layout for consuming systems.
const Format = "supervisory-skill-v1"

// Envelope wraps a full definition for platform-agnostic exchange.
type Envelope struct {
	ExportFormat string             `json:"export_format"`
	SkillID      string             `json:"skill_id"`
	Skill        *domain.Definition `json:"skill"`
}

func New(def *domain.Definition) Envelope {
	id := "unknown"
	if def != nil && def.Metadata.ID != "" {
		id = def.Metadata.ID
	}
	return Envelope{ExportFormat: Format, SkillID: id, Skill: def}
}

// JSON encodes the envelope indented, without HTML escaping so
// descriptions stay readable.
func JSON(def *domain.Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(New(def)); err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return buf.Bytes(), nil
}
