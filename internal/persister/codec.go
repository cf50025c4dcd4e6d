package persister

import (
	"encoding/json"
	"fmt"

	"veilleur/internal/core"
	"veilleur/internal/vectorstore"
)

// Payload keys added on top of the synthesis record itself. The unix
// timestamps exist so recency filters can run numeric range conditions;
// the RFC-3339 fields inside the record stay the human-readable truth.
const (
	KeyCreatedAtUnix    = "created_at_unix"
	KeyUpdatedAtUnix    = "updated_at_unix"
	KeyIsPersonaVersion = "is_persona_version"
	KeyStoryID          = "story_id"
	KeyUsedInSynthesis  = "used_in_synthesis_id"
	KeyURL              = "url"
	KeyURLNormalized    = "url_normalized"
	KeyDomain           = "domain"
)

// EncodeSynthesis flattens a synthesis into a vector-store payload.
func EncodeSynthesis(s core.Synthesis) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding synthesis %s: %w", s.ID, err)
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("encoding synthesis %s: %w", s.ID, err)
	}
	delete(payload, "embedding") // The vector rides beside the payload, not in it

	payload[KeyCreatedAtUnix] = float64(s.CreatedAt.Unix())
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = s.CreatedAt
	}
	payload[KeyUpdatedAtUnix] = float64(updated.Unix())
	return payload, nil
}

// DecodeSynthesis rebuilds a synthesis from a stored point.
func DecodeSynthesis(p vectorstore.Point) (core.Synthesis, error) {
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return core.Synthesis{}, fmt.Errorf("decoding synthesis %s: %w", p.ID, err)
	}
	var s core.Synthesis
	if err := json.Unmarshal(raw, &s); err != nil {
		return core.Synthesis{}, fmt.Errorf("decoding synthesis %s: %w", p.ID, err)
	}
	if s.ID == "" {
		s.ID = p.ID
	}
	s.Embedding = p.Vector
	return s, nil
}

// DecodePast projects a stored synthesis point down to the slim record used
// by clustering and continuity.
func DecodePast(p vectorstore.Point) (core.PastSynthesis, error) {
	s, err := DecodeSynthesis(p)
	if err != nil {
		return core.PastSynthesis{}, err
	}
	return s.Ref(), nil
}
