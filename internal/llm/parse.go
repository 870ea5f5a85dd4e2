package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmin1219/voku/internal/domain"
)

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseVerdict validates a classifier reply. Unknown relationship values are
// an error; callers degrade errors to an UNRELATED verdict.
func ParseVerdict(raw string) (domain.Verdict, error) {
	var reply struct {
		Relationship string  `json:"relationship"`
		Confidence   float32 `json:"confidence"`
		Reasoning    string  `json:"reasoning"`
	}
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return domain.Verdict{}, fmt.Errorf("parse classifier reply: %w (raw: %s)", err, cleaned)
	}

	rel := strings.ToUpper(strings.TrimSpace(reply.Relationship))
	if !domain.ValidRelationship(rel) {
		return domain.Verdict{}, fmt.Errorf("classifier returned unknown relationship %q", reply.Relationship)
	}

	return domain.Verdict{
		Relationship: domain.Relationship(rel),
		Confidence:   clamp01(reply.Confidence),
		Reasoning:    strings.TrimSpace(reply.Reasoning),
	}, nil
}

// ParseExtraction reads the extractor reply. Unknown purposes fall back to
// observation and unknown source types to explicit.
func ParseExtraction(raw string) ([]domain.ExtractedProposition, error) {
	var reply struct {
		Propositions []struct {
			Proposition    string          `json:"proposition"`
			NodePurpose    string          `json:"node_purpose"`
			Confidence     *float32        `json:"confidence"`
			SourceType     string          `json:"source_type"`
			SignalValence  *string         `json:"signal_valence"`
			StructuredData json.RawMessage `json:"structured_data"`
		} `json:"propositions"`
	}
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, fmt.Errorf("parse extraction result: %w (raw: %s)", err, cleaned)
	}

	out := make([]domain.ExtractedProposition, 0, len(reply.Propositions))
	for _, p := range reply.Propositions {
		content := strings.TrimSpace(p.Proposition)
		if content == "" {
			continue
		}

		e := domain.ExtractedProposition{
			Content:    content,
			Purpose:    domain.PurposeObservation,
			Confidence: 1.0,
			SourceType: domain.SourceExplicit,
		}
		if purpose := strings.ToLower(p.NodePurpose); domain.ValidPurpose(purpose) {
			e.Purpose = domain.Purpose(purpose)
		}
		if p.Confidence != nil {
			e.Confidence = clamp01(*p.Confidence)
		}
		if st := strings.ToLower(p.SourceType); domain.ValidSourceType(st) {
			e.SourceType = domain.SourceType(st)
		}
		if p.SignalValence != nil {
			if v := strings.ToLower(*p.SignalValence); domain.ValidValence(v) {
				e.Valence = domain.Valence(v)
			}
		}
		if len(p.StructuredData) > 0 && string(p.StructuredData) != "null" {
			e.StructuredData = p.StructuredData
		}
		out = append(out, e)
	}
	return out, nil
}

func ParseThreadSummary(raw string) (domain.ThreadSummary, error) {
	var s domain.ThreadSummary
	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return domain.ThreadSummary{}, fmt.Errorf("parse thread summary: %w (raw: %s)", err, cleaned)
	}
	s.DomainHint = strings.TrimSpace(s.DomainHint)
	s.Summary = strings.TrimSpace(s.Summary)
	if s.Summary == "" {
		return domain.ThreadSummary{}, fmt.Errorf("thread summary is empty")
	}
	return s, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
