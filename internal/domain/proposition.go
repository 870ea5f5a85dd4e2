package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusSuperseded   Status = "SUPERSEDED"
	StatusContradicted Status = "CONTRADICTED"
	StatusArchived     Status = "ARCHIVED"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusSuperseded, StatusContradicted, StatusArchived:
		return true
	}
	return false
}

// Closed reports whether the status can no longer be the source of a transition.
func (s Status) Closed() bool {
	return s != StatusActive
}

type Purpose string

const (
	PurposeObservation Purpose = "observation"
	PurposePattern     Purpose = "pattern"
	PurposeBelief      Purpose = "belief"
	PurposeIntention   Purpose = "intention"
	PurposeDecision    Purpose = "decision"
)

func ValidPurpose(p string) bool {
	switch Purpose(p) {
	case PurposeObservation, PurposePattern, PurposeBelief, PurposeIntention, PurposeDecision:
		return true
	}
	return false
}

type SourceType string

const (
	SourceExplicit SourceType = "explicit"
	SourceInferred SourceType = "inferred"
)

func ValidSourceType(s string) bool {
	switch SourceType(s) {
	case SourceExplicit, SourceInferred:
		return true
	}
	return false
}

type Valence string

const (
	ValencePositive Valence = "positive"
	ValenceNegative Valence = "negative"
	ValenceNeutral  Valence = "neutral"
)

// ValidValence accepts the empty string, meaning no valence was detected.
func ValidValence(v string) bool {
	switch Valence(v) {
	case "", ValencePositive, ValenceNegative, ValenceNeutral:
		return true
	}
	return false
}

// Origin describes where the statement entered the system.
type Origin string

const (
	OriginConversation Origin = "conversation"
	OriginUser         Origin = "user"
	OriginImport       Origin = "import"
	OriginVoku         Origin = "voku"
)

func ValidOrigin(o string) bool {
	switch Origin(o) {
	case OriginConversation, OriginUser, OriginImport, OriginVoku:
		return true
	}
	return false
}

// Provenance points back at the message a proposition was extracted from.
type Provenance struct {
	SessionID    string `json:"session_id,omitempty"`
	MessageIndex int    `json:"message_index"`
	CharStart    *int   `json:"char_start,omitempty"`
	CharEnd      *int   `json:"char_end,omitempty"`
	SourceFile   string `json:"source_file,omitempty"`
}

// Proposition is an atomic, timestamped belief unit. Content and embedding
// never change after creation; only Status and ValidTo do.
type Proposition struct {
	ID             uuid.UUID       `json:"id"`
	Content        string          `json:"content"`
	Embedding      []float32       `json:"-"`
	RecordedAt     time.Time       `json:"recorded_at"`
	ValidFrom      time.Time       `json:"valid_from"`
	ValidTo        *time.Time      `json:"valid_to,omitempty"`
	Status         Status          `json:"status"`
	Confidence     float32         `json:"confidence"`
	Purpose        Purpose         `json:"purpose"`
	SourceType     SourceType      `json:"source_type"`
	Valence        Valence         `json:"signal_valence,omitempty"`
	Origin         Origin          `json:"source"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
	Provenance     Provenance      `json:"provenance"`
}

// Before orders propositions by recorded_at, breaking ties by id so that
// every pair has exactly one older side.
func (p *Proposition) Before(other *Proposition) bool {
	if p.RecordedAt.Equal(other.RecordedAt) {
		return p.ID.String() < other.ID.String()
	}
	return p.RecordedAt.Before(other.RecordedAt)
}

// Embedding metadata stored alongside the vector.
type EmbeddingRecord struct {
	PropositionID uuid.UUID `json:"proposition_id"`
	Vector        []float32 `json:"-"`
	Model         string    `json:"model"`
	Dimensions    int       `json:"dimensions"`
	Status        Status    `json:"status"`
}

// Candidate is a proposition as produced by extraction, before it has an id,
// an embedding, or a place in the ledger.
type Candidate struct {
	Content        string          `json:"content"`
	Confidence     float32         `json:"confidence"`
	Purpose        Purpose         `json:"purpose"`
	SourceType     SourceType      `json:"source_type"`
	Valence        Valence         `json:"signal_valence,omitempty"`
	Origin         Origin          `json:"source,omitempty"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
	ValidFrom      *time.Time      `json:"valid_from,omitempty"`
	Provenance     Provenance      `json:"provenance"`
}

// Message is one parsed conversation message handed to ingestion.
type Message struct {
	Text         string    `json:"text"`
	Speaker      string    `json:"speaker"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	MessageIndex int       `json:"message_index"`
	SourceFile   string    `json:"source_file,omitempty"`
}

// ExtractedProposition is the extractor's view of a single statement.
type ExtractedProposition struct {
	Content        string          `json:"proposition"`
	Purpose        Purpose         `json:"node_purpose"`
	Confidence     float32         `json:"confidence"`
	SourceType     SourceType      `json:"source_type"`
	Valence        Valence         `json:"signal_valence,omitempty"`
	StructuredData json.RawMessage `json:"structured_data,omitempty"`
	CharStart      *int            `json:"char_start,omitempty"`
	CharEnd        *int            `json:"char_end,omitempty"`
}
