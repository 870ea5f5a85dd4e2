package service

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmin1219/voku/internal/domain"
)

func prop(status domain.Status, recordedAt time.Time) *domain.Proposition {
	return &domain.Proposition{ID: uuid.New(), Status: status, RecordedAt: recordedAt, ValidFrom: recordedAt}
}

func contradicts(a, b *domain.Proposition) domain.Edge {
	return domain.Edge{ID: uuid.New(), SourceID: b.ID, TargetID: a.ID, Type: domain.EdgeContradicts}
}

func TestPlanTransition(t *testing.T) {
	now := testEpoch
	third := prop(domain.StatusContradicted, now.Add(-3*time.Hour))

	tests := []struct {
		name        string
		olderStatus domain.Status
		newerStatus domain.Status
		rel         domain.Relationship
		edges       func(older, newer *domain.Proposition) []domain.Edge
		wantEdge    bool
		want        map[string]domain.Status // "older"/"newer" -> To
	}{
		{
			name:        "unrelated plans nothing",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusActive,
			rel:         domain.RelUnrelated,
		},
		{
			name:        "supports adds an edge only",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusActive,
			rel:         domain.RelSupports,
			wantEdge:    true,
		},
		{
			name:        "supersede closes active older",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusActive,
			rel:         domain.RelSupersedes,
			wantEdge:    true,
			want:        map[string]domain.Status{"older": domain.StatusSuperseded},
		},
		{
			name:        "supersede of an already superseded older records the edge",
			olderStatus: domain.StatusSuperseded,
			newerStatus: domain.StatusActive,
			rel:         domain.RelSupersedes,
			wantEdge:    true,
		},
		{
			name:        "contradiction marks both",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusActive,
			rel:         domain.RelContradicts,
			wantEdge:    true,
			want: map[string]domain.Status{
				"older": domain.StatusContradicted,
				"newer": domain.StatusContradicted,
			},
		},
		{
			name:        "contradiction with a closed older only records the edge",
			olderStatus: domain.StatusSuperseded,
			newerStatus: domain.StatusActive,
			rel:         domain.RelContradicts,
			wantEdge:    true,
		},
		{
			name:        "contradiction leaves a closed newer alone",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusSuperseded,
			rel:         domain.RelContradicts,
			wantEdge:    true,
			want:        map[string]domain.Status{"older": domain.StatusContradicted},
		},
		{
			name:        "supersession resolves a contradiction between the same pair",
			olderStatus: domain.StatusContradicted,
			newerStatus: domain.StatusContradicted,
			rel:         domain.RelSupersedes,
			edges: func(older, newer *domain.Proposition) []domain.Edge {
				return []domain.Edge{contradicts(older, newer)}
			},
			wantEdge: true,
			want: map[string]domain.Status{
				"older": domain.StatusSuperseded,
				"newer": domain.StatusActive,
			},
		},
		{
			name:        "newer stays contradicted while another conflict remains",
			olderStatus: domain.StatusContradicted,
			newerStatus: domain.StatusContradicted,
			rel:         domain.RelSupersedes,
			edges: func(older, newer *domain.Proposition) []domain.Edge {
				return []domain.Edge{contradicts(older, newer), contradicts(third, newer)}
			},
			wantEdge: true,
			want:     map[string]domain.Status{"older": domain.StatusSuperseded},
		},
		{
			name:        "older contradicted by someone else is left alone",
			olderStatus: domain.StatusContradicted,
			newerStatus: domain.StatusActive,
			rel:         domain.RelSupersedes,
			edges: func(older, newer *domain.Proposition) []domain.Edge {
				return []domain.Edge{contradicts(third, older)}
			},
			wantEdge: true,
		},
		{
			name:        "existing edge of the same type plans nothing",
			olderStatus: domain.StatusActive,
			newerStatus: domain.StatusActive,
			rel:         domain.RelSupports,
			edges: func(older, newer *domain.Proposition) []domain.Edge {
				return []domain.Edge{{ID: uuid.New(), SourceID: newer.ID, TargetID: older.ID, Type: domain.EdgeSupports}}
			},
		},
		{
			name:        "existing contradiction in the other direction plans nothing",
			olderStatus: domain.StatusContradicted,
			newerStatus: domain.StatusContradicted,
			rel:         domain.RelContradicts,
			edges: func(older, newer *domain.Proposition) []domain.Edge {
				return []domain.Edge{{ID: uuid.New(), SourceID: older.ID, TargetID: newer.ID, Type: domain.EdgeContradicts}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			older := prop(tt.olderStatus, now.Add(-2*time.Hour))
			newer := prop(tt.newerStatus, now.Add(-time.Hour))
			var edges []domain.Edge
			if tt.edges != nil {
				edges = tt.edges(older, newer)
			}

			got := planTransition(older, newer, verdict(tt.rel), edges, domain.CreatedByProcess, now)

			if !tt.wantEdge {
				if !got.Empty() {
					t.Errorf("expected no transition, got %+v", got)
				}
				return
			}
			if got.Edge == nil {
				t.Fatal("expected an edge")
			}
			if got.Edge.SourceID != newer.ID || got.Edge.TargetID != older.ID {
				t.Errorf("expected edge newer -> older, got %s -> %s", got.Edge.SourceID, got.Edge.TargetID)
			}
			if got.Edge.CreatedBy != domain.CreatedByProcess {
				t.Errorf("expected created_by %s, got %s", domain.CreatedByProcess, got.Edge.CreatedBy)
			}
			if !got.Edge.CreatedAt.Equal(now) {
				t.Errorf("expected created_at %v, got %v", now, got.Edge.CreatedAt)
			}

			updates := make(map[string]domain.StatusUpdate)
			for _, u := range got.Updates {
				switch u.PropositionID {
				case older.ID:
					updates["older"] = u
				case newer.ID:
					updates["newer"] = u
				default:
					t.Fatalf("update for unexpected proposition %s", u.PropositionID)
				}
			}
			if len(updates) != len(tt.want) {
				t.Fatalf("expected %d updates, got %d: %+v", len(tt.want), len(updates), updates)
			}
			for side, to := range tt.want {
				if updates[side].To != to {
					t.Errorf("expected %s to become %s, got %s", side, to, updates[side].To)
				}
			}
			if u, ok := updates["older"]; ok {
				if u.From != tt.olderStatus {
					t.Errorf("expected older guard %s, got %s", tt.olderStatus, u.From)
				}
				if u.To == domain.StatusSuperseded {
					if u.ValidTo == nil {
						t.Fatal("expected valid_to on the superseded side")
					}
					if !u.ValidTo.Equal(newer.RecordedAt) {
						t.Errorf("expected valid_to %v, got %v", newer.RecordedAt, *u.ValidTo)
					}
				}
			}
			if u, ok := updates["newer"]; ok {
				if u.From != tt.newerStatus {
					t.Errorf("expected newer guard %s, got %s", tt.newerStatus, u.From)
				}
				if u.To == domain.StatusActive && !u.ClearValidTo {
					t.Error("expected reactivation to clear valid_to")
				}
			}
		})
	}
}

func TestContradictionPartnersAreDistinct(t *testing.T) {
	a := prop(domain.StatusContradicted, testEpoch)
	b := prop(domain.StatusContradicted, testEpoch.Add(time.Second))
	edges := []domain.Edge{contradicts(a, b), contradicts(b, a), {SourceID: b.ID, TargetID: a.ID, Type: domain.EdgeSupports}}

	if got := contradictionPartners(edges, a.ID); !slices.Equal(got, []uuid.UUID{b.ID}) {
		t.Errorf("expected only %s, got %v", b.ID, got)
	}
}
