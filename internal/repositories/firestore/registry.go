package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/firestore"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/repositories"
)

// Registry assembles the Firestore repositories on one provider.
type Registry struct {
	provider     *pfirestore.Provider
	nominees     *NomineeRepository
	requirements *RequirementRepository
	auditLogs    *AuditLogRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on provider. health may be nil when readiness checks are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	nominees, err := NewNomineeRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("nominee repository: %w", err)
	}
	requirements, err := NewRequirementRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("requirement repository: %w", err)
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("audit log repository: %w", err)
	}
	return &Registry{
		provider:     provider,
		nominees:     nominees,
		requirements: requirements,
		auditLogs:    auditLogs,
		health:       health,
	}, nil
}

func (r *Registry) Nominees() repositories.NomineeRepository { return r.nominees }

func (r *Registry) Requirements() repositories.RequirementRepository { return r.requirements }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

// Health returns nil when no health repository was supplied.
func (r *Registry) Health() repositories.HealthRepository {
	if r.health == nil {
		return nil
	}
	return r.health
}

// Close shuts down the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
