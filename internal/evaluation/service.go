// Package evaluation attaches post-meeting reports to a registration and the
// role that was evaluated.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clubops/internal/directory"
	"clubops/internal/registration"
)

// Report is an evaluation artifact about one registration+role pair. The
// role reference is the role that was evaluated, which can differ from the
// registration's current role if it was reassigned afterwards.
type Report struct {
	ID             string    `json:"id"`
	RegistrationID string    `json:"registration_id"`
	RoleID         string    `json:"role_id"`
	Comment1       string    `json:"comment1"`
	TimeUsed       *int      `json:"time_used,omitempty"`
	Comment2       *string   `json:"comment2,omitempty"`
	Qualified      bool      `json:"qualified"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the persistence boundary for reports.
type Store interface {
	Insert(ctx context.Context, rep Report) (Report, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]Report, error)
}

// Registrations resolves the registration being evaluated.
type Registrations interface {
	GetByID(ctx context.Context, id string) (*registration.Registration, error)
}

// Roles resolves the role catalog entry being evaluated.
type Roles interface {
	Role(ctx context.Context, id string) (*directory.Role, error)
}

// Service validates and records evaluation reports.
type Service struct {
	log   *zap.SugaredLogger
	store Store
	regs  Registrations
	roles Roles
}

// NewService creates the evaluation service.
func NewService(log *zap.SugaredLogger, store Store, regs Registrations, roles Roles) *Service {
	return &Service{log: log.Named("evaluation"), store: store, regs: regs, roles: roles}
}

// CreateReport records a report. Multiple reports per (registration, role)
// are allowed; amended evaluations are a normal club workflow.
func (s *Service) CreateReport(ctx context.Context, registrationID, roleID, comment1 string, timeUsed *int, comment2 *string, qualified bool, createdBy string) (Report, error) {
	if comment1 == "" || createdBy == "" {
		return Report{}, fmt.Errorf("comment and evaluator required")
	}
	reg, err := s.regs.GetByID(ctx, registrationID)
	if err != nil {
		return Report{}, err
	}
	if reg == nil {
		return Report{}, fmt.Errorf("%w: %s", registration.ErrNotFound, registrationID)
	}
	role, err := s.roles.Role(ctx, roleID)
	if err != nil {
		return Report{}, err
	}
	if role == nil {
		return Report{}, fmt.Errorf("%w: %s", registration.ErrRoleNotFound, roleID)
	}
	rep, err := s.store.Insert(ctx, Report{
		RegistrationID: registrationID,
		RoleID:         roleID,
		Comment1:       comment1,
		TimeUsed:       timeUsed,
		Comment2:       comment2,
		Qualified:      qualified,
		CreatedBy:      createdBy,
	})
	if err != nil {
		return Report{}, err
	}
	s.log.Infow("report created", "registration_id", registrationID, "role_id", roleID)
	return rep, nil
}

// ListReports returns the reports filed against a registration, oldest first.
func (s *Service) ListReports(ctx context.Context, registrationID string) ([]Report, error) {
	reg, err := s.regs.GetByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: %s", registration.ErrNotFound, registrationID)
	}
	return s.store.ListByRegistration(ctx, registrationID)
}
