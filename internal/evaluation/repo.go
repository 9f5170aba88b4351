package evaluation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"clubops/internal/registration"
)

// Repository persists reports in Postgres.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a report. A registration or role deleted between the service
// check and this write surfaces as the corresponding missing-reference error.
func (r *Repository) Insert(ctx context.Context, rep Report) (Report, error) {
	if rep.ID == "" {
		rep.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO reports (id, registration_id, role_id, comment1, time_used, comment2, qualified, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, rep.ID, rep.RegistrationID, rep.RoleID, rep.Comment1, rep.TimeUsed, rep.Comment2, rep.Qualified, rep.CreatedBy)
	if err := row.Scan(&rep.CreatedAt); err != nil {
		return Report{}, mapRefErr(err)
	}
	return rep, nil
}

// ListByRegistration returns a registration's reports, oldest first.
func (r *Repository) ListByRegistration(ctx context.Context, registrationID string) ([]Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, registration_id, role_id, comment1, time_used, comment2, qualified, created_by, created_at
		FROM reports
		WHERE registration_id = $1
		ORDER BY created_at ASC, id ASC
	`, registrationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Report
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.ID, &rep.RegistrationID, &rep.RoleID, &rep.Comment1, &rep.TimeUsed,
			&rep.Comment2, &rep.Qualified, &rep.CreatedBy, &rep.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

func mapRefErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	switch pgErr.ConstraintName {
	case "fk_reports_registration":
		return registration.ErrNotFound
	case "fk_reports_role":
		return registration.ErrRoleNotFound
	case "fk_reports_creator":
		return registration.ErrMemberNotFound
	}
	return err
}
