package registration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	// holderReads bounds the re-read loop that names the occupant after a
	// role-index violation.
	holderReads = 3
)

const regColumns = `id, meeting_id, user_id, role_id, status, speech_title, speech_objectives, registered_at`

// Repository persists registrations and speech logs in Postgres.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the registration for a (meeting, member) pair, nil when absent.
func (r *Repository) Get(ctx context.Context, meetingID, userID string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+regColumns+`
		FROM registrations
		WHERE meeting_id = $1 AND user_id = $2
	`, meetingID, userID)
	return scanOptional(row)
}

// GetByID returns a registration by primary key, nil when absent.
func (r *Repository) GetByID(ctx context.Context, id string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+regColumns+`
		FROM registrations
		WHERE id = $1
	`, id)
	return scanOptional(row)
}

// List returns a meeting's roster ordered by registration time ascending,
// the stable order agendas are printed in.
func (r *Repository) List(ctx context.Context, meetingID string) ([]Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+regColumns+`
		FROM registrations
		WHERE meeting_id = $1
		ORDER BY registered_at ASC, id ASC
	`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Registration
	for rows.Next() {
		var reg Registration
		if err := scanInto(rows, &reg); err != nil {
			return nil, err
		}
		res = append(res, reg)
	}
	return res, rows.Err()
}

// Insert writes a new registration. Duplicate (meeting, member) pairs map to
// ErrAlreadyRegistered, claimed roles to *RoleConflictError.
func (r *Repository) Insert(ctx context.Context, reg Registration) (Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.Status == "" {
		reg.Status = StatusRegistered
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO registrations (id, meeting_id, user_id, role_id, status, speech_title, speech_objectives)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING registered_at
	`, reg.ID, reg.MeetingID, reg.UserID, reg.RoleID, reg.Status, reg.SpeechTitle, reg.SpeechObjectives)
	if err := row.Scan(&reg.RegisteredAt); err != nil {
		return Registration{}, r.mapWriteErr(ctx, err, reg)
	}
	return reg, nil
}

// UpdateDetails overwrites role and speech metadata for an existing row.
func (r *Repository) UpdateDetails(ctx context.Context, reg Registration) (Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE registrations
		SET role_id = $2, speech_title = $3, speech_objectives = $4
		WHERE id = $1
		RETURNING `+regColumns+`
	`, reg.ID, reg.RoleID, reg.SpeechTitle, reg.SpeechObjectives)
	var out Registration
	if err := scanInto(row, &out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Registration{}, fmt.Errorf("%w: %s", ErrNotFound, reg.ID)
		}
		return Registration{}, r.mapWriteErr(ctx, err, reg)
	}
	return out, nil
}

// Upsert creates the registration or overwrites the role on the existing row.
// Attendance state and speech metadata on an existing row are preserved.
func (r *Repository) Upsert(ctx context.Context, reg Registration) (Registration, error) {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.Status == "" {
		reg.Status = StatusRegistered
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO registrations (id, meeting_id, user_id, role_id, status, speech_title, speech_objectives)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (meeting_id, user_id) DO UPDATE SET
			role_id = EXCLUDED.role_id
		RETURNING `+regColumns+`
	`, reg.ID, reg.MeetingID, reg.UserID, reg.RoleID, reg.Status, reg.SpeechTitle, reg.SpeechObjectives)
	var out Registration
	if err := scanInto(row, &out); err != nil {
		return Registration{}, r.mapWriteErr(ctx, err, reg)
	}
	return out, nil
}

// SetStatus overwrites the attendance status, nil when the row is missing.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE registrations
		SET status = $2
		WHERE id = $1
		RETURNING `+regColumns+`
	`, id, status)
	return scanOptional(row)
}

// SetRole overwrites (or clears, with nil) the role, nil when missing.
func (r *Repository) SetRole(ctx context.Context, id string, roleID *string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE registrations
		SET role_id = $2
		WHERE id = $1
		RETURNING `+regColumns+`
	`, id, roleID)
	reg, err := scanOptional(row)
	if err != nil {
		return nil, r.mapWriteErr(ctx, err, Registration{ID: id, RoleID: roleID})
	}
	return reg, nil
}

// Delete removes a registration; reports cascade via foreign keys.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RoleHolder returns the registration occupying a role in a meeting, nil
// when the role is free.
func (r *Repository) RoleHolder(ctx context.Context, meetingID, roleID string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+regColumns+`
		FROM registrations
		WHERE meeting_id = $1 AND role_id = $2
	`, meetingID, roleID)
	return scanOptional(row)
}

// InsertSpeechLog appends a history entry, numbering it after the member's
// latest speech in the same statement so concurrent inserts cannot collide
// on a stale count.
func (r *Repository) InsertSpeechLog(ctx context.Context, entry SpeechLog) (SpeechLog, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO speech_logs (id, user_id, speech_name, speech_no, created_by)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(speech_no), 0) + 1 FROM speech_logs WHERE user_id = $2),
			$4)
		RETURNING speech_no, created_at
	`, entry.ID, entry.UserID, entry.SpeechName, entry.CreatedBy)
	if err := row.Scan(&entry.SpeechNo, &entry.CreatedAt); err != nil {
		return SpeechLog{}, mapRefErr(err)
	}
	return entry, nil
}

// ListSpeechLogs returns a member's speaking history in speech order.
func (r *Repository) ListSpeechLogs(ctx context.Context, userID string) ([]SpeechLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, speech_name, speech_no, created_by, created_at
		FROM speech_logs
		WHERE user_id = $1
		ORDER BY speech_no ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []SpeechLog
	for rows.Next() {
		var entry SpeechLog
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.SpeechName, &entry.SpeechNo, &entry.CreatedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, entry)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner, reg *Registration) error {
	return s.Scan(&reg.ID, &reg.MeetingID, &reg.UserID, &reg.RoleID, &reg.Status,
		&reg.SpeechTitle, &reg.SpeechObjectives, &reg.RegisteredAt)
}

func scanOptional(row *sql.Row) (*Registration, error) {
	var reg Registration
	if err := scanInto(row, &reg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// mapWriteErr translates constraint violations into the error taxonomy. When
// the role index fires, the holder is re-read a bounded number of times so
// the surfaced conflict still names the occupant after a lost race.
func (r *Repository) mapWriteErr(ctx context.Context, err error, reg Registration) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "ux_registrations_meeting_user":
		return fmt.Errorf("%w: meeting %s, member %s", ErrAlreadyRegistered, reg.MeetingID, reg.UserID)
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "ux_registrations_meeting_role":
		conflict := &RoleConflictError{MeetingID: reg.MeetingID}
		if reg.RoleID != nil {
			conflict.RoleID = *reg.RoleID
		}
		if conflict.MeetingID == "" && reg.ID != "" {
			if cur, gerr := r.GetByID(ctx, reg.ID); gerr == nil && cur != nil {
				conflict.MeetingID = cur.MeetingID
			}
		}
		for i := 0; i < holderReads; i++ {
			holder, herr := r.RoleHolder(ctx, conflict.MeetingID, conflict.RoleID)
			if herr != nil {
				break
			}
			if holder != nil {
				conflict.HeldBy = holder.UserID
				break
			}
		}
		return conflict
	case pgErr.Code == pgForeignKeyViolation:
		return mapRefErr(err)
	}
	return err
}

// mapRefErr translates foreign-key violations into missing-reference errors.
func mapRefErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgForeignKeyViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "fk_registrations_meeting":
		return ErrMeetingNotFound
	case "fk_registrations_user", "fk_speech_logs_user", "fk_speech_logs_creator":
		return ErrMemberNotFound
	case "fk_registrations_role":
		return ErrRoleNotFound
	}
	return err
}
