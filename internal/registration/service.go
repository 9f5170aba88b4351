package registration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clubops/internal/directory"
)

// Status is the attendance lifecycle state of a registration.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusAttended   Status = "attended"
	StatusAbsent     Status = "absent"
)

// ValidStatus reports whether s is one of the recognized attendance states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusRegistered, StatusAttended, StatusAbsent:
		return true
	}
	return false
}

// Registration records one member's participation claim in one meeting.
type Registration struct {
	ID               string    `json:"id"`
	MeetingID        string    `json:"meeting_id"`
	UserID           string    `json:"user_id"`
	RoleID           *string   `json:"role_id,omitempty"`
	Status           Status    `json:"status"`
	SpeechTitle      *string   `json:"speech_title,omitempty"`
	SpeechObjectives *string   `json:"speech_objectives,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// SpeechLog is one entry in a member's speaking history. It is keyed to the
// member, not to a registration, so roster corrections never erase history.
type SpeechLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SpeechName string    `json:"speech_name"`
	SpeechNo   int       `json:"speech_no"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoleChange distinguishes "leave the role alone" (Set false) from
// "assign this role" and "clear the role" (Set true, nil ID).
type RoleChange struct {
	Set bool
	ID  *string
}

// UpdateParams carries partial updates; nil fields are left unchanged.
type UpdateParams struct {
	Role             RoleChange
	SpeechTitle      *string
	SpeechObjectives *string
}

// Store is the persistence boundary for registrations and speech logs.
type Store interface {
	Get(ctx context.Context, meetingID, userID string) (*Registration, error)
	GetByID(ctx context.Context, id string) (*Registration, error)
	List(ctx context.Context, meetingID string) ([]Registration, error)
	Insert(ctx context.Context, reg Registration) (Registration, error)
	UpdateDetails(ctx context.Context, reg Registration) (Registration, error)
	Upsert(ctx context.Context, reg Registration) (Registration, error)
	SetStatus(ctx context.Context, id string, status Status) (*Registration, error)
	SetRole(ctx context.Context, id string, roleID *string) (*Registration, error)
	Delete(ctx context.Context, id string) error
	RoleHolder(ctx context.Context, meetingID, roleID string) (*Registration, error)
	InsertSpeechLog(ctx context.Context, entry SpeechLog) (SpeechLog, error)
	ListSpeechLogs(ctx context.Context, userID string) ([]SpeechLog, error)
}

// Catalog resolves reference data owned by the external directory service.
// Lookups return nil without error when the record does not exist.
type Catalog interface {
	User(ctx context.Context, id string) (*directory.User, error)
	Role(ctx context.Context, id string) (*directory.Role, error)
	Meeting(ctx context.Context, id string) (*directory.Meeting, error)
}

// Service is the registration ledger: who is in which meeting, with what
// role and attendance state.
type Service struct {
	log     *zap.SugaredLogger
	store   Store
	catalog Catalog
}

// NewService creates the ledger service.
func NewService(log *zap.SugaredLogger, store Store, catalog Catalog) *Service {
	return &Service{log: log.Named("registration"), store: store, catalog: catalog}
}

// Register creates a registration for (meetingID, userID). The policy is
// strict-create: a second register call for the same pair fails with
// ErrAlreadyRegistered; partial mutation goes through Update.
func (s *Service) Register(ctx context.Context, meetingID, userID string, roleID, speechTitle, speechObjectives *string) (Registration, error) {
	if err := s.checkRefs(ctx, meetingID, userID, roleID); err != nil {
		return Registration{}, err
	}
	existing, err := s.store.Get(ctx, meetingID, userID)
	if err != nil {
		return Registration{}, err
	}
	if existing != nil {
		return Registration{}, fmt.Errorf("%w: meeting %s, member %s", ErrAlreadyRegistered, meetingID, userID)
	}
	if roleID != nil {
		if err := s.checkRoleFree(ctx, meetingID, *roleID, userID); err != nil {
			return Registration{}, err
		}
	}
	reg, err := s.store.Insert(ctx, Registration{
		MeetingID:        meetingID,
		UserID:           userID,
		RoleID:           roleID,
		Status:           StatusRegistered,
		SpeechTitle:      speechTitle,
		SpeechObjectives: speechObjectives,
	})
	if err != nil {
		return Registration{}, err
	}
	s.log.Infow("registered", "meeting_id", meetingID, "user_id", userID)
	return reg, nil
}

// Update applies partial changes to an existing registration. A RoleChange
// with Set and a nil ID clears the role; an unset RoleChange leaves it alone.
func (s *Service) Update(ctx context.Context, meetingID, userID string, p UpdateParams) (Registration, error) {
	existing, err := s.store.Get(ctx, meetingID, userID)
	if err != nil {
		return Registration{}, err
	}
	if existing == nil {
		return Registration{}, fmt.Errorf("%w: meeting %s, member %s", ErrNotFound, meetingID, userID)
	}
	if p.Role.Set {
		if p.Role.ID != nil {
			if err := s.checkRole(ctx, *p.Role.ID); err != nil {
				return Registration{}, err
			}
			if err := s.checkRoleFree(ctx, meetingID, *p.Role.ID, userID); err != nil {
				return Registration{}, err
			}
		}
		existing.RoleID = p.Role.ID
	}
	if p.SpeechTitle != nil {
		existing.SpeechTitle = p.SpeechTitle
	}
	if p.SpeechObjectives != nil {
		existing.SpeechObjectives = p.SpeechObjectives
	}
	return s.store.UpdateDetails(ctx, *existing)
}

// Get returns the registration for (meetingID, userID), or nil when the
// member has not signed up.
func (s *Service) Get(ctx context.Context, meetingID, userID string) (*Registration, error) {
	return s.store.Get(ctx, meetingID, userID)
}

// List returns a meeting's roster ordered by registration time.
func (s *Service) List(ctx context.Context, meetingID string) ([]Registration, error) {
	meeting, err := s.catalog.Meeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting == nil {
		return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
	}
	return s.store.List(ctx, meetingID)
}

// AddAttendee is the operator path: it creates the registration or, when the
// member already signed up, overwrites their role. Role exclusivity still
// applies.
func (s *Service) AddAttendee(ctx context.Context, meetingID, userID string, roleID *string) (Registration, error) {
	if err := s.checkRefs(ctx, meetingID, userID, roleID); err != nil {
		return Registration{}, err
	}
	if roleID != nil {
		if err := s.checkRoleFree(ctx, meetingID, *roleID, userID); err != nil {
			return Registration{}, err
		}
	}
	reg, err := s.store.Upsert(ctx, Registration{
		MeetingID: meetingID,
		UserID:    userID,
		RoleID:    roleID,
		Status:    StatusRegistered,
	})
	if err != nil {
		return Registration{}, err
	}
	s.log.Infow("attendee added", "meeting_id", meetingID, "user_id", userID)
	return reg, nil
}

// SetAttendance moves a registration's attendance state. Any recognized
// value may overwrite any prior value so operator corrections stay possible.
func (s *Service) SetAttendance(ctx context.Context, registrationID string, status Status) (Registration, error) {
	if !ValidStatus(status) {
		return Registration{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	reg, err := s.store.SetStatus(ctx, registrationID, status)
	if err != nil {
		return Registration{}, err
	}
	if reg == nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrNotFound, registrationID)
	}
	return *reg, nil
}

// SetRole reassigns or clears (nil roleID) a registration's role.
func (s *Service) SetRole(ctx context.Context, registrationID string, roleID *string) (Registration, error) {
	existing, err := s.store.GetByID(ctx, registrationID)
	if err != nil {
		return Registration{}, err
	}
	if existing == nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrNotFound, registrationID)
	}
	if roleID != nil {
		if err := s.checkRole(ctx, *roleID); err != nil {
			return Registration{}, err
		}
		if err := s.checkRoleFree(ctx, existing.MeetingID, *roleID, existing.UserID); err != nil {
			return Registration{}, err
		}
	}
	reg, err := s.store.SetRole(ctx, registrationID, roleID)
	if err != nil {
		return Registration{}, err
	}
	if reg == nil {
		return Registration{}, fmt.Errorf("%w: %s", ErrNotFound, registrationID)
	}
	return *reg, nil
}

// GetByID returns a registration by primary key, or nil when missing.
func (s *Service) GetByID(ctx context.Context, registrationID string) (*Registration, error) {
	return s.store.GetByID(ctx, registrationID)
}

// Delete removes a registration; dependent reports cascade in the store.
func (s *Service) Delete(ctx context.Context, registrationID string) error {
	return s.store.Delete(ctx, registrationID)
}

// RecordSpeech appends a speech-log entry to the member's history with the
// next sequence number.
func (s *Service) RecordSpeech(ctx context.Context, userID, speechName, createdBy string) (SpeechLog, error) {
	if userID == "" || speechName == "" || createdBy == "" {
		return SpeechLog{}, fmt.Errorf("user, speech name and creator required")
	}
	entry, err := s.store.InsertSpeechLog(ctx, SpeechLog{
		UserID:     userID,
		SpeechName: speechName,
		CreatedBy:  createdBy,
	})
	if err != nil {
		return SpeechLog{}, err
	}
	s.log.Infow("speech recorded", "user_id", userID, "speech_no", entry.SpeechNo)
	return entry, nil
}

// Speeches returns the member's speaking history, oldest first.
func (s *Service) Speeches(ctx context.Context, userID string) ([]SpeechLog, error) {
	return s.store.ListSpeechLogs(ctx, userID)
}

// checkRefs validates the external references behind a write.
func (s *Service) checkRefs(ctx context.Context, meetingID, userID string, roleID *string) error {
	meeting, err := s.catalog.Meeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting == nil {
		return fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
	}
	user, err := s.catalog.User(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || !user.Active {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, userID)
	}
	if roleID != nil {
		return s.checkRole(ctx, *roleID)
	}
	return nil
}

func (s *Service) checkRole(ctx context.Context, roleID string) error {
	role, err := s.catalog.Role(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	return nil
}

// checkRoleFree enforces one holder per role per meeting. Holding the role
// yourself is fine (idempotent re-assignment); anyone else is a conflict.
// This pre-check names the occupant; the partial unique index in the store
// is the authoritative guard against races.
func (s *Service) checkRoleFree(ctx context.Context, meetingID, roleID, userID string) error {
	holder, err := s.store.RoleHolder(ctx, meetingID, roleID)
	if err != nil {
		return err
	}
	if holder != nil && holder.UserID != userID {
		return &RoleConflictError{MeetingID: meetingID, RoleID: roleID, HeldBy: holder.UserID}
	}
	return nil
}
