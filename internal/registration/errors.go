package registration

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no registration exists for the given key.
	ErrNotFound = errors.New("registration not found")
	// ErrMeetingNotFound signals an unknown meeting reference.
	ErrMeetingNotFound = errors.New("meeting not found")
	// ErrMemberNotFound signals an unknown or inactive member reference.
	ErrMemberNotFound = errors.New("member not found")
	// ErrRoleNotFound signals an unknown role reference.
	ErrRoleNotFound = errors.New("role not found")
	// ErrAlreadyRegistered signals a duplicate registration for a (meeting, member) pair.
	ErrAlreadyRegistered = errors.New("already registered for meeting")
	// ErrRoleTaken signals a role held by another member in the same meeting.
	// Matched via errors.Is against *RoleConflictError.
	ErrRoleTaken = errors.New("role already taken")
	// ErrInvalidStatus signals an attendance status outside the recognized set.
	ErrInvalidStatus = errors.New("invalid attendance status")
)

// RoleConflictError reports which member holds the contested role so the
// caller can explain the rejection without a second lookup. HeldBy may be
// empty in the rare case the occupying row vanished between the violation
// and the re-read.
type RoleConflictError struct {
	MeetingID string
	RoleID    string
	HeldBy    string
}

func (e *RoleConflictError) Error() string {
	if e.HeldBy == "" {
		return fmt.Sprintf("role %s already taken in meeting %s", e.RoleID, e.MeetingID)
	}
	return fmt.Sprintf("role %s in meeting %s is held by member %s", e.RoleID, e.MeetingID, e.HeldBy)
}

// Is makes errors.Is(err, ErrRoleTaken) match conflict errors.
func (e *RoleConflictError) Is(target error) bool { return target == ErrRoleTaken }
