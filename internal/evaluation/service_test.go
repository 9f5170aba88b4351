package evaluation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clubops/internal/directory"
	"clubops/internal/registration"
)

type fakeReportStore struct {
	reports []Report
}

func (f *fakeReportStore) Insert(_ context.Context, rep Report) (Report, error) {
	rep.ID = fmt.Sprintf("rep-%d", len(f.reports)+1)
	rep.CreatedAt = time.Now().UTC()
	f.reports = append(f.reports, rep)
	return rep, nil
}

func (f *fakeReportStore) ListByRegistration(_ context.Context, registrationID string) ([]Report, error) {
	var res []Report
	for _, rep := range f.reports {
		if rep.RegistrationID == registrationID {
			res = append(res, rep)
		}
	}
	return res, nil
}

type fakeRegs struct {
	regs map[string]registration.Registration
}

func (f *fakeRegs) GetByID(_ context.Context, id string) (*registration.Registration, error) {
	if reg, ok := f.regs[id]; ok {
		return &reg, nil
	}
	return nil, nil
}

type fakeRoles struct {
	roles map[string]directory.Role
}

func (f *fakeRoles) Role(_ context.Context, id string) (*directory.Role, error) {
	if r, ok := f.roles[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func newTestService() (*Service, *fakeReportStore, *fakeRegs) {
	store := &fakeReportStore{}
	regs := &fakeRegs{regs: map[string]registration.Registration{
		"reg-1": {ID: "reg-1", MeetingID: "m1", UserID: "u1"},
	}}
	roles := &fakeRoles{roles: map[string]directory.Role{
		"role-speaker-1": {ID: "role-speaker-1", Name: "Speaker 1"},
	}}
	return NewService(zap.NewNop().Sugar(), store, regs, roles), store, regs
}

func intPtr(i int) *int { return &i }

func TestCreateReport(t *testing.T) {
	svc, _, _ := newTestService()

	rep, err := svc.CreateReport(context.Background(), "reg-1", "role-speaker-1",
		"Strong opening, work on pacing", intPtr(415), nil, true, "u2")
	require.NoError(t, err)
	require.Equal(t, "reg-1", rep.RegistrationID)
	require.Equal(t, "role-speaker-1", rep.RoleID)
	require.True(t, rep.Qualified)
	require.Equal(t, 415, *rep.TimeUsed)
	require.Equal(t, "u2", rep.CreatedBy)
	require.NotEmpty(t, rep.ID)
}

func TestCreateReportMissingRegistration(t *testing.T) {
	svc, _, regs := newTestService()

	// Registration deleted between the meeting and the evaluation.
	delete(regs.regs, "reg-1")

	_, err := svc.CreateReport(context.Background(), "reg-1", "role-speaker-1",
		"late evaluation", nil, nil, false, "u2")
	require.ErrorIs(t, err, registration.ErrNotFound)
}

func TestCreateReportMissingRole(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateReport(context.Background(), "reg-1", "role-missing",
		"comment", nil, nil, false, "u2")
	require.ErrorIs(t, err, registration.ErrRoleNotFound)
}

func TestCreateReportValidatesInput(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateReport(context.Background(), "reg-1", "role-speaker-1", "", nil, nil, false, "u2")
	require.Error(t, err)

	_, err = svc.CreateReport(context.Background(), "reg-1", "role-speaker-1", "comment", nil, nil, false, "")
	require.Error(t, err)
}

func TestMultipleReportsPerPairAllowed(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateReport(ctx, "reg-1", "role-speaker-1", "first pass", nil, nil, false, "u2")
	require.NoError(t, err)
	// Amended evaluation for the same registration+role.
	_, err = svc.CreateReport(ctx, "reg-1", "role-speaker-1", "amended after timer report", intPtr(460), nil, true, "u2")
	require.NoError(t, err)

	require.Len(t, store.reports, 2)

	reports, err := svc.ListReports(ctx, "reg-1")
	require.NoError(t, err)
	require.Len(t, reports, 2)
}

func TestListReportsMissingRegistration(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.ListReports(context.Background(), "reg-nope")
	require.ErrorIs(t, err, registration.ErrNotFound)
}
