package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/u1":
			_ = json.NewEncoder(w).Encode(User{ID: "u1", Name: "Ada", Active: true})
		case "/v1/roles/role-timer":
			_ = json.NewEncoder(w).Encode(Role{ID: "role-timer", Name: "Timer"})
		case "/v1/meetings/m1":
			_ = json.NewEncoder(w).Encode(Meeting{ID: "m1", Status: "upcoming"})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	ctx := context.Background()

	user, err := c.User(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ada", user.Name)
	require.True(t, user.Active)

	role, err := c.Role(ctx, "role-timer")
	require.NoError(t, err)
	require.Equal(t, "Timer", role.Name)

	meeting, err := c.Meeting(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "upcoming", meeting.Status)

	require.NoError(t, c.Health(ctx))
}

func TestLookupMissingReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	user, err := c.User(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestSkipModeReturnsFixtures(t *testing.T) {
	c := New("http://unused", true)
	ctx := context.Background()

	user, err := c.User(ctx, "anyone")
	require.NoError(t, err)
	require.True(t, user.Active)

	meeting, err := c.Meeting(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "upcoming", meeting.Status)

	require.NoError(t, c.Health(ctx))
}
