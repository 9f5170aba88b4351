// Package directory talks to the club directory service, the external owner
// of member, role, and meeting reference data. The core never caches these
// records; every lookup is a per-request snapshot.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// User is a club member as known by the directory.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Role is a meeting duty from the role catalog.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Meeting is a scheduled club meeting.
type Meeting struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
}

// Client calls the directory service. With Skip set it returns permissive
// fixtures instead of making requests, for local development.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// User fetches a member by id. Returns nil without error when unknown.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	if c.Skip {
		return &User{ID: id, Name: "Dev Member", Active: true}, nil
	}
	var out User
	ok, err := c.get(ctx, "/v1/users/"+id, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// Role fetches a role by id. Returns nil without error when unknown.
func (c *Client) Role(ctx context.Context, id string) (*Role, error) {
	if c.Skip {
		return &Role{ID: id, Name: "Timer"}, nil
	}
	var out Role
	ok, err := c.get(ctx, "/v1/roles/"+id, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// Meeting fetches a meeting by id. Returns nil without error when unknown.
func (c *Client) Meeting(ctx context.Context, id string) (*Meeting, error) {
	if c.Skip {
		return &Meeting{ID: id, Date: time.Now().UTC(), Status: "upcoming"}, nil
	}
	var out Meeting
	ok, err := c.get(ctx, "/v1/meetings/"+id, &out)
	if err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// Health checks if the directory service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("directory unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("directory unhealthy: %s", resp.Status)
	}
	return nil
}

// get performs a lookup; false means 404.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("directory error %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
