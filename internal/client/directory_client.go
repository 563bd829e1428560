package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DirectoryClient implements service.DirectoryInterface against the user
// directory service over HTTP. The directory owns users, roles and role
// membership; this service only asks two questions of it.
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDirectoryClient creates a directory client for the given base URL.
func NewDirectoryClient(baseURL string, timeout time.Duration) *DirectoryClient {
	return &DirectoryClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HasRole reports whether the user holds the given role.
func (c *DirectoryClient) HasRole(ctx context.Context, userID, role string) (bool, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("role", role)

	var resp struct {
		HasRole bool `json:"has_role"`
	}
	if err := c.getJSON(ctx, "/api/v1/roles/check?"+q.Encode(), &resp); err != nil {
		return false, err
	}
	return resp.HasRole, nil
}

// UsersWithRole returns the IDs of active users holding the given role,
// used to pre-assign approvers and fan out notifications. An empty slice is
// not an error: levels are then left unassigned and any holder of the role
// may decide.
func (c *DirectoryClient) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	q := url.Values{}
	q.Set("role", role)
	q.Set("active", "true")

	var resp struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := c.getJSON(ctx, "/api/v1/users?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.UserIDs, nil
}

// UserRoles returns the roles a user holds, used to build approver inboxes.
func (c *DirectoryClient) UserRoles(ctx context.Context, userID string) ([]string, error) {
	q := url.Values{}
	q.Set("user_id", userID)

	var resp struct {
		Roles []string `json:"roles"`
	}
	if err := c.getJSON(ctx, "/api/v1/users/roles?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Roles, nil
}

func (c *DirectoryClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
