// Package client talks to the passkeeper server on behalf of a host and
// provides the prompts used by the interactive shell.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/atinyakov/passkeeper/internal/models"
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// Status reports the server state.
type Status struct {
	Busy     bool `json:"busy"`
	LoggedIn bool `json:"loggedIn"`
}

// Client is a typed wrapper over the login storage API.
type Client struct {
	http    *http.Client
	baseURL string
}

// New returns a Client that sends requests to baseURL with httpClient.
func New(httpClient *http.Client, baseURL string) *Client {
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// lookup encodes a find or count query. Nil values are omitted, which the
// server reads as "must be absent".
func lookup(hostname string, formSubmitURL, httpRealm *string) url.Values {
	q := url.Values{"hostname": {hostname}}
	if formSubmitURL != nil {
		q.Set("formSubmitURL", *formSubmitURL)
	}
	if httpRealm != nil {
		q.Set("httpRealm", *httpRealm)
	}
	return q
}

// AddLogin stores a new login.
func (c *Client) AddLogin(ctx context.Context, login models.Login) error {
	return c.do(ctx, http.MethodPost, "/api/logins", nil, login, nil)
}

// GetAllLogins returns every stored login.
func (c *Client) GetAllLogins(ctx context.Context) ([]models.Login, error) {
	var logins []models.Login
	err := c.do(ctx, http.MethodGet, "/api/logins", nil, nil, &logins)
	return logins, err
}

// RemoveAllLogins deletes every stored login.
func (c *Client) RemoveAllLogins(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/logins", nil, nil, nil)
}

// RemoveLogin deletes the logins matching login.
func (c *Client) RemoveLogin(ctx context.Context, login models.Login) error {
	return c.do(ctx, http.MethodPost, "/api/logins/remove", nil, login, nil)
}

// ModifyLogin applies change to the logins matching old.
func (c *Client) ModifyLogin(ctx context.Context, old models.Login, change models.Change) error {
	body := map[string]any{"old": old}
	switch change.Kind {
	case models.ChangeSet:
		fields := change.Fields
		if fields == nil {
			fields = map[models.Field]*string{}
		}
		body["changes"] = fields
	case models.FullRecord:
		body["login"] = change.Record
	default:
		return fmt.Errorf("unknown change kind %d", change.Kind)
	}
	return c.do(ctx, http.MethodPost, "/api/logins/modify", nil, body, nil)
}

// SearchLogins returns the logins matching md.
func (c *Client) SearchLogins(ctx context.Context, md models.MatchData) ([]models.Login, error) {
	var logins []models.Login
	err := c.do(ctx, http.MethodPost, "/api/logins/search", nil, md, &logins)
	return logins, err
}

// FindLogins returns the logins for hostname with the given submit URL and
// realm. An empty value matches anything when the server runs fuzzy.
func (c *Client) FindLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) ([]models.Login, error) {
	var logins []models.Login
	err := c.do(ctx, http.MethodGet, "/api/logins/find", lookup(hostname, formSubmitURL, httpRealm), nil, &logins)
	return logins, err
}

// CountLogins returns the number of logins FindLogins would consider.
func (c *Client) CountLogins(ctx context.Context, hostname string, formSubmitURL, httpRealm *string) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/api/logins/count", lookup(hostname, formSubmitURL, httpRealm), nil, &resp)
	return resp.Count, err
}

// Status returns whether the server is busy and logged in.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &s)
	return s, err
}
