// Package cml is a minimal client for the Cisco Modeling Labs REST API
// (/api/v0). It covers the lab lifecycle calls a test session needs and
// nothing else.
package cml

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/netlab-ci/cmltest/pkg/util"
	"github.com/netlab-ci/cmltest/pkg/version"
)

// Lab states reported by /labs/{id}/state.
const (
	StateDefined = "DEFINED_ON_CORE"
	StateStarted = "STARTED"
	StateStopped = "STOPPED"
	StateQueued  = "QUEUED"
	StateBooted  = "BOOTED"
)

const apiPrefix = "/api/v0"

// Lab is the subset of /labs/{id} cmltest uses.
type Lab struct {
	ID        string `json:"id"`
	Title     string `json:"lab_title"`
	State     string `json:"state"`
	Created   string `json:"created"`
	Owner     string `json:"owner_username"`
	NodeCount int    `json:"node_count"`
	LinkCount int    `json:"link_count"`
}

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("cml: %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("cml: %s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Unwrap maps 404 onto util.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return util.ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return errors.Is(err, util.ErrNotFound)
}

// Client talks to one CML controller. It is safe for sequential use from
// one session; the token is guarded so status queries from the CLI can
// share a client.
type Client struct {
	baseURL  *url.URL
	username string
	password string
	http     *http.Client

	mu    sync.Mutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The TLS setting from
// NewClient is not applied to a replaced client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken seeds the bearer token, skipping the first authentication.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client for host, which may be a bare host name
// ("cml.example.net"), host:port, or a full URL. Bare hosts use https.
// verifyCert=false disables TLS certificate verification, which is the
// norm for lab controllers with self-signed certificates.
func NewClient(host, username, password string, verifyCert bool, opts ...Option) (*Client, error) {
	base, err := baseURL(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:  base,
		username: username,
		password: password,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: !verifyCert}, //nolint:gosec // lab controllers use self-signed certs
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func baseURL(host string) (*url.URL, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("cml: empty host")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("cml: parse host %q: %w", host, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("cml: host %q has no host name", host)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Path = strings.TrimSuffix(u.Path, apiPrefix)
	return u, nil
}

// Host returns the controller host name without scheme or port.
func (c *Client) Host() string {
	return c.baseURL.Hostname()
}

// Authenticate exchanges the username and password for a bearer token.
func (c *Client) Authenticate(ctx context.Context) error {
	payload := map[string]string{"username": c.username, "password": c.password}
	var token string
	if err := c.send(ctx, http.MethodPost, "/authenticate", nil, payload, &token, false); err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("cml: authenticate: empty token")
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// ListLabs returns the ids of all labs visible to the user.
func (c *Client) ListLabs(ctx context.Context) ([]string, error) {
	var ids []string
	q := url.Values{"show_all": {"true"}}
	if err := c.do(ctx, http.MethodGet, "/labs", q, nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetLab returns a lab's details.
func (c *Client) GetLab(ctx context.Context, id string) (*Lab, error) {
	var lab Lab
	if err := c.do(ctx, http.MethodGet, "/labs/"+url.PathEscape(id), nil, nil, &lab); err != nil {
		return nil, err
	}
	if lab.ID == "" {
		lab.ID = id
	}
	return &lab, nil
}

// FindLabByTitle returns the first lab whose title matches. It returns an
// error wrapping util.ErrNotFound when none does.
func (c *Client) FindLabByTitle(ctx context.Context, title string) (*Lab, error) {
	ids, err := c.ListLabs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		lab, err := c.GetLab(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue // deleted between list and get
			}
			return nil, err
		}
		if lab.Title == title {
			return lab, nil
		}
	}
	return nil, fmt.Errorf("cml: lab titled %q: %w", title, util.ErrNotFound)
}

type importResponse struct {
	ID       string   `json:"id"`
	Warnings []string `json:"warnings"`
}

// ImportLab creates a lab from a topology document and returns its id.
// The lab is created stopped.
func (c *Client) ImportLab(ctx context.Context, title string, topology []byte) (string, error) {
	q := url.Values{}
	if title != "" {
		q.Set("title", title)
	}
	var resp importResponse
	if err := c.do(ctx, http.MethodPost, "/import", q, rawBody(topology), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("cml: import %q: response carried no lab id", title)
	}
	for _, w := range resp.Warnings {
		util.WithLab(resp.ID).Warnf("import warning: %s", w)
	}
	return resp.ID, nil
}

// StartLab starts every node in the lab.
func (c *Client) StartLab(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/labs/"+url.PathEscape(id)+"/start", nil, nil, nil)
}

// StopLab stops every node in the lab.
func (c *Client) StopLab(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/labs/"+url.PathEscape(id)+"/stop", nil, nil, nil)
}

// WipeLab discards node disks so the lab can be deleted.
func (c *Client) WipeLab(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/labs/"+url.PathEscape(id)+"/wipe", nil, nil, nil)
}

// DeleteLab removes a stopped, wiped lab.
func (c *Client) DeleteLab(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/labs/"+url.PathEscape(id), nil, nil, nil)
}

// LabState returns the lab state, e.g. StateStarted.
func (c *Client) LabState(ctx context.Context, id string) (string, error) {
	var state string
	if err := c.do(ctx, http.MethodGet, "/labs/"+url.PathEscape(id)+"/state", nil, nil, &state); err != nil {
		return "", err
	}
	return state, nil
}

// Converged reports whether every node in the lab has finished booting.
func (c *Client) Converged(ctx context.Context, id string) (bool, error) {
	var converged bool
	if err := c.do(ctx, http.MethodGet, "/labs/"+url.PathEscape(id)+"/check_if_converged", nil, nil, &converged); err != nil {
		return false, err
	}
	return converged, nil
}

// rawBody marks a request body that is sent as-is rather than JSON encoded.
type rawBody []byte

// do sends an authenticated request, authenticating first when no token is
// held and once more if the token has expired.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	c.mu.Lock()
	hasToken := c.token != ""
	c.mu.Unlock()
	if !hasToken {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
	}

	err := c.send(ctx, method, path, query, body, out, true)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		util.Debugf("cml: token rejected on %s %s, re-authenticating", method, path)
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		err = c.send(ctx, method, path, query, body, out, true)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}, auth bool) error {
	u := *c.baseURL
	u.Path = u.Path + apiPrefix + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case rawBody:
		reader = bytes.NewReader(b)
		contentType = "application/x-yaml"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("cml: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("cml: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.mu.Unlock()
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cml: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cml: read %s %s: %w", method, path, err)
	}
	util.WithFields(map[string]interface{}{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("cml api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cml: decode %s %s: %w", method, path, err)
	}
	return nil
}
