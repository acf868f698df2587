// Package client talks to the accounts HTTP API on behalf of a single user.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/profilekit/accounts/types"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.StatusCode)
}

// ErrNotSignedIn is returned by calls that need a session when none is stored.
var ErrNotSignedIn = errors.New("not signed in")

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.tokens = store }
}

// Client holds one user's session and issues API calls with it.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenStore
}

// New returns a client for the API rooted at baseURL. Sessions are kept in
// memory unless WithTokenStore is given.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http(s), got %q", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		tokens:  &MemoryTokenStore{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp registers a new user and stores the returned session.
func (c *Client) SignUp(ctx context.Context, email, password string) (types.Session, error) {
	return c.authenticate(ctx, "/auth/signup", email, password)
}

// SignIn exchanges credentials for a session and stores it.
func (c *Client) SignIn(ctx context.Context, email, password string) (types.Session, error) {
	return c.authenticate(ctx, "/auth/token", email, password)
}

func (c *Client) authenticate(ctx context.Context, endpoint, email, password string) (types.Session, error) {
	var session types.Session
	if err := c.doJSON(ctx, http.MethodPost, endpoint, "", credentials{Email: email, Password: password}, &session); err != nil {
		return types.Session{}, err
	}
	if err := c.tokens.Save(session); err != nil {
		return types.Session{}, err
	}
	return session, nil
}

// GetSession returns the current session, or nil when signed out. A session
// the server no longer accepts is cleared and reported as signed out.
func (c *Client) GetSession(ctx context.Context) (*types.Session, error) {
	stored, err := c.tokens.Load()
	if err != nil || stored == nil {
		return nil, err
	}

	var session types.Session
	err = c.doJSON(ctx, http.MethodGet, "/auth/session", stored.AccessToken, nil, &session)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, c.tokens.Clear()
		}
		return nil, err
	}
	return &session, nil
}

// SelectProfile fetches the signed-in user's profile. found is false when
// the user has not saved one yet.
func (c *Client) SelectProfile(ctx context.Context, userID string) (profile types.Profile, found bool, err error) {
	token, err := c.token()
	if err != nil {
		return types.Profile{}, false, err
	}

	err = c.doJSON(ctx, http.MethodGet, "/profiles/me", token, nil, &profile)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return types.Profile{}, false, nil
		}
		return types.Profile{}, false, err
	}
	if userID != "" && profile.ID != userID {
		return types.Profile{}, false, fmt.Errorf("profile belongs to %s, expected %s", profile.ID, userID)
	}
	return profile, true, nil
}

// UpsertProfile replaces the signed-in user's profile.
func (c *Client) UpsertProfile(ctx context.Context, update types.ProfileUpdate) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, "/profiles/me", token, update, nil)
}

// UploadAvatar sends an image and returns the storage path to reference
// from the profile.
func (c *Client) UploadAvatar(ctx context.Context, filename string, r io.Reader) (string, error) {
	token, err := c.token()
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/storage/avatars", token, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Path string `json:"path"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

// DownloadAvatar opens a stored avatar. The caller closes the body.
func (c *Client) DownloadAvatar(ctx context.Context, avatarPath string) (io.ReadCloser, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/storage/avatars/"+url.PathEscape(avatarPath), "", nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, "", decodeAPIError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// SignOut ends the session on the server and forgets it locally. It is a
// no-op when signed out.
func (c *Client) SignOut(ctx context.Context) error {
	stored, err := c.tokens.Load()
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	err = c.doJSON(ctx, http.MethodPost, "/auth/logout", stored.AccessToken, nil, nil)
	var apiErr *APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized) {
		return err
	}
	return c.tokens.Clear()
}

func (c *Client) token() (string, error) {
	stored, err := c.tokens.Load()
	if err != nil {
		return "", err
	}
	if stored == nil {
		return "", ErrNotSignedIn
	}
	return stored.AccessToken, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, endpoint, token, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, token string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + endpoint
	u.RawPath = ""
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
