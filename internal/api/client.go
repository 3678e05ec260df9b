// Package api is the HTTP collaborator of the chat client: session, roster,
// history and feed endpoints served by the forum server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forumchat/internal/models"
)

var (
	// ErrUnexpectedContentType is returned when a JSON endpoint answers with
	// another media type.
	ErrUnexpectedContentType = errors.New("api: unexpected content type")
	// ErrNoSession is returned when no session cookie has been issued yet.
	ErrNoSession = errors.New("api: no session cookie")
)

// Session cookie names: the forum server issues session_token, JWT-backed
// deployments issue auth_token.
var sessionCookieNames = []string{"session_token", "auth_token"}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, body)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	jar     http.CookieJar
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout, Jar: jar},
		jar:     jar,
		logger:  slog.Default().With("component", "api.client"),
	}, nil
}

// Me returns the local user's identifier for the current session.
func (c *Client) Me(ctx context.Context) (string, error) {
	var me models.MeResponse
	if err := c.getJSON(ctx, "/me", nil, &me, true); err != nil {
		return "", err
	}
	if me.UserID == "" {
		return "", fmt.Errorf("GET /me: empty user_uuid")
	}
	return me.UserID, nil
}

func (c *Client) Login(ctx context.Context, identifier, password string) error {
	return c.postJSON(ctx, "/login", models.LoginRequest{Identifier: identifier, Password: password})
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) error {
	return c.postJSON(ctx, "/register", req)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.postJSON(ctx, "/logout", nil)
}

// Users returns the full user directory with coarse online flags.
func (c *Client) Users(ctx context.Context) ([]models.DirectoryEntry, error) {
	var users []models.DirectoryEntry
	if err := c.getJSON(ctx, "/users", nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

// Messages returns one history page with peer, newest first.
func (c *Client) Messages(ctx context.Context, with string, offset int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("with", with)
	q.Set("offset", strconv.Itoa(offset))

	var page []models.Message
	if err := c.getJSON(ctx, "/messages", q, &page, true); err != nil {
		return nil, err
	}
	if page == nil {
		page = []models.Message{}
	}
	return page, nil
}

func (c *Client) Posts(ctx context.Context, offset, limit int, category string) ([]models.Post, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	if category != "" {
		q.Set("category", category)
	}

	var posts []models.Post
	// The feed endpoint does not always declare its media type.
	if err := c.getJSON(ctx, "/posts", q, &posts, false); err != nil {
		return nil, err
	}
	return posts, nil
}

func (c *Client) Post(ctx context.Context, postUUID string) (*models.PostDetails, error) {
	q := url.Values{}
	q.Set("uuid", postUUID)

	var post models.PostDetails
	if err := c.getJSON(ctx, "/post", q, &post, true); err != nil {
		return nil, err
	}
	return &post, nil
}

func (c *Client) CreatePost(ctx context.Context, req models.CreatePostRequest) error {
	return c.postJSON(ctx, "/posts", req)
}

func (c *Client) CreateComment(ctx context.Context, req models.CreateCommentRequest) error {
	return c.postJSON(ctx, "/comment", req)
}

func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	if err := c.getJSON(ctx, "/categories", nil, &categories, false); err != nil {
		return nil, err
	}
	return categories, nil
}

// SessionToken returns the raw session cookie value.
func (c *Client) SessionToken() (string, error) {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		for _, name := range sessionCookieNames {
			if cookie.Name == name && cookie.Value != "" {
				return cookie.Value, nil
			}
		}
	}
	return "", ErrNoSession
}

// SessionHeader returns the Cookie header to present on the socket upgrade.
func (c *Client) SessionHeader() http.Header {
	h := http.Header{}
	var parts []string
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}
	if len(parts) > 0 {
		h.Set("Cookie", strings.Join(parts, "; "))
	}
	return h
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any, strict bool) error {
	u := c.resolve(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build GET %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.MethodGet, path); err != nil {
		return err
	}
	if strict && !isJSON(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %w %q: %s", path, ErrUnexpectedContentType, resp.Header.Get("Content-Type"), strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode GET %s: %w", path, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal POST %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path).String(), body)
	if err != nil {
		return fmt.Errorf("build POST %s: %w", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, http.MethodPost, path); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("request completed", "method", http.MethodPost, "path", path, "status", resp.StatusCode)
	return nil
}

func (c *Client) resolve(path string) *url.URL {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(body)}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
