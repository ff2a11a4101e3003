// Package backend is the HTTP client for the Chatify backend.
//
// Every call classifies its failure into the domain error taxonomy:
// transport failures are KindNetwork, 4xx responses are KindAuth and
// 5xx or malformed success bodies are KindServer. Authorized calls
// attach the stored credential through a single attachCredentials step.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds every backend request.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 1 << 20 // 1MB

	// RequestIDHeader carries a per-request correlation ID.
	RequestIDHeader = "X-Request-ID"
)

// Endpoint paths.
const (
	PathLogin     = "/login"
	PathRegister  = "/register"
	PathMe        = "/me"
	PathLogout    = "/logout"
	PathForgotOTP = "/forgot/otp"
	PathForgot    = "/forgot"
	PathAsked     = "/asked"
)

// Mechanism selects how the stored credential travels with a request.
type Mechanism int

const (
	// MechanismBearer sends "Authorization: Bearer <token>".
	MechanismBearer Mechanism = iota
	// MechanismCookie sends the token as a session cookie.
	MechanismCookie
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials credential.Store
	Mechanism   Mechanism
	CookieName  string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to the Chatify backend.
type Client struct {
	baseURL    string
	creds      credential.Store
	mechanism  Mechanism
	cookieName string
	http       *http.Client
	logger     *slog.Logger
}

// New creates a backend client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credential.NewMemoryStore()
	}
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = "token"
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		creds:      creds,
		mechanism:  opts.Mechanism,
		cookieName: cookieName,
		http:       httpClient,
		logger:     logger,
	}
}

// LoginResult is the outcome of a successful login.
// Token is empty when the backend issued no credential this client can carry.
type LoginResult struct {
	User  domain.UserIdentity
	Token string
}

// Reply is a chat answer from POST /asked.
type Reply struct {
	Text   string
	Sender domain.Sender
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Password string `json:"password"`
}

type askRequest struct {
	Input string `json:"input"`
}

type loginResponse struct {
	User        *domain.UserIdentity `json:"user"`
	AccessToken string               `json:"accessToken"`
	Token       string               `json:"token"`
}

type meResponse struct {
	User *domain.UserIdentity `json:"user"`
}

type askResponse struct {
	Text   *string `json:"text"`
	Sender string  `json:"sender"`
}

// Login calls POST /login.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out loginResponse
	resp, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathLogin,
		body:       loginRequest{Username: username, Password: password},
		out:        &out,
		defaultMsg: "Authentication failed",
	})
	if err != nil {
		return LoginResult{}, err
	}

	result := LoginResult{Token: c.extractToken(resp, out)}
	if out.User != nil {
		result.User = *out.User
	}
	return result, nil
}

// Register calls POST /register.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	_, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathRegister,
		body:       registerRequest{Username: username, Email: email, Password: password},
		defaultMsg: "Registration failed",
	})
	return err
}

// Me calls GET /me and returns the signed-in user.
func (c *Client) Me(ctx context.Context) (domain.UserIdentity, error) {
	var out meResponse
	if _, err := c.do(ctx, call{
		method:     http.MethodGet,
		path:       PathMe,
		authorized: true,
		out:        &out,
		defaultMsg: "Not signed in",
	}); err != nil {
		return domain.UserIdentity{}, err
	}
	if out.User == nil || out.User.IsZero() {
		return domain.UserIdentity{}, &domain.Error{Kind: domain.KindServer, Status: http.StatusOK, Message: "identity response has no user"}
	}
	return *out.User, nil
}

// Logout calls POST /logout.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathLogout,
		body:       struct{}{},
		authorized: true,
		defaultMsg: "Logout failed",
	})
	return err
}

// RequestOTP calls POST /forgot/otp.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	_, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathForgotOTP,
		body:       otpRequest{Email: email},
		defaultMsg: "Failed to send OTP.",
	})
	return err
}

// ResetPassword calls POST /forgot.
func (c *Client) ResetPassword(ctx context.Context, email, otp, password string) error {
	_, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathForgot,
		body:       resetRequest{Email: email, OTP: otp, Password: password},
		defaultMsg: "Failed to change password.",
	})
	return err
}

// Ask calls POST /asked with the user's prompt.
func (c *Client) Ask(ctx context.Context, input string) (Reply, error) {
	var out askResponse
	if _, err := c.do(ctx, call{
		method:     http.MethodPost,
		path:       PathAsked,
		body:       askRequest{Input: input},
		authorized: true,
		out:        &out,
		defaultMsg: "Failed to get a reply",
	}); err != nil {
		return Reply{}, err
	}
	if out.Text == nil {
		return Reply{}, &domain.Error{Kind: domain.KindServer, Status: http.StatusOK, Message: "reply has no text"}
	}

	sender := domain.Sender(out.Sender)
	if sender == "" {
		sender = domain.SenderBot
	}
	return Reply{Text: *out.Text, Sender: sender}, nil
}

type call struct {
	method     string
	path       string
	body       any
	authorized bool
	out        any
	defaultMsg string
}

func (c *Client) do(ctx context.Context, cl call) (*http.Response, error) {
	var body io.Reader
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", cl.path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", cl.path, err)
	}
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	if cl.authorized {
		c.attachCredentials(ctx, req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "path", cl.path, "request_id", reqID, "error", err)
		return nil, &domain.Error{Kind: domain.KindNetwork, Message: domain.NetworkErrorMessage, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "path", cl.path, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	c.logger.Debug("backend request",
		"method", cl.method,
		"path", cl.path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindNetwork, Status: resp.StatusCode, Message: domain.NetworkErrorMessage, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, data, cl.defaultMsg)
	}

	if cl.out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, cl.out); err != nil {
			return nil, &domain.Error{
				Kind:    domain.KindServer,
				Status:  resp.StatusCode,
				Message: "Unexpected response from server",
				Err:     fmt.Errorf("decode %s response: %w", cl.path, err),
			}
		}
	}
	return resp, nil
}

// attachCredentials is the single place a stored credential is added to an
// authorized request. A missing or unreadable credential sends the request
// without one and lets the backend decide.
func (c *Client) attachCredentials(ctx context.Context, req *http.Request) {
	token, err := c.creds.Get(ctx)
	if err != nil {
		c.logger.Warn("failed to read credential", "error", err)
		return
	}
	if token == "" {
		return
	}

	switch c.mechanism {
	case MechanismCookie:
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})
	default:
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) extractToken(resp *http.Response, out loginResponse) string {
	if c.mechanism == MechanismCookie {
		for _, ck := range resp.Cookies() {
			if ck.Name == c.cookieName && ck.Value != "" {
				return ck.Value
			}
		}
		return ""
	}
	if out.AccessToken != "" {
		return out.AccessToken
	}
	return out.Token
}

// classifyStatus maps a non-2xx response to the error taxonomy, preferring the
// backend's "message" then "error" field as the user-facing text.
func classifyStatus(status int, body []byte, defaultMsg string) error {
	kind := domain.KindServer
	if status >= 400 && status < 500 {
		kind = domain.KindAuth
	}

	msg := backendMessage(body)
	if msg == "" {
		msg = defaultMsg
	}
	return &domain.Error{
		Kind:    kind,
		Status:  status,
		Message: msg,
		Err:     fmt.Errorf("unexpected status %d", status),
	}
}

func backendMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	var errText string
	if err := json.Unmarshal(payload.Error, &errText); err == nil {
		return errText
	}
	return ""
}

// IsUnauthorized reports whether err is a 401/403 from the backend.
func IsUnauthorized(err error) bool {
	var e *domain.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
