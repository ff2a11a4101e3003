// Package authflow drives the unauthenticated screens: login, registration
// and password reset by emailed one-time password.
//
// A Flow is a small state machine. Exactly one Mode is active; Submitting is
// an overlay that blocks every other submit and mode change until the
// in-flight backend call returns. After a successful OTP request a one-second
// tick chain counts OtpTimer down from 60, and a resend is refused until it
// reaches zero.
package authflow

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/clock"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
)

const (
	// OTPCooldownSeconds is how long a resend stays disabled after an OTP request.
	OTPCooldownSeconds = 60

	// DefaultOTPTTL is how long an OTP challenge stays usable.
	DefaultOTPTTL = 10 * time.Minute
)

// User-facing notices.
const (
	NoticeRegistered      = "Account created. Please sign in."
	NoticeOTPSent         = "OTP sent to your email!"
	NoticePasswordChanged = "Password changed successfully! Please log in."
)

var (
	// ErrBusy is returned when a submit or transition is attempted while another submit is in flight.
	ErrBusy = errors.New("authflow: a request is already in progress")

	// ErrCooldown is returned when an OTP resend is attempted before the timer reaches zero.
	ErrCooldown = errors.New("authflow: OTP resend is cooling down")

	// ErrWrongMode is returned when an operation does not belong to the active mode.
	ErrWrongMode = errors.New("authflow: operation not available in current mode")

	// ErrClosed is returned after the flow has been unmounted.
	ErrClosed = errors.New("authflow: flow closed")
)

// Backend is the subset of the backend client the flow needs.
type Backend interface {
	Login(ctx context.Context, username, password string) (backend.LoginResult, error)
	Register(ctx context.Context, username, email, password string) error
	RequestOTP(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, otp, password string) error
}

// Options configures a Flow.
type Options struct {
	Backend     Backend
	Credentials credential.Store
	Clock       clock.Clock
	OTPTTL      time.Duration
	Logger      *slog.Logger

	// OnSessionEstablished fires once per successful login, after the
	// credential has been stored.
	OnSessionEstablished func(user domain.UserIdentity)

	// OnChange fires after every state change, outside the flow's lock.
	OnChange func()
}

// Flow is the AuthFlow state machine.
type Flow struct {
	backend   Backend
	creds     credential.Store
	clock     clock.Clock
	otpTTL    time.Duration
	logger    *slog.Logger
	onSession func(domain.UserIdentity)
	onChange  func()

	mu        sync.Mutex
	state     State
	challenge *OtpChallenge
	timer     clock.Timer
	timerGen  int
	closed    bool
}

// New creates a Flow in Login mode.
func New(opts Options) *Flow {
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	ttl := opts.OTPTTL
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credential.NewMemoryStore()
	}
	return &Flow{
		backend:   opts.Backend,
		creds:     creds,
		clock:     c,
		otpTTL:    ttl,
		logger:    logger,
		onSession: opts.OnSessionEstablished,
		onChange:  opts.OnChange,
		state:     State{Mode: ModeLogin},
	}
}

// State returns a snapshot of the flow.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// SubmitLogin authenticates with username and password.
func (f *Flow) SubmitLogin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	err := f.begin(func() error {
		if username == "" || strings.TrimSpace(password) == "" {
			return domain.NewValidationError("Username and password are required")
		}
		return nil
	}, ModeLogin)
	if err != nil {
		return err
	}

	f.logger.Info("login attempt", "username", username)
	res, err := f.backend.Login(ctx, username, password)
	if err != nil {
		f.logger.Warn("login failed", "username", username, "kind", domain.KindOf(err), "error", err)
		return f.fail(err, "Authentication failed")
	}

	if res.Token != "" {
		if setErr := f.creds.Set(ctx, res.Token); setErr != nil {
			f.logger.Error("failed to store credential", "error", setErr)
		}
	}

	f.finish(nil)
	f.logger.Info("login succeeded", "username", username)
	if f.onSession != nil {
		f.onSession(res.User)
	}
	return nil
}

// SubmitRegister creates an account. On success the flow returns to Login
// with a confirmation notice; it does not sign the user in.
func (f *Flow) SubmitRegister(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	err := f.begin(func() error {
		if username == "" || email == "" || strings.TrimSpace(password) == "" {
			return domain.NewValidationError("Username, email and password are required")
		}
		if !PlausibleEmail(email) {
			return domain.NewValidationError("Please enter a valid email address")
		}
		return nil
	}, ModeRegister)
	if err != nil {
		return err
	}

	if err := f.backend.Register(ctx, username, email, password); err != nil {
		f.logger.Warn("registration failed", "username", username, "kind", domain.KindOf(err), "error", err)
		return f.fail(err, "Registration failed")
	}

	f.finish(func(s *State) {
		s.Mode = ModeLogin
		s.Notice = NoticeRegistered
	})
	f.logger.Info("registration succeeded", "username", username)
	return nil
}

// RequestOTP asks the backend to email a one-time password. It also serves
// as "resend" from ResetConfirm once the cooldown has elapsed.
func (f *Flow) RequestOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	err := f.begin(func() error {
		if f.state.OtpTimer > 0 {
			return ErrCooldown
		}
		if email == "" {
			return domain.NewValidationError("Email is required")
		}
		return nil
	}, ModeResetRequestOTP, ModeResetConfirm)
	if err != nil {
		return err
	}

	if err := f.backend.RequestOTP(ctx, email); err != nil {
		f.logger.Warn("OTP request failed", "kind", domain.KindOf(err), "error", err)
		return f.fail(err, "Failed to send OTP.")
	}

	f.finish(func(s *State) {
		f.challenge = &OtpChallenge{Email: email, IssuedAt: f.clock.Now(), TTL: f.otpTTL}
		s.Mode = ModeResetConfirm
		s.Notice = NoticeOTPSent
		f.startCooldownLocked()
	})
	f.logger.Info("OTP requested")
	return nil
}

// ConfirmReset submits the OTP and the new password. email may be empty, in
// which case the challenge's email is used.
func (f *Flow) ConfirmReset(ctx context.Context, email, otp, newPassword string) error {
	email = strings.TrimSpace(email)
	otp = strings.TrimSpace(otp)
	err := f.begin(func() error {
		if otp == "" || strings.TrimSpace(newPassword) == "" {
			return domain.NewValidationError("OTP and new password are required")
		}
		if f.challenge == nil {
			return domain.NewValidationError("Request an OTP first")
		}
		if f.challenge.Expired(f.clock.Now()) {
			return domain.NewValidationError("OTP has expired, request a new one")
		}
		if email == "" {
			email = f.challenge.Email
		}
		if !strings.EqualFold(email, f.challenge.Email) {
			return domain.NewValidationError("Email does not match the OTP request")
		}
		return nil
	}, ModeResetConfirm)
	if err != nil {
		return err
	}

	if err := f.backend.ResetPassword(ctx, email, otp, newPassword); err != nil {
		f.logger.Warn("password reset failed", "kind", domain.KindOf(err), "error", err)
		return f.fail(err, "Failed to change password.")
	}

	f.finish(func(s *State) {
		f.challenge = nil
		f.stopCooldownLocked()
		s.Mode = ModeLogin
		s.Notice = NoticePasswordChanged
	})
	f.logger.Info("password reset succeeded")
	return nil
}

// ToggleMode switches between Login and Register and clears any error.
func (f *Flow) ToggleMode() error {
	return f.transition(func(s *State) error {
		switch s.Mode {
		case ModeLogin:
			s.Mode = ModeRegister
		case ModeRegister:
			s.Mode = ModeLogin
		default:
			return ErrWrongMode
		}
		s.Err = nil
		s.Notice = ""
		return nil
	})
}

// ForgotPassword moves from Login to the OTP request screen.
func (f *Flow) ForgotPassword() error {
	return f.transition(func(s *State) error {
		if s.Mode != ModeLogin {
			return ErrWrongMode
		}
		s.Mode = ModeResetRequestOTP
		s.Err = nil
		s.Notice = ""
		return nil
	})
}

// BackToLogin leaves any mode for Login, discarding an OTP challenge and
// stopping the cooldown.
func (f *Flow) BackToLogin() error {
	return f.transition(func(s *State) error {
		f.challenge = nil
		f.stopCooldownLocked()
		s.Mode = ModeLogin
		s.Err = nil
		s.Notice = ""
		return nil
	})
}

// Close unmounts the flow: the cooldown stops and further calls fail with ErrClosed.
// A submit already in flight still returns its result but no longer changes
// the mode, the challenge or the cooldown.
func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	f.challenge = nil
	f.stopCooldownLocked()
	f.mu.Unlock()
}

// begin checks preconditions and enters Submitting. A *domain.Error from
// check is a validation failure: it is recorded in state and returned
// without contacting the backend. Any other error is returned as is.
func (f *Flow) begin(check func() error, modes ...Mode) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state.Submitting {
		f.mu.Unlock()
		return ErrBusy
	}
	if !modeIn(f.state.Mode, modes) {
		f.mu.Unlock()
		return ErrWrongMode
	}
	if err := check(); err != nil {
		var verr *domain.Error
		if !errors.As(err, &verr) {
			f.mu.Unlock()
			return err
		}
		f.state.Err = verr
		f.state.Notice = ""
		f.mu.Unlock()
		f.changed()
		return verr
	}
	f.state.Submitting = true
	f.state.Err = nil
	f.state.Notice = ""
	f.mu.Unlock()
	f.changed()
	return nil
}

// fail leaves Submitting and records err as the user-facing error.
func (f *Flow) fail(err error, fallback string) error {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		derr = &domain.Error{Kind: domain.KindNetwork, Message: fallback, Err: err}
	}
	if derr.Message == "" {
		derr = &domain.Error{Kind: derr.Kind, Status: derr.Status, Message: fallback, Err: derr.Err}
	}

	f.mu.Lock()
	f.state.Submitting = false
	f.state.Err = derr
	f.mu.Unlock()
	f.changed()
	return derr
}

// finish leaves Submitting and applies a successful outcome. A flow closed
// while the call was in flight keeps its closed state: no challenge, no timer.
func (f *Flow) finish(apply func(s *State)) {
	f.mu.Lock()
	f.state.Submitting = false
	f.state.Err = nil
	if apply != nil && !f.closed {
		apply(&f.state)
	}
	f.mu.Unlock()
	f.changed()
}

func (f *Flow) transition(apply func(s *State) error) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	if f.state.Submitting {
		f.mu.Unlock()
		return ErrBusy
	}
	if err := apply(&f.state); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	f.changed()
	return nil
}

func (f *Flow) changed() {
	if f.onChange != nil {
		f.onChange()
	}
}

func (f *Flow) snapshotLocked() State {
	s := f.state
	if f.challenge != nil {
		c := *f.challenge
		s.Challenge = &c
	}
	return s
}

func modeIn(m Mode, modes []Mode) bool {
	for _, candidate := range modes {
		if candidate == m {
			return true
		}
	}
	return false
}

// PlausibleEmail reports whether s looks like a bare email address with a
// dotted domain.
func PlausibleEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	domainPart := s[at+1:]
	return strings.Contains(domainPart, ".") && !strings.HasPrefix(domainPart, ".") && !strings.HasSuffix(domainPart, ".")
}
