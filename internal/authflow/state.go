package authflow

import (
	"fmt"
	"time"

	"github.com/ashureev/chatify/internal/domain"
)

// Mode is the active auth screen.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
	ModeResetRequestOTP
	ModeResetConfirm
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeLogin:
		return "login"
	case ModeRegister:
		return "register"
	case ModeResetRequestOTP:
		return "reset_request_otp"
	case ModeResetConfirm:
		return "reset_confirm"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// OtpChallenge records an OTP the backend has emailed. It lives only between
// a successful request and a successful confirm, flow exit or expiry.
type OtpChallenge struct {
	Email    string
	IssuedAt time.Time
	TTL      time.Duration
}

// Expired reports whether the challenge is no longer usable at now.
func (c OtpChallenge) Expired(now time.Time) bool {
	return !now.Before(c.IssuedAt.Add(c.TTL))
}

// State is a snapshot of a Flow.
type State struct {
	Mode       Mode
	Submitting bool
	Err        *domain.Error
	Notice     string
	Challenge  *OtpChallenge
	OtpTimer   int
}

// CanResend reports whether an OTP may be requested again.
func (s State) CanResend() bool {
	return !s.Submitting && s.OtpTimer == 0
}

// ResendLabel is the text for the OTP request button.
func (s State) ResendLabel() string {
	if s.OtpTimer > 0 {
		return fmt.Sprintf("Resend OTP in %ds", s.OtpTimer)
	}
	return "Send OTP"
}

// startCooldownLocked (re)starts the resend countdown. A running countdown is
// replaced, never stacked.
func (f *Flow) startCooldownLocked() {
	f.stopCooldownLocked()
	f.state.OtpTimer = OTPCooldownSeconds
	gen := f.timerGen
	f.timer = f.clock.AfterFunc(time.Second, func() { f.tick(gen) })
}

// stopCooldownLocked cancels the countdown and zeroes the timer. Bumping the
// generation makes any callback already dequeued a no-op.
func (f *Flow) stopCooldownLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.timerGen++
	f.state.OtpTimer = 0
}

func (f *Flow) tick(gen int) {
	f.mu.Lock()
	if gen != f.timerGen || f.state.OtpTimer == 0 {
		f.mu.Unlock()
		return
	}
	f.state.OtpTimer--
	if f.state.OtpTimer > 0 {
		f.timer = f.clock.AfterFunc(time.Second, func() { f.tick(gen) })
	} else {
		f.timer = nil
	}
	f.mu.Unlock()
	f.changed()
}
