// Package app composes the session probe, the auth flow and the conversation
// store into the top-level state machine the presentation layer observes.
//
//	Checking ──probe──▶ Anonymous ──login──▶ Checking ──probe──▶ Authenticated
//	    ▲                                                              │
//	    └──────────────────────────── logout ──────────────────────────┘
//
// Anonymous mounts a fresh authflow.Flow; Authenticated mounts a fresh
// conversation.Store. A probe that resolves Anonymous clears the stored
// credential so a credential exists only while Authenticated.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatify/internal/authflow"
	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/clock"
	"github.com/ashureev/chatify/internal/conversation"
	"github.com/ashureev/chatify/internal/credential"
	"github.com/ashureev/chatify/internal/domain"
	"github.com/ashureev/chatify/internal/session"
	"github.com/ashureev/chatify/internal/transcript"
)

// Phase is the top-level session state.
type Phase int

const (
	PhaseChecking Phase = iota
	PhaseAnonymous
	PhaseAuthenticated
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseChecking:
		return "checking"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Prober resolves the current session. Implemented by *session.Probe.
type Prober interface {
	Probe(ctx context.Context) session.Result
}

// Backend is everything the mounted children need from the backend.
type Backend interface {
	authflow.Backend
	conversation.Backend
}

var _ Backend = (*backend.Client)(nil)

// Options configures a Controller.
type Options struct {
	Prober      Prober
	Backend     Backend
	Credentials credential.Store
	Recorder    transcript.Recorder
	Clock       clock.Clock
	OTPTTL      time.Duration
	Logger      *slog.Logger
}

// Snapshot is the state delivered to subscribers. Auth is set only while
// Anonymous, Chat only while Authenticated.
type Snapshot struct {
	Phase  Phase
	User   domain.UserIdentity
	Reason session.Reason
	Auth   *authflow.State
	Chat   *conversation.State
}

// Controller is the AppController.
type Controller struct {
	prober   Prober
	backend  Backend
	creds    credential.Store
	recorder transcript.Recorder
	clock    clock.Clock
	otpTTL   time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	phase   Phase
	user    domain.UserIdentity
	reason  session.Reason
	auth    *authflow.Flow
	chat    *conversation.Store
	subs    map[int]func(Snapshot)
	nextSub int
	closed  bool
}

// New creates a Controller in Checking. Call Start to run the first probe.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = credential.NewMemoryStore()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = transcript.Noop{}
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	return &Controller{
		prober:   opts.Prober,
		backend:  opts.Backend,
		creds:    creds,
		recorder: recorder,
		clock:    c,
		otpTTL:   opts.OTPTTL,
		logger:   logger,
		ctx:      context.Background(),
		phase:    PhaseChecking,
		subs:     make(map[int]func(Snapshot)),
	}
}

// Start enters Checking and probes the backend. ctx also scopes the
// re-probes triggered by login and logout.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.check(ctx)
}

// Retry re-probes on demand, for example after connectivity returns.
func (c *Controller) Retry(ctx context.Context) {
	c.check(ctx)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{Phase: c.phase, User: c.user, Reason: c.reason}
	auth, chat := c.auth, c.chat
	c.mu.Unlock()

	if auth != nil {
		st := auth.State()
		snap.Auth = &st
	}
	if chat != nil {
		st := chat.State()
		snap.Chat = &st
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change of the
// controller or its mounted child. Callbacks run on the goroutine that made
// the change. The returned func unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Auth returns the mounted auth flow, or nil outside Anonymous.
func (c *Controller) Auth() *authflow.Flow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth
}

// Conversation returns the mounted conversation, or nil outside Authenticated.
func (c *Controller) Conversation() *conversation.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chat
}

// Close unmounts the current child and stops notifications.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	auth := c.auth
	c.auth = nil
	c.chat = nil
	c.subs = make(map[int]func(Snapshot))
	c.mu.Unlock()

	if auth != nil {
		auth.Close()
	}
}

// check enters Checking, unmounting any child, then applies the probe
// result. Results are applied in arrival order.
func (c *Controller) check(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.phase
	c.phase = PhaseChecking
	auth := c.unmountLocked()
	c.mu.Unlock()

	if auth != nil {
		auth.Close()
	}
	c.logger.Debug("session check started", "from", prev)
	c.notify()

	res := c.prober.Probe(ctx)
	if res.Authenticated {
		c.authenticated(res)
	} else {
		c.anonymous(ctx, res)
	}
	c.notify()
}

func (c *Controller) anonymous(ctx context.Context, res session.Result) {
	if err := c.creds.Clear(ctx); err != nil {
		c.logger.Error("failed to clear credential", "error", err)
	}

	flow := authflow.New(authflow.Options{
		Backend:              c.backend,
		Credentials:          c.creds,
		Clock:                c.clock,
		OTPTTL:               c.otpTTL,
		Logger:               c.logger,
		OnSessionEstablished: c.sessionEstablished,
		OnChange:             c.notify,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		flow.Close()
		return
	}
	stale := c.unmountLocked()
	c.phase = PhaseAnonymous
	c.user = domain.UserIdentity{}
	c.reason = res.Reason
	c.auth = flow
	c.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	c.logger.Info("session anonymous", "reason", res.Reason)
}

func (c *Controller) authenticated(res session.Result) {
	chat := conversation.New(conversation.Options{
		Backend:     c.backend,
		Credentials: c.creds,
		User:        res.User,
		Recorder:    c.recorder,
		Logger:      c.logger,
		OnChange:    c.notify,
		OnLoggedOut: c.loggedOut,
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	stale := c.unmountLocked()
	c.phase = PhaseAuthenticated
	c.user = res.User
	c.reason = res.Reason
	c.chat = chat
	c.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	c.logger.Info("session authenticated", "user", res.User.DisplayName())
}

func (c *Controller) sessionEstablished(user domain.UserIdentity) {
	c.logger.Debug("login reported, re-probing", "user", user.DisplayName())
	c.check(c.baseContext())
}

func (c *Controller) loggedOut() {
	c.mu.Lock()
	c.user = domain.UserIdentity{}
	c.mu.Unlock()
	c.check(c.baseContext())
}

func (c *Controller) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// unmountLocked drops both children and returns the auth flow, which the
// caller must Close outside the lock.
func (c *Controller) unmountLocked() *authflow.Flow {
	auth := c.auth
	c.auth = nil
	c.chat = nil
	return auth
}

func (c *Controller) notify() {
	c.mu.Lock()
	if c.closed || len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	snap := c.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
