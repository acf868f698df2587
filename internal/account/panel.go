// Package account holds the state and actions behind the account settings
// panel: load the signed-in user's profile, edit it, save it, replace the
// avatar and sign out.
package account

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

const (
	labelLoading = "Loading ..."
	labelUpdate  = "Update"
)

var (
	// ErrNotLoggedIn is reported when an action needs a session and there is none.
	ErrNotLoggedIn = errors.New("User not logged in")
	// ErrBusy is returned by Save while another action is in flight.
	ErrBusy = errors.New("an update is already in progress")
)

// Backend is the remote surface the panel calls.
type Backend interface {
	// GetSession returns nil with a nil error when nobody is signed in.
	GetSession(ctx context.Context) (*types.Session, error)
	// SelectProfile reports found=false when the user has no profile row yet.
	SelectProfile(ctx context.Context, userID string) (profile types.Profile, found bool, err error)
	UpsertProfile(ctx context.Context, update types.ProfileUpdate) error
	UploadAvatar(ctx context.Context, filename string, r io.Reader) (string, error)
	SignOut(ctx context.Context) error
}

// Notifier shows a blocking message to the user.
type Notifier interface {
	Alert(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Alert(message string) { f(message) }

// State is a snapshot of the panel.
type State struct {
	Email     string
	Username  string
	Website   string
	AvatarURL string
	Loading   bool
}

// Option configures a Panel.
type Option func(*Panel)

// WithClock replaces the clock used to stamp saved profiles.
func WithClock(now func() time.Time) Option {
	return func(p *Panel) { p.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Panel) { p.logger = logger }
}

// Panel is safe for concurrent use. It starts in the loading state, as it
// has not fetched anything yet.
type Panel struct {
	backend  Backend
	notifier Notifier
	now      func() time.Time
	logger   *zap.Logger

	mu sync.Mutex
	// inFlight counts running actions; state.Loading stays set while it is
	// above zero.
	inFlight int
	state    State
}

func New(backend Backend, notifier Notifier, opts ...Option) *Panel {
	p := &Panel{
		backend:  backend,
		notifier: notifier,
		now:      time.Now,
		logger:   zap.NewNop(),
		state:    State{Loading: true},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns a copy of the current state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Panel) SetUsername(v string) {
	p.mu.Lock()
	p.state.Username = v
	p.mu.Unlock()
}

func (p *Panel) SetWebsite(v string) {
	p.mu.Lock()
	p.state.Website = v
	p.mu.Unlock()
}

// SaveEnabled reports whether the update control accepts input.
func (p *Panel) SaveEnabled() bool {
	return !p.State().Loading
}

// UpdateLabel is the caption of the update control.
func (p *Panel) UpdateLabel() string {
	if p.State().Loading {
		return labelLoading
	}
	return labelUpdate
}

// Load resolves the session and fills the form from the stored profile.
// A user without a profile row keeps the current field values.
func (p *Panel) Load(ctx context.Context) error {
	p.begin()
	defer p.end()

	session, err := p.session(ctx)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.state.Email = session.User.Email
	p.mu.Unlock()

	profile, found, err := p.backend.SelectProfile(ctx, session.User.ID)
	if err != nil {
		return p.fail(err)
	}
	if !found {
		p.logger.Debug("no profile yet", zap.String("user_id", session.User.ID))
		return nil
	}

	p.mu.Lock()
	p.state.Username = types.StringValue(profile.Username)
	p.state.Website = types.StringValue(profile.Website)
	p.state.AvatarURL = types.StringValue(profile.AvatarURL)
	p.mu.Unlock()
	return nil
}

// Save upserts the edited fields. It returns ErrBusy without contacting the
// backend while another action is in flight.
func (p *Panel) Save(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Loading {
		p.mu.Unlock()
		return ErrBusy
	}
	p.inFlight++
	p.state.Loading = true
	avatar := p.state.AvatarURL
	p.mu.Unlock()
	defer p.end()

	return p.update(ctx, avatar)
}

// UploadAvatar stores a new avatar image and saves the profile so it points
// at it.
func (p *Panel) UploadAvatar(ctx context.Context, filename string, r io.Reader) error {
	path, err := p.backend.UploadAvatar(ctx, filename, r)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.state.AvatarURL = path
	p.inFlight++
	p.state.Loading = true
	p.mu.Unlock()
	defer p.end()

	return p.update(ctx, path)
}

// SignOut terminates the session and clears the form.
func (p *Panel) SignOut(ctx context.Context) error {
	if err := p.backend.SignOut(ctx); err != nil {
		return p.fail(err)
	}
	p.mu.Lock()
	p.state = State{Loading: p.inFlight > 0}
	p.mu.Unlock()
	return nil
}

func (p *Panel) update(ctx context.Context, avatar string) error {
	session, err := p.session(ctx)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	update := types.ProfileUpdate{
		ID:        session.User.ID,
		Username:  optionalText(p.state.Username),
		Website:   optionalText(p.state.Website),
		AvatarURL: optionalText(avatar),
		UpdatedAt: p.now(),
	}
	p.mu.Unlock()

	if err := p.backend.UpsertProfile(ctx, update); err != nil {
		return p.fail(err)
	}
	p.logger.Debug("profile saved", zap.String("user_id", session.User.ID))
	return nil
}

func (p *Panel) session(ctx context.Context) (*types.Session, error) {
	session, err := p.backend.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotLoggedIn
	}
	return session, nil
}

func (p *Panel) begin() {
	p.mu.Lock()
	p.inFlight++
	p.state.Loading = true
	p.mu.Unlock()
}

func (p *Panel) end() {
	p.mu.Lock()
	p.inFlight--
	p.state.Loading = p.inFlight > 0
	p.mu.Unlock()
}

// fail alerts the user once and hands the error back to the caller.
func (p *Panel) fail(err error) error {
	p.logger.Warn("account action failed", zap.Error(err))
	if p.notifier != nil {
		p.notifier.Alert(err.Error())
	}
	return err
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
