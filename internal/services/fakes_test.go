package services

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/profilekit/accounts/internal/storage"
	"github.com/profilekit/accounts/internal/store"
	"github.com/profilekit/accounts/types"
)

type memoryUsers struct {
	mu        sync.Mutex
	byID      map[string]types.User
	calls     int
	createErr error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[string]types.User{}}
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memoryUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.createErr != nil {
		return types.User{}, m.createErr
	}
	user.ID = uuid.NewString()
	m.byID[user.ID] = user
	return user, nil
}

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]store.SessionRecord
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[string]store.SessionRecord{}}
}

func (m *memorySessions) Create(_ context.Context, session store.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memorySessions) Get(_ context.Context, id string) (store.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return store.SessionRecord{}, store.ErrNotFound
	}
	return s, nil
}

func (m *memorySessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	m.sessions[id] = s
	return nil
}

type memoryProfiles struct {
	mu       sync.Mutex
	rows     map[string]types.Profile
	upserts  []types.Profile
	gets     int
	upsertFn func(types.Profile) error
	afterGet func()
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{rows: map[string]types.Profile{}}
}

// Get runs afterGet, if set, once the row has been read and the lock released.
func (m *memoryProfiles) Get(_ context.Context, userID string) (types.Profile, error) {
	m.mu.Lock()
	m.gets++
	p, ok := m.rows[userID]
	hook := m.afterGet
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memoryProfiles) setAfterGet(hook func()) {
	m.mu.Lock()
	m.afterGet = hook
	m.mu.Unlock()
}

func (m *memoryProfiles) Upsert(_ context.Context, profile types.Profile) (types.Profile, *string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertFn != nil {
		if err := m.upsertFn(profile); err != nil {
			return types.Profile{}, nil, err
		}
	}
	var previous *string
	if old, ok := m.rows[profile.ID]; ok {
		previous = old.AvatarURL
	}
	m.rows[profile.ID] = profile
	m.upserts = append(m.upserts, profile)
	return profile, previous, nil
}

type memoryCache struct {
	mu      sync.Mutex
	rows    map[string]types.Profile
	deletes []string
	setErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{rows: map[string]types.Profile{}}
}

func (c *memoryCache) Get(_ context.Context, id string) (types.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.rows[id]
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (c *memoryCache) Set(_ context.Context, p types.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.rows[p.ID] = p
	return nil
}

func (c *memoryCache) Add(_ context.Context, p types.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[p.ID]; !ok {
		c.rows[p.ID] = p
	}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, id)
	c.deletes = append(c.deletes, id)
	return nil
}

type memoryAvatarOwners struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemoryAvatarOwners() *memoryAvatarOwners {
	return &memoryAvatarOwners{owners: map[string]string{}}
}

func (m *memoryAvatarOwners) Create(_ context.Context, path, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.owners[path]; ok {
		return store.ConflictError{Constraint: "avatars_pkey"}
	}
	m.owners[path] = userID
	return nil
}

func (m *memoryAvatarOwners) Owner(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[path]
	if !ok {
		return "", store.ErrNotFound
	}
	return owner, nil
}

func (m *memoryAvatarOwners) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, path)
	return nil
}

type recordingEvents struct {
	events []types.ProfileEvent
	err    error
}

func (r *recordingEvents) PublishProfileUpdated(_ context.Context, event types.ProfileEvent) error {
	r.events = append(r.events, event)
	return r.err
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string]storage.Object
	data    map[string][]byte
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string]storage.Object{}, data: map[string][]byte{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	m.objects[key] = storage.Object{ContentType: contentType, Size: size}
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return storage.Object{}, storage.ErrObjectNotFound
	}
	obj.Body = io.NopCloser(bytes.NewReader(m.data[key]))
	return obj, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objects, key)
	delete(m.data, key)
	return nil
}
