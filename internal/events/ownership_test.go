package events

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/profilekit/accounts/internal/mq"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/internal/storage"
	"github.com/profilekit/accounts/internal/store"
	"github.com/profilekit/accounts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice   = "5b1d5c3e-9a55-4c1c-8d4b-2f1f9a3c7e10"
	mallory = "9d2c1f0a-7b3e-4c55-a1d2-6e8f0b4c3a21"
)

var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89,
}

type memoryObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return storage.Object{}, storage.ErrObjectNotFound
	}
	return storage.Object{Body: io.NopCloser(bytes.NewReader(b)), Size: int64(len(b))}, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.data, key)
	return nil
}

type memoryOwners struct {
	mu     sync.Mutex
	owners map[string]string
}

func (m *memoryOwners) Create(_ context.Context, path, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[path] = userID
	return nil
}

func (m *memoryOwners) Owner(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[path]
	if !ok {
		return "", store.ErrNotFound
	}
	return owner, nil
}

func (m *memoryOwners) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, path)
	return nil
}

type memoryProfiles struct {
	rows map[string]types.Profile
}

func (m *memoryProfiles) Get(_ context.Context, userID string) (types.Profile, error) {
	p, ok := m.rows[userID]
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memoryProfiles) Upsert(_ context.Context, p types.Profile) (types.Profile, *string, error) {
	var previous *string
	if old, ok := m.rows[p.ID]; ok {
		previous = old.AvatarURL
	}
	m.rows[p.ID] = p
	return p, previous, nil
}

type avatarFixture struct {
	objects  *memoryObjects
	avatars  *services.AvatarService
	profiles *memoryProfiles
	backend  *captureBackend
	janitor  *AvatarJanitor
}

func newAvatarFixture() *avatarFixture {
	f := &avatarFixture{
		objects:  &memoryObjects{data: map[string][]byte{}},
		profiles: &memoryProfiles{rows: map[string]types.Profile{}},
		backend:  &captureBackend{},
	}
	f.avatars = services.NewAvatarService(f.objects, &memoryOwners{owners: map[string]string{}})
	f.janitor = NewAvatarJanitor(f.avatars, nil)
	return f
}

func (f *avatarFixture) profileService(opts ...services.ProfileOption) *services.ProfileService {
	opts = append(opts, services.WithProfileEvents(NewPublisher(mq.New(f.backend))))
	return services.NewProfileService(f.profiles, opts...)
}

// drain hands every published event to the janitor.
func (f *avatarFixture) drain(t *testing.T) {
	t.Helper()
	for _, msg := range f.backend.published {
		require.NoError(t, f.janitor.Handle(context.Background(), mq.Message{Data: msg.data}))
	}
	f.backend.published = nil
}

func TestUpdateCannotClaimAnotherUsersAvatar(t *testing.T) {
	f := newAvatarFixture()
	svc := f.profileService(services.WithAvatarOwnership(f.avatars))
	ctx := context.Background()

	path, err := f.avatars.Upload(ctx, alice, pngBytes)
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, alice, types.ProfileUpdate{AvatarURL: types.StringPtr(path)})
	require.NoError(t, err)

	_, err = svc.Upsert(ctx, mallory, types.ProfileUpdate{AvatarURL: types.StringPtr(path)})
	assert.ErrorIs(t, err, services.ErrForeignAvatar)
	_, err = svc.Upsert(ctx, mallory, types.ProfileUpdate{})
	require.NoError(t, err)

	f.drain(t)
	assert.Contains(t, f.objects.data, path)
}

func TestJanitorKeepsAvatarReferencedByAnotherUser(t *testing.T) {
	f := newAvatarFixture()
	// No ownership check, as for rows written before avatars had owners.
	svc := f.profileService()
	ctx := context.Background()

	path, err := f.avatars.Upload(ctx, alice, pngBytes)
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, alice, types.ProfileUpdate{AvatarURL: types.StringPtr(path)})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, mallory, types.ProfileUpdate{AvatarURL: types.StringPtr(path)})
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, mallory, types.ProfileUpdate{})
	require.NoError(t, err)

	f.drain(t)
	assert.Contains(t, f.objects.data, path, "alice's avatar survives mallory's update")

	_, err = svc.Upsert(ctx, alice, types.ProfileUpdate{})
	require.NoError(t, err)
	f.drain(t)
	assert.NotContains(t, f.objects.data, path, "alice replacing her own avatar removes it")
}
