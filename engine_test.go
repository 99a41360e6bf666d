package castellan

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/castellan-auth/castellan/notify"
	"github.com/castellan-auth/castellan/password"
)

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*User

	createCalls int
	freezeCalls int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*User)}
}

func cloneUser(u *User) *User {
	out := *u
	if u.EmailVerifiedAt != nil {
		at := *u.EmailVerifiedAt
		out.EmailVerifiedAt = &at
	}
	return &out
}

func (m *memUsers) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	for _, existing := range m.byID {
		if existing.Email == user.Email {
			return ErrEmailTaken
		}
	}
	m.byID[user.ID] = cloneUser(user)
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.byID {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUsers) mutate(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(user)
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return m.mutate(id, func(u *User) { u.PasswordHash = passwordHash })
}

func (m *memUsers) UpdateOTPSecret(_ context.Context, id, secret string) error {
	return m.mutate(id, func(u *User) { u.OTPSecret = secret })
}

func (m *memUsers) UpdateEmailVerified(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(u *User) { u.EmailVerifiedAt = &at })
}

func (m *memUsers) Freeze(_ context.Context, id string) error {
	m.mu.Lock()
	m.freezeCalls++
	m.mu.Unlock()
	return m.mutate(id, func(u *User) { u.Frozen = true })
}

func (m *memUsers) Unfreeze(_ context.Context, id string) error {
	return m.mutate(id, func(u *User) { u.Frozen = false })
}

func (m *memUsers) UpdateOAuthProviderID(_ context.Context, id, provider, oauthID string) error {
	return m.mutate(id, func(u *User) {
		u.OAuthProvider = provider
		u.OAuthID = oauthID
	})
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]*Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[string]*Session)}
}

func (m *memSessions) Create(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.byID[session.ID] = &copied
	return nil
}

func (m *memSessions) GetValidByIDAndCSRF(_ context.Context, id, csrf string, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byID[id]
	if !ok || session.CSRF != csrf {
		return nil, ErrSessionNotFound
	}
	if !session.Permanent && !session.ExpiresAt.After(now) {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *memSessions) Refresh(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byID[id]
	if !ok || session.Permanent {
		return ErrSessionNotFound
	}
	session.ExpiresAt = expiresAt
	return nil
}

func (m *memSessions) Expire(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memSessions) PurgeByUser(_ context.Context, userID, skipID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, session := range m.byID {
		if session.UserID == userID && id != skipID {
			ids = append(ids, id)
			delete(m.byID, id)
		}
	}
	return ids, nil
}

func (m *memSessions) UpdateAccessTokensForProvider(_ context.Context, userID, provider, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range m.byID {
		if session.UserID == userID {
			session.OAuthProvider = provider
			session.OAuthAccessToken = accessToken
		}
	}
	return nil
}

func (m *memSessions) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, session := range m.byID {
		if session.UserID == userID {
			n++
		}
	}
	return n
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// testConfig trades hashing cost for test speed; everything else stays
// at defaults.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TokenSecret = bytes.Repeat([]byte("s"), 32)
	cfg.Password.Argon2 = password.Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
	return cfg
}

type testEnv struct {
	engine   *Engine
	users    *memUsers
	sessions *memSessions
	mail     *notify.Recorder
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	users := newMemUsers()
	sessions := newMemSessions()
	mail := notify.NewRecorder()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUsers(users).
		WithSessions(sessions).
		WithNotifier(mail).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, users: users, sessions: sessions, mail: mail, redis: mr}
}

// seedUser registers a verified account directly in the store, bypassing
// the registration workflow.
func (env *testEnv) seedUser(t *testing.T, email, username, plaintext string) *User {
	t.Helper()

	hash, err := env.engine.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	now := time.Now()
	user := &User{
		ID:              "u-" + username,
		Email:           email,
		Username:        username,
		PasswordHash:    hash,
		EmailVerifiedAt: &now,
		Role:            RoleUser,
		CreatedAt:       now,
	}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	return user
}

// setClock pins the engine clock to a controllable point in time and
// returns an advance function.
func (env *testEnv) setClock(start time.Time) func(time.Duration) {
	current := start
	env.engine.clock = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}
