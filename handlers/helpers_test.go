package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/yourusername/ember/models"
	"github.com/yourusername/ember/services"
)

// MockUserRepository is a testify mock over the user repository.
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(user *models.User) error {
	args := m.Called(user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByEmail(email string) (*models.User, error) {
	args := m.Called(email)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByUsername(username string) (*models.User, error) {
	args := m.Called(username)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	args := m.Called(id)
	if user := args.Get(0); user != nil {
		return user.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// In-memory repos for the security services.

type memOptionsRepo struct{ rows map[string]json.RawMessage }

func newMemOptionsRepo() *memOptionsRepo {
	return &memOptionsRepo{rows: make(map[string]json.RawMessage)}
}

func (r *memOptionsRepo) Get(name string) (json.RawMessage, error) {
	value, ok := r.rows[name]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (r *memOptionsRepo) Set(name string, value json.RawMessage) error {
	r.rows[name] = append(json.RawMessage(nil), value...)
	return nil
}

func (r *memOptionsRepo) Delete(name string) error {
	delete(r.rows, name)
	return nil
}

func (r *memOptionsRepo) ListPrefix(prefix string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for name, value := range r.rows {
		if strings.HasPrefix(name, prefix) {
			out[name] = value
		}
	}
	return out, nil
}

type memMetaRepo struct{ rows map[string]json.RawMessage }

func newMemMetaRepo() *memMetaRepo {
	return &memMetaRepo{rows: make(map[string]json.RawMessage)}
}

func (r *memMetaRepo) Get(userID uuid.UUID, key string) (json.RawMessage, error) {
	value, ok := r.rows[userID.String()+"/"+key]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (r *memMetaRepo) Set(userID uuid.UUID, key string, value json.RawMessage) error {
	r.rows[userID.String()+"/"+key] = append(json.RawMessage(nil), value...)
	return nil
}

func (r *memMetaRepo) Delete(userID uuid.UUID, key string) error {
	delete(r.rows, userID.String()+"/"+key)
	return nil
}

// testStack bundles the services a handler test needs.
type testStack struct {
	userRepo *MockUserRepository
	guard    *services.BruteForceGuard
	monitor  *services.SessionMonitor
	limiter  *services.RateLimiter
	events   *services.EventSink
	resolver *services.ClientIPResolver
}

func newTestStack() *testStack {
	store := services.NewMemoryStore()
	events := services.NewEventSink(store, nil, "")
	resolver := services.NewClientIPResolver([]string{"X-Forwarded-For"})
	bans := services.NewBanStore(store, newMemOptionsRepo())
	return &testStack{
		userRepo: new(MockUserRepository),
		guard:    services.NewBruteForceGuard(store, bans, events, resolver),
		monitor:  services.NewSessionMonitor(store, newMemMetaRepo(), events, resolver),
		limiter:  services.NewRateLimiter(store, services.DefaultRateLimits()),
		events:   events,
		resolver: resolver,
	}
}

func jsonRequest(t *testing.T, method, path string, payload any, header map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		assert.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, _ := http.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "test-agent")
	for name, value := range header {
		req.Header.Set(name, value)
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func newTestUser(t *testing.T, password string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
	}
	assert.NoError(t, user.HashPassword(password))
	return user
}

var _ models.UserRepositoryInterface = (*MockUserRepository)(nil)
var _ models.OptionsRepositoryInterface = (*memOptionsRepo)(nil)
var _ models.UserMetaRepositoryInterface = (*memMetaRepo)(nil)
