package services

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// fakeOptionsRepo is an in-memory stand-in for the durable options
// registry.
type fakeOptionsRepo struct {
	mu   sync.Mutex
	rows map[string]json.RawMessage
}

func newFakeOptionsRepo() *fakeOptionsRepo {
	return &fakeOptionsRepo{rows: make(map[string]json.RawMessage)}
}

func (r *fakeOptionsRepo) Get(name string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.rows[name]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (r *fakeOptionsRepo) Set(name string, value json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[name] = append(json.RawMessage(nil), value...)
	return nil
}

func (r *fakeOptionsRepo) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, name)
	return nil
}

func (r *fakeOptionsRepo) ListPrefix(prefix string) (map[string]json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for name, value := range r.rows {
		if strings.HasPrefix(name, prefix) {
			out[name] = value
		}
	}
	return out, nil
}

// fakeUserMetaRepo is an in-memory stand-in for per-user durable fields.
type fakeUserMetaRepo struct {
	mu   sync.Mutex
	rows map[string]json.RawMessage
}

func newFakeUserMetaRepo() *fakeUserMetaRepo {
	return &fakeUserMetaRepo{rows: make(map[string]json.RawMessage)}
}

func metaRowKey(userID uuid.UUID, key string) string {
	return userID.String() + "/" + key
}

func (r *fakeUserMetaRepo) Get(userID uuid.UUID, key string) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.rows[metaRowKey(userID, key)]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (r *fakeUserMetaRepo) Set(userID uuid.UUID, key string, value json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[metaRowKey(userID, key)] = append(json.RawMessage(nil), value...)
	return nil
}

func (r *fakeUserMetaRepo) Delete(userID uuid.UUID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, metaRowKey(userID, key))
	return nil
}

// recordingSender captures queued mail for assertions.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	to      string
	subject string
	body    string
}

func (s *recordingSender) Send(to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
