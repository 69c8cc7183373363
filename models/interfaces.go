package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

type UserRepositoryInterface interface {
	Create(user *User) error
	GetByEmail(email string) (*User, error)
	GetByUsername(username string) (*User, error)
	GetByID(id uuid.UUID) (*User, error)
}

// OptionsRepositoryInterface is the durable name/value registry. The
// ban store keeps its authoritative records here so they survive cache
// eviction and restarts.
type OptionsRepositoryInterface interface {
	Get(name string) (json.RawMessage, error)
	Set(name string, value json.RawMessage) error
	Delete(name string) error
	ListPrefix(prefix string) (map[string]json.RawMessage, error)
}

// UserMetaRepositoryInterface stores per-user durable fields, such as
// the session backup slot.
type UserMetaRepositoryInterface interface {
	Get(userID uuid.UUID, key string) (json.RawMessage, error)
	Set(userID uuid.UUID, key string, value json.RawMessage) error
	Delete(userID uuid.UUID, key string) error
}
