package models

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *User) error {
	query := `
		INSERT INTO users (username, email, password_hash, bio)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return r.db.QueryRow(query, user.Username, user.Email, user.PasswordHash, user.Bio).
		Scan(&user.ID, &user.CreatedAt)
}

func (r *UserRepository) GetByEmail(email string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE email = $1`
	err := r.db.Get(&user, query, email)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByUsername(username string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE username = $1`
	err := r.db.Get(&user, query, username)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(id uuid.UUID) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE id = $1`
	err := r.db.Get(&user, query, id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type OptionsRepository struct {
	db *sqlx.DB
}

func NewOptionsRepository(db *sqlx.DB) *OptionsRepository {
	return &OptionsRepository{db: db}
}

func (r *OptionsRepository) Get(name string) (json.RawMessage, error) {
	var value json.RawMessage
	query := `SELECT value FROM options WHERE name = $1`
	err := r.db.Get(&value, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *OptionsRepository) Set(name string, value json.RawMessage) error {
	query := `
		INSERT INTO options (name, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = NOW()`
	_, err := r.db.Exec(query, name, value)
	return err
}

func (r *OptionsRepository) Delete(name string) error {
	_, err := r.db.Exec(`DELETE FROM options WHERE name = $1`, name)
	return err
}

func (r *OptionsRepository) ListPrefix(prefix string) (map[string]json.RawMessage, error) {
	rows, err := r.db.Queryx(`SELECT name, value FROM options WHERE name LIKE $1`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var name string
		var value json.RawMessage
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, rows.Err()
}

type UserMetaRepository struct {
	db *sqlx.DB
}

func NewUserMetaRepository(db *sqlx.DB) *UserMetaRepository {
	return &UserMetaRepository{db: db}
}

func (r *UserMetaRepository) Get(userID uuid.UUID, key string) (json.RawMessage, error) {
	var value json.RawMessage
	query := `SELECT meta_value FROM user_meta WHERE user_id = $1 AND meta_key = $2`
	err := r.db.Get(&value, query, userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *UserMetaRepository) Set(userID uuid.UUID, key string, value json.RawMessage) error {
	query := `
		INSERT INTO user_meta (user_id, meta_key, meta_value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = $3, updated_at = NOW()`
	_, err := r.db.Exec(query, userID, key, value)
	return err
}

func (r *UserMetaRepository) Delete(userID uuid.UUID, key string) error {
	_, err := r.db.Exec(`DELETE FROM user_meta WHERE user_id = $1 AND meta_key = $2`, userID, key)
	return err
}
