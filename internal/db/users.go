package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coachbook/internal/ledger"
	"coachbook/internal/models"
)

// ErrUserNotFound is returned when no user row matches.
var ErrUserNotFound = errors.New("user not found")

// GetUser loads a user and their purchase aggregate.
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return db.scanUser(db.QueryRowContext(ctx, `
		SELECT id, email, purchases, version, created_at, updated_at
		FROM users WHERE id = ?`, userID))
}

// GetUserByEmail loads a user by their identity-provider email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.scanUser(db.QueryRowContext(ctx, `
		SELECT id, email, purchases, version, created_at, updated_at
		FROM users WHERE email = ?`, email))
}

func (db *DB) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var purchases string
	err := row.Scan(&u.ID, &u.Email, &purchases, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(purchases), &u.Purchases); err != nil {
		return nil, fmt.Errorf("decode purchases for user %s: %w", u.ID, err)
	}
	return &u, nil
}

// EnsureUser creates the user row for an identity-provider principal on
// first contact. Existing rows are left untouched.
func (db *DB) EnsureUser(ctx context.Context, userID, email string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`,
		userID, email,
	)
	return err
}

// UpdatePurchases replaces the purchase aggregate in a single conditional
// write: it applies only if the stored version still equals
// expectedVersion, otherwise ledger.ErrVersionConflict is returned and the
// caller re-reads and retries.
func (db *DB) UpdatePurchases(ctx context.Context, userID string, expectedVersion int64, purchases []models.Purchase) error {
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	data, err := json.Marshal(purchases)
	if err != nil {
		return fmt.Errorf("encode purchases: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		UPDATE users
		SET purchases = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(data), time.Now(), userID, expectedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrVersionConflict
	}
	return nil
}
