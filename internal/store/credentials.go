package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	keyAccess  = "access"
	keyRefresh = "refresh"
)

// Credentials is the persisted pair. Either string may be empty when absent.
type Credentials struct {
	Access  string
	Refresh string
}

// LoadCredentials reads both credential strings. Missing rows load as "".
func (db *DB) LoadCredentials(ctx context.Context) (Credentials, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM credentials`)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var c Credentials
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Credentials{}, fmt.Errorf("scan credential: %w", err)
		}
		switch name {
		case keyAccess:
			c.Access = value
		case keyRefresh:
			c.Refresh = value
		}
	}
	return c, rows.Err()
}

// SaveCredentials replaces both strings in one transaction. An empty string
// removes that credential.
func (db *DB) SaveCredentials(ctx context.Context, c Credentials) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	for _, kv := range [...]struct{ name, value string }{
		{keyAccess, c.Access},
		{keyRefresh, c.Refresh},
	} {
		if err := putCredential(ctx, tx, kv.name, kv.value, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

// ClearCredentials removes both strings.
func (db *DB) ClearCredentials(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func putCredential(ctx context.Context, tx *sql.Tx, name, value string, now int64) error {
	if value == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name); err != nil {
			return fmt.Errorf("delete %s credential: %w", name, err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, now)
	if err != nil {
		return fmt.Errorf("save %s credential: %w", name, err)
	}
	return nil
}
