package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
)

// GetConfig returns the value stored under key. The boolean is false when
// the key does not exist.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	db, err := s.acquire()
	if err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM "+configTable+" WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get config "+key, err)
	}
	return value, true, nil
}

// SetConfig inserts or replaces the value stored under key.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	query, args, err := builder.Insert(configTable).
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return storeErr("build config upsert", err)
	}
	_, err = s.exec(ctx, "set config "+key, query, args...)
	return err
}

// ListConfigs returns every config entry ordered by key.
func (s *Store) ListConfigs(ctx context.Context) ([]models.ConfigEntry, error) {
	db, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := db.QueryContext(ctx, "SELECT key, value, created_at FROM "+configTable+" ORDER BY key")
	if err != nil {
		return nil, storeErr("list config", err)
	}
	defer rows.Close()

	entries := make([]models.ConfigEntry, 0)
	for rows.Next() {
		var (
			e         models.ConfigEntry
			createdAt sql.NullTime
		)
		if err := rows.Scan(&e.Key, &e.Value, &createdAt); err != nil {
			return nil, storeErr("scan config", err)
		}
		if createdAt.Valid {
			e.CreatedAt = createdAt.Time.UTC()
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate config", err)
	}
	return entries, nil
}
