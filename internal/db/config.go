package db

import (
	"context"
	"fmt"
)

// GetConfigValue retrieves an operator-configurable setting.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM config WHERE key = ?", key)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config value: %w", err)
	}
	return value, nil
}

// SetConfigValue upserts an operator-configurable setting.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config value: %w", err)
	}
	return nil
}
