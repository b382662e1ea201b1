package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AddCredential appends key to provider's pool and returns its position.
func (s *Store) AddCredential(provider, key string) (int, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("empty API key")
	}
	var pos int
	err := s.withTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM credentials WHERE provider = ? AND api_key = ?`, provider, key).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("key already configured for %s", provider)
		}
		if err := tx.QueryRow(`SELECT COALESCE(MAX(position) + 1, 0) FROM credentials WHERE provider = ?`, provider).Scan(&pos); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO credentials (provider, position, api_key, created_at) VALUES (?, ?, ?, ?)`,
			provider, pos, key, formatTime(time.Now()))
		return err
	})
	if err != nil {
		return 0, err
	}
	return pos, nil
}

// ListCredentials returns provider's pool in order.
func (s *Store) ListCredentials(provider string) ([]Credential, error) {
	rows, err := s.db.Query(`SELECT provider, position, api_key, created_at FROM credentials
		WHERE provider = ? ORDER BY position ASC`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var createdAt string
		if err := rows.Scan(&c.Provider, &c.Position, &c.Key, &createdAt); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RemoveCredential deletes the key at index (0-based, in pool order) and
// closes the gap so positions stay contiguous.
func (s *Store) RemoveCredential(provider string, index int) error {
	creds, err := s.ListCredentials(provider)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(creds) {
		return ErrNotFound
	}

	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM credentials WHERE provider = ? AND position = ?`, provider, creds[index].Position); err != nil {
			return err
		}
		for i, c := range creds[index+1:] {
			if _, err := tx.Exec(`UPDATE credentials SET position = ? WHERE provider = ? AND position = ?`,
				index+i, provider, c.Position); err != nil {
				return err
			}
		}
		return nil
	})
}

// CredentialProviders returns every provider with at least one stored key.
func (s *Store) CredentialProviders() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT provider FROM credentials ORDER BY provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
