package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateSession records the start of a run.
func (s *Store) CreateSession(sess Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = "running"
	}
	if sess.SettingsJSON == "" {
		sess.SettingsJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_at, provider, model, mode, total, succeeded, status, settings_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, formatTime(sess.StartedAt), sess.Provider, sess.Model, sess.Mode,
		sess.Total, sess.Succeeded, sess.Status, sess.SettingsJSON,
	)
	return err
}

// FinishSession stores a run's final counters and status.
func (s *Store) FinishSession(id string, total, succeeded int, status string) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET finished_at = ?, total = ?, succeeded = ?, status = ? WHERE id = ?`,
		formatTime(time.Now()), total, succeeded, status, id,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListSessions returns the most recent runs first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, provider, model, mode, total, succeeded, status, settings_json
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one run.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, provider, model, mode, total, succeeded, status, settings_json
		FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	return sess, err
}

func scanSession(sc scanner) (Session, error) {
	var sess Session
	var startedAt string
	var finishedAt sql.NullString
	if err := sc.Scan(&sess.ID, &startedAt, &finishedAt, &sess.Provider, &sess.Model, &sess.Mode,
		&sess.Total, &sess.Succeeded, &sess.Status, &sess.SettingsJSON); err != nil {
		return Session{}, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("parsing started_at: %w", err)
	}
	sess.StartedAt = t
	if finishedAt.Valid {
		if sess.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return Session{}, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	return sess, nil
}
