package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const resultColumns = `id, session_id, filename, mode, title, description, keywords, category,
	thumbnail, payload_mime, payload_data, failed, created_at, updated_at`

// AppendResult adds a record to the working set.
func (s *Store) AppendResult(r Result) error {
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	kw, err := encodeKeywords(r.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO results (`+resultColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Filename, r.Mode, r.Title, r.Description, kw, r.Category,
		r.Thumbnail, r.PayloadMime, r.PayloadData, r.Failed,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	return err
}

// ReplaceResult overwrites the generated fields of the working-set record
// with the same filename.
func (s *Store) ReplaceResult(r Result) error {
	kw, err := encodeKeywords(r.Keywords)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE results SET title = ?, description = ?, keywords = ?, category = ?, failed = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM results WHERE filename = ? AND archived = 0
			ORDER BY created_at DESC, rowid DESC LIMIT 1
		)`,
		r.Title, r.Description, kw, r.Category, r.Failed, formatTime(time.Now()), r.Filename,
	)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListResults returns the working set in the order records were appended.
func (s *Store) ListResults() ([]Result, error) {
	return s.queryResults(`SELECT ` + resultColumns + ` FROM results WHERE archived = 0
		ORDER BY created_at ASC, rowid ASC`)
}

// SessionResults returns every record produced by one run, archived or not.
func (s *Store) SessionResults(sessionID string) ([]Result, error) {
	return s.queryResults(`SELECT `+resultColumns+` FROM results WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID)
}

// GetResult returns the working-set record for filename.
func (s *Store) GetResult(filename string) (Result, error) {
	row := s.db.QueryRow(`SELECT `+resultColumns+` FROM results
		WHERE filename = ? AND archived = 0 ORDER BY created_at DESC, rowid DESC LIMIT 1`, filename)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return Result{}, ErrNotFound
	}
	return r, err
}

// ClearResults empties the working set. Records stay reachable through
// their history session.
func (s *Store) ClearResults() (int64, error) {
	res, err := s.db.Exec(`UPDATE results SET archived = 1 WHERE archived = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryResults(query string, args ...any) ([]Result, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResult(sc scanner) (Result, error) {
	var r Result
	var kw, createdAt, updatedAt string
	err := sc.Scan(&r.ID, &r.SessionID, &r.Filename, &r.Mode, &r.Title, &r.Description, &kw, &r.Category,
		&r.Thumbnail, &r.PayloadMime, &r.PayloadData, &r.Failed, &createdAt, &updatedAt)
	if err != nil {
		return Result{}, err
	}
	if err := json.Unmarshal([]byte(kw), &r.Keywords); err != nil {
		return Result{}, fmt.Errorf("decoding keywords of %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Result{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Result{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

func encodeKeywords(kw []string) (string, error) {
	if kw == nil {
		kw = []string{}
	}
	b, err := json.Marshal(kw)
	if err != nil {
		return "", fmt.Errorf("encoding keywords: %w", err)
	}
	return string(b), nil
}
