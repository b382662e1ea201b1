package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// StageItem adds a file to the queue with status "ready".
func (s *Store) StageItem(it StagedItem) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}
	if it.Status == "" {
		it.Status = "ready"
	}
	_, err := s.db.Exec(`
		INSERT INTO staged_items (id, filename, path, mime_type, status, thumbnail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Filename, it.Path, it.MimeType, it.Status, it.Thumbnail, formatTime(it.CreatedAt),
	)
	return err
}

// ListStaged returns queued items in staging order.
func (s *Store) ListStaged() ([]StagedItem, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, path, mime_type, status, thumbnail, created_at
		FROM staged_items ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []StagedItem
	for rows.Next() {
		it, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetStaged returns one queued item.
func (s *Store) GetStaged(id string) (StagedItem, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, path, mime_type, status, thumbnail, created_at
		FROM staged_items WHERE id = ?`, id)
	it, err := scanStaged(row)
	if err == sql.ErrNoRows {
		return StagedItem{}, ErrNotFound
	}
	return it, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStaged(sc scanner) (StagedItem, error) {
	var it StagedItem
	var createdAt string
	if err := sc.Scan(&it.ID, &it.Filename, &it.Path, &it.MimeType, &it.Status, &it.Thumbnail, &createdAt); err != nil {
		return StagedItem{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return StagedItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	it.CreatedAt = t
	return it, nil
}

// SetItemStatus updates a queued item's status.
func (s *Store) SetItemStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE staged_items SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ResetProcessing returns items left "processing" by an interrupted run to
// "ready".
func (s *Store) ResetProcessing() (int64, error) {
	res, err := s.db.Exec(`UPDATE staged_items SET status = 'ready' WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RemoveStaged deletes an item from the queue.
func (s *Store) RemoveStaged(id string) error {
	res, err := s.db.Exec(`DELETE FROM staged_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ClearQueue removes every queued item and returns how many were removed.
func (s *Store) ClearQueue() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM staged_items`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
