package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// StagedItem is a file waiting in the generation queue.
type StagedItem struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"path,omitempty"`
	MimeType  string    `json:"mime_type"`
	Status    string    `json:"status"`              // "ready", "processing", "error"
	Thumbnail string    `json:"thumbnail,omitempty"` // data URL
	CreatedAt time.Time `json:"created_at"`
}

// Result is a generated (or failed) record. Results with Archived unset
// form the working set shown and exported by default.
type Result struct {
	ID          string
	SessionID   string
	Filename    string
	Mode        string
	Title       string
	Description string
	Keywords    []string
	Category    string
	Thumbnail   string
	PayloadMime string
	PayloadData string // base64 upload kept for regeneration
	Failed      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Credential is one API key in a provider's ordered pool.
type Credential struct {
	Provider  string
	Position  int
	Key       string
	CreatedAt time.Time
}

// Session is the history entry of one generation run.
type Session struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Mode         string    `json:"mode"`
	Total        int       `json:"total"`
	Succeeded    int       `json:"succeeded"`
	Status       string    `json:"status"` // "running", "completed", "stopped"
	SettingsJSON string    `json:"settings"`
}
