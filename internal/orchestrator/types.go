package orchestrator

import (
	"github.com/kalambet/stockmeta/internal/media"
	"github.com/kalambet/stockmeta/internal/prompt"
)

// ItemStatus is the queue state of a staged item.
type ItemStatus string

const (
	StatusReady      ItemStatus = "ready"
	StatusProcessing ItemStatus = "processing"
	// StatusError marks a terminal failure; the item leaves the queue.
	StatusError ItemStatus = "error"
	// StatusDone marks a success; the item leaves the queue.
	StatusDone ItemStatus = "done"
)

// Item is one staged file.
type Item struct {
	ID        string
	Filename  string
	Source    media.Source
	Thumbnail string
}

// Record is the outcome of one generation. Prompt-mode records only carry
// Description.
type Record struct {
	Filename    string        `json:"filename"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Mode        prompt.Mode   `json:"mode"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description"`
	Keywords    []string      `json:"keywords,omitempty"`
	Category    string        `json:"category,omitempty"`
	Failed      bool          `json:"failed,omitempty"`
	Payload     media.Payload `json:"-"`
}

// errorTitle is the sentinel title and category of failed metadata records.
const errorTitle = "Error"

func errorRecord(it Item, mode prompt.Mode, payload media.Payload, msg string) Record {
	rec := Record{
		Filename:    it.Filename,
		Thumbnail:   it.Thumbnail,
		Mode:        mode,
		Description: "Failed: " + msg,
		Failed:      true,
		Payload:     payload,
	}
	if mode == prompt.ModeMetadata {
		rec.Title = errorTitle
		rec.Category = errorTitle
		rec.Keywords = []string{}
	}
	return rec
}

// Progress is emitted after every item and on every status change.
type Progress struct {
	Percent     float64 `json:"percent"`
	Status      string  `json:"status"`
	CurrentFile int     `json:"current_file"`
	TotalFiles  int     `json:"total_files"`
}

// NoticeLevel grades a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is a short user-facing message.
type Notice struct {
	Level    NoticeLevel `json:"level"`
	Filename string      `json:"filename,omitempty"`
	Message  string      `json:"message"`
}

// Hooks receive the run's output. Calls are serialized; a hook must not
// block for long and must not call back into Run.
type Hooks struct {
	OnProgress func(Progress)
	OnResult   func(Record)
	OnNotice   func(Notice)
	OnItem     func(Item, ItemStatus)
}

// Summary describes a finished run.
type Summary struct {
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Stopped   bool   `json:"stopped"`
	Status    string `json:"status"`
}

// Failed is the number of terminal failures.
func (s Summary) Failed() int { return s.Processed - s.Succeeded }
