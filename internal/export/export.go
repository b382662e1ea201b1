// Package export renders generated records as stock-site CSV uploads,
// JSON, or YAML.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/storage"
)

// ErrEmpty is returned when no record matches the export mode.
var ErrEmpty = errors.New("no data to export for the selected mode")

// Format is an output encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts csv, json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want csv, json or yaml)", s)
}

// Options controls the CSV layout.
type Options struct {
	Site Site
	// FileExtension replaces the extension of every exported filename.
	// Empty or "default" keeps filenames unchanged.
	FileExtension string
}

// Write encodes records to w.
func Write(w io.Writer, records []orchestrator.Record, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries(records, opts))
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries(records, opts)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return CSV(w, records, opts)
	}
}

// entry is the JSON/YAML shape of one record.
type entry struct {
	Filename    string   `json:"filename" yaml:"filename"`
	Mode        string   `json:"mode" yaml:"mode"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Failed      bool     `json:"failed,omitempty" yaml:"failed,omitempty"`
}

func entries(records []orchestrator.Record, opts Options) []entry {
	out := make([]entry, 0, len(records))
	for _, r := range records {
		out = append(out, entry{
			Filename:    RenameExtension(r.Filename, opts.FileExtension),
			Mode:        string(r.Mode),
			Title:       r.Title,
			Description: r.Description,
			Keywords:    r.Keywords,
			Category:    r.Category,
			Failed:      r.Failed,
		})
	}
	return out
}

// RenameExtension swaps the extension of filename for ext. A name without
// a dot gets ext appended.
func RenameExtension(filename, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" || ext == "default" {
		return filename
	}
	dot := strings.LastIndex(filename, ".")
	if dot == -1 {
		return filename + "." + ext
	}
	return filename[:dot] + "." + ext
}

// FromStored converts persisted results into records, payload included.
func FromStored(results []storage.Result) []orchestrator.Record {
	out := make([]orchestrator.Record, 0, len(results))
	for _, r := range results {
		rec := orchestrator.Record{
			Filename:    r.Filename,
			Thumbnail:   r.Thumbnail,
			Mode:        prompt.Mode(r.Mode),
			Title:       r.Title,
			Description: r.Description,
			Keywords:    r.Keywords,
			Category:    r.Category,
			Failed:      r.Failed,
		}
		rec.Payload.Data = r.PayloadData
		rec.Payload.MimeType = r.PayloadMime
		out = append(out, rec)
	}
	return out
}
