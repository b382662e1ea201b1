package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

// inspectVector checks that a PDF or PostScript file is readable before a
// placeholder is sent in its place.
func inspectVector(path, mimeType string) error {
	if mimeType == "application/pdf" {
		_, err := PageCount(path)
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	// EPS starts with "%!PS", Illustrator files with "%PDF", DOS EPS
	// binaries with C5 D0 D3 C6.
	if !bytes.HasPrefix(head, []byte("%!")) && !bytes.HasPrefix(head, []byte("%PDF")) &&
		!bytes.Equal(head, []byte{0xC5, 0xD0, 0xD3, 0xC6}) {
		return errors.New("not a PostScript file")
	}
	return nil
}

// PageCount opens a PDF and returns its number of pages.
func PageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()
	n := r.NumPage()
	if n == 0 {
		return 0, errors.New("pdf has no pages")
	}
	return n, nil
}
