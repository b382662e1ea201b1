package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
	"github.com/kalambet/stockmeta/internal/storage"
)

func metadataRecords() []orchestrator.Record {
	return []orchestrator.Record{
		{
			Filename: "sunset.jpg", Mode: prompt.ModeMetadata,
			Title: "Sunset over sea", Description: `A "golden" sunset.`,
			Keywords: []string{"sunset", "sea", "sky"}, Category: "Nature",
		},
		{
			Filename: "broken.png", Mode: prompt.ModeMetadata,
			Title: "Error", Description: "Failed: timeout", Keywords: []string{}, Category: "Error", Failed: true,
		},
	}
}

func TestCSVLayouts(t *testing.T) {
	tests := []struct {
		site     Site
		header   string
		firstRow string
	}{
		{SiteGeneral, "Filename,Title,Description,Keywords,Category",
			`"sunset.jpg","Sunset over sea","A ""golden"" sunset.","sunset, sea, sky","Nature"`},
		{SiteAdobeStock, "Filename,Title,Keywords,Category",
			`"sunset.jpg","Sunset over sea","sunset, sea, sky","Nature"`},
		{SiteShutterstock, "Filename,Description,Keywords,Categorie",
			`"sunset.jpg","Sunset over sea","sunset,sea,sky","Nature"`},
		{SiteFreepik, "File name,Title,Keywords,Prompt,Category",
			`"sunset.jpg","Sunset over sea","sunset, sea, sky","","Nature"`},
		{SiteIStock, "filename,title,keywords,category,release",
			`"sunset.jpg","Sunset over sea","sunset, sea, sky","Nature",""`},
		{SiteDreamstime, "filename,title,keywords,category,exclusive,editorial,model_releases,property_releases,image_id,mr_ids",
			`"sunset.jpg","Sunset over sea","sunset, sea, sky","Nature","","","","","",""`},
		{SiteVecteezy, "Filename,Title,Description,Keywords",
			`"sunset.jpg","Sunset over sea","A ""golden"" sunset.","sunset, sea, sky"`},
	}
	for _, tt := range tests {
		t.Run(string(tt.site), func(t *testing.T) {
			var buf bytes.Buffer
			if err := CSV(&buf, metadataRecords(), Options{Site: tt.site}); err != nil {
				t.Fatalf("CSV: %v", err)
			}
			lines := strings.Split(buf.String(), "\n")
			if len(lines) != 3 {
				t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
			}
			if lines[0] != tt.header {
				t.Errorf("header = %s, want %s", lines[0], tt.header)
			}
			if lines[1] != tt.firstRow {
				t.Errorf("row = %s, want %s", lines[1], tt.firstRow)
			}
		})
	}
}

func TestCSVShutterstockKeywordCap(t *testing.T) {
	kw := make([]string, 60)
	for i := range kw {
		kw[i] = "k"
	}
	recs := []orchestrator.Record{{Filename: "a.jpg", Mode: prompt.ModeMetadata, Keywords: kw}}
	var buf bytes.Buffer
	if err := CSV(&buf, recs, Options{Site: SiteShutterstock}); err != nil {
		t.Fatal(err)
	}
	row := strings.Split(buf.String(), "\n")[1]
	fields := strings.Split(row, `","`)
	if n := strings.Count(fields[2], "k"); n != 50 {
		t.Errorf("keywords = %d, want 50", n)
	}
}

func TestCSVPromptMode(t *testing.T) {
	recs := []orchestrator.Record{
		{Filename: "a.jpg", Mode: prompt.ModePrompt, Description: "A cat, sleeping."},
		{Filename: "b.jpg", Mode: prompt.ModeMetadata, Title: "Ignored"},
		{Filename: "c.jpg", Mode: prompt.ModePrompt, Description: "A dog."},
	}
	var buf bytes.Buffer
	if err := CSV(&buf, recs, Options{Site: SiteAdobeStock}); err != nil {
		t.Fatal(err)
	}
	want := "serial number,Description\n\"1\",\"A cat, sleeping.\"\n\"2\",\"A dog.\""
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestCSVEmpty(t *testing.T) {
	if err := CSV(&bytes.Buffer{}, nil, Options{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("nil records: err = %v", err)
	}
}

func TestCSVFileExtension(t *testing.T) {
	var buf bytes.Buffer
	if err := CSV(&buf, metadataRecords(), Options{Site: SiteAdobeStock, FileExtension: "eps"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"sunset.eps"`) || !strings.Contains(buf.String(), `"broken.eps"`) {
		t.Errorf("extensions not rewritten:\n%s", buf.String())
	}
}

func TestRenameExtension(t *testing.T) {
	tests := []struct{ name, ext, want string }{
		{"photo.jpg", "default", "photo.jpg"},
		{"photo.jpg", "", "photo.jpg"},
		{"photo.jpg", "png", "photo.png"},
		{"photo.final.jpg", ".eps", "photo.final.eps"},
		{"README", "txt", "README.txt"},
	}
	for _, tt := range tests {
		if got := RenameExtension(tt.name, tt.ext); got != tt.want {
			t.Errorf("RenameExtension(%q, %q) = %q, want %q", tt.name, tt.ext, got, tt.want)
		}
	}
}

func TestParseSite(t *testing.T) {
	if s, err := ParseSite(""); err != nil || s != SiteGeneral {
		t.Errorf("ParseSite(\"\") = %q, %v", s, err)
	}
	if s, err := ParseSite("Adobe-Stock"); err != nil || s != SiteAdobeStock {
		t.Errorf("ParseSite(Adobe-Stock) = %q, %v", s, err)
	}
	if _, err := ParseSite("pond5"); err == nil {
		t.Error("expected error for unknown site")
	}
}

func TestFilename(t *testing.T) {
	if got := Filename(SiteGetty, prompt.ModeMetadata); got != "getty_metadata.csv" {
		t.Errorf("got %s", got)
	}
	if got := Filename("", prompt.ModePrompt); got != "General_prompts.csv" {
		t.Errorf("got %s", got)
	}
}

func TestWriteJSONAndYAML(t *testing.T) {
	recs := metadataRecords()
	recs[0].Payload.Data = "AAAA"

	var jbuf bytes.Buffer
	if err := Write(&jbuf, recs, FormatJSON, Options{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(jbuf.String(), "AAAA") {
		t.Error("payload leaked into JSON export")
	}
	var decoded []map[string]any
	if err := json.Unmarshal(jbuf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 2 || decoded[1]["failed"] != true {
		t.Errorf("decoded = %v", decoded)
	}

	var ybuf bytes.Buffer
	if err := Write(&ybuf, recs, FormatYAML, Options{FileExtension: "png"}); err != nil {
		t.Fatal(err)
	}
	var ydoc []entry
	if err := yaml.Unmarshal(ybuf.Bytes(), &ydoc); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if len(ydoc) != 2 || ydoc[0].Filename != "sunset.png" || len(ydoc[0].Keywords) != 3 {
		t.Errorf("yaml = %+v", ydoc)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "json": FormatJSON, "yml": FormatYAML} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestFromStored(t *testing.T) {
	recs := FromStored([]storage.Result{
		{Filename: "a.jpg", Mode: "metadata", Title: "A", Keywords: []string{"a"}, PayloadMime: "image/jpeg", PayloadData: "BBBB"},
		{Filename: "b.jpg", Mode: "prompt", Description: "B", Failed: true},
	})
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Mode != prompt.ModeMetadata || recs[0].Payload.Data != "BBBB" || recs[0].Payload.MimeType != "image/jpeg" {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if recs[1].Mode != prompt.ModePrompt || !recs[1].Failed {
		t.Errorf("recs[1] = %+v", recs[1])
	}
}
