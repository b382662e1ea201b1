package export

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kalambet/stockmeta/internal/orchestrator"
	"github.com/kalambet/stockmeta/internal/prompt"
)

// Site selects a stock-site upload layout.
type Site string

const (
	SiteGeneral      Site = "General"
	SiteAdobeStock   Site = "adobe-stock"
	SiteShutterstock Site = "shutterstock"
	SiteFreepik      Site = "freepik"
	SiteGetty        Site = "getty"
	SiteIStock       Site = "istock"
	SiteDreamstime   Site = "dreamstime"
	SiteVecteezy     Site = "vecteezy"
)

// shutterstockMaxKeywords is the upload limit of that site.
const shutterstockMaxKeywords = 50

type layout struct {
	headers []string
	row     func(name string, r orchestrator.Record) []string
}

var layouts = map[Site]layout{
	SiteGeneral: {
		headers: []string{"Filename", "Title", "Description", "Keywords", "Category"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, r.Description, joinKeywords(r.Keywords, ", "), r.Category}
		},
	},
	SiteAdobeStock: {
		headers: []string{"Filename", "Title", "Keywords", "Category"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, joinKeywords(r.Keywords, ", "), r.Category}
		},
	},
	SiteShutterstock: {
		headers: []string{"Filename", "Description", "Keywords", "Categorie"},
		row: func(name string, r orchestrator.Record) []string {
			kw := r.Keywords
			if len(kw) > shutterstockMaxKeywords {
				kw = kw[:shutterstockMaxKeywords]
			}
			return []string{name, r.Title, joinKeywords(kw, ","), r.Category}
		},
	},
	SiteFreepik: {
		headers: []string{"File name", "Title", "Keywords", "Prompt", "Category"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, joinKeywords(r.Keywords, ", "), "", r.Category}
		},
	},
	SiteGetty: {
		headers: []string{"Filename", "Title", "Description", "Keywords", "Category"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, r.Description, joinKeywords(r.Keywords, ", "), r.Category}
		},
	},
	SiteIStock: {
		headers: []string{"filename", "title", "keywords", "category", "release"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, joinKeywords(r.Keywords, ", "), r.Category, ""}
		},
	},
	SiteDreamstime: {
		headers: []string{"filename", "title", "keywords", "category", "exclusive", "editorial",
			"model_releases", "property_releases", "image_id", "mr_ids"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, joinKeywords(r.Keywords, ", "), r.Category, "", "", "", "", "", ""}
		},
	},
	SiteVecteezy: {
		headers: []string{"Filename", "Title", "Description", "Keywords"},
		row: func(name string, r orchestrator.Record) []string {
			return []string{name, r.Title, r.Description, joinKeywords(r.Keywords, ", ")}
		},
	},
}

// Sites lists the supported layouts, General first.
func Sites() []Site {
	return []Site{SiteGeneral, SiteAdobeStock, SiteShutterstock, SiteFreepik,
		SiteGetty, SiteIStock, SiteDreamstime, SiteVecteezy}
}

// ParseSite resolves a layout name case-insensitively. Empty means General.
func ParseSite(s string) (Site, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SiteGeneral, nil
	}
	for _, site := range Sites() {
		if strings.EqualFold(string(site), s) {
			return site, nil
		}
	}
	return "", fmt.Errorf("unknown stock site %q", s)
}

// CSV writes records in the layout of opts.Site. The mode of the first
// record decides between the metadata layouts and the prompt layout;
// records of the other mode are skipped.
func CSV(w io.Writer, records []orchestrator.Record, opts Options) error {
	if len(records) == 0 {
		return ErrEmpty
	}
	var headers []string
	var rows [][]string

	if records[0].Mode == prompt.ModePrompt {
		headers = []string{"serial number", "Description"}
		for _, r := range records {
			if r.Mode != prompt.ModePrompt {
				continue
			}
			rows = append(rows, []string{strconv.Itoa(len(rows) + 1), r.Description})
		}
	} else {
		l, ok := layouts[opts.Site]
		if !ok {
			l = layouts[SiteGeneral]
		}
		headers = l.headers
		for _, r := range records {
			if r.Mode != prompt.ModeMetadata {
				continue
			}
			rows = append(rows, l.row(RenameExtension(r.Filename, opts.FileExtension), r))
		}
	}
	if len(rows) == 0 {
		return ErrEmpty
	}

	var b strings.Builder
	b.WriteString(strings.Join(headers, ","))
	for _, row := range rows {
		b.WriteByte('\n')
		for i, field := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quote(field))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Filename is the suggested download name for a CSV export.
func Filename(site Site, mode prompt.Mode) string {
	if site == "" {
		site = SiteGeneral
	}
	if mode == prompt.ModePrompt {
		return string(site) + "_prompts.csv"
	}
	return string(site) + "_metadata.csv"
}

// quote wraps every field and doubles embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func joinKeywords(kw []string, sep string) string {
	return strings.Join(kw, sep)
}
