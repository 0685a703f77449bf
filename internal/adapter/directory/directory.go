// Package directory serves the static Sudbury business dataset.
package directory

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

//go:embed data/sudbury_businesses.json
var embeddedDataset []byte

//go:embed data/keywords.yaml
var embeddedKeywords []byte

// Directory is an immutable in-memory view of a dataset. Safe for concurrent use.
type Directory struct {
	businesses []domain.Business
	categories []string
	keywords   map[string][]string
}

// New builds a Directory from ds and the embedded keyword map.
func New(ds domain.Dataset) (*Directory, error) {
	kw, err := parseKeywords(embeddedKeywords)
	if err != nil {
		return nil, err
	}
	return &Directory{businesses: ds.Businesses, categories: ds.Categories, keywords: kw}, nil
}

// Embedded returns the directory compiled into the binary.
func Embedded() (*Directory, error) {
	ds, err := ParseDataset(embeddedDataset)
	if err != nil {
		return nil, err
	}
	return New(ds)
}

// ParseDataset decodes the {businesses, categories} document.
func ParseDataset(b []byte) (domain.Dataset, error) {
	var ds domain.Dataset
	if err := json.Unmarshal(b, &ds); err != nil {
		return domain.Dataset{}, fmt.Errorf("op=directory.ParseDataset: %w", err)
	}
	if len(ds.Businesses) == 0 {
		return domain.Dataset{}, fmt.Errorf("op=directory.ParseDataset: %w: dataset has no businesses", domain.ErrInvalidArgument)
	}
	for i := range ds.Businesses {
		if ds.Businesses[i].Services == nil {
			ds.Businesses[i].Services = []string{}
		}
		if ds.Businesses[i].Languages == nil {
			ds.Businesses[i].Languages = []string{}
		}
	}
	return ds, nil
}

func parseKeywords(b []byte) (map[string][]string, error) {
	var kw map[string][]string
	if err := yaml.Unmarshal(b, &kw); err != nil {
		return nil, fmt.Errorf("op=directory.parseKeywords: %w", err)
	}
	for cat, words := range kw {
		for i, w := range words {
			words[i] = strings.ToLower(w)
		}
		kw[cat] = words
	}
	return kw, nil
}

// All returns every business.
func (d *Directory) All() []domain.Business {
	return append([]domain.Business(nil), d.businesses...)
}

// Categories returns the declared categories.
func (d *Directory) Categories() []string {
	return append([]string(nil), d.categories...)
}

// ByID returns the business with the given id.
func (d *Directory) ByID(id string) (domain.Business, bool) {
	for _, b := range d.businesses {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Business{}, false
}

// ByCategory matches the category case-insensitively.
func (d *Directory) ByCategory(category string) []domain.Business {
	return d.filter(func(b domain.Business) bool { return strings.EqualFold(b.Category, category) })
}

// Search matches term against name, description, category, subcategory and services.
func (d *Directory) Search(term string) []domain.Business {
	t := strings.ToLower(term)
	return d.filter(func(b domain.Business) bool {
		return contains(b.Name, t) || contains(b.Description, t) ||
			contains(b.Category, t) || contains(b.Subcategory, t) || anyContains(b.Services, t)
	})
}

// Advanced applies every non-empty criterion. The term only looks at name,
// description and subcategory; language must match exactly.
func (d *Directory) Advanced(c domain.SearchCriteria) []domain.Business {
	term := strings.ToLower(c.Term)
	service := strings.ToLower(c.Service)
	return d.filter(func(b domain.Business) bool {
		if term != "" && !(contains(b.Name, term) || contains(b.Description, term) || contains(b.Subcategory, term)) {
			return false
		}
		if c.Category != "" && !strings.EqualFold(b.Category, c.Category) {
			return false
		}
		if c.Language != "" && !anyEqualFold(b.Languages, c.Language) {
			return false
		}
		if service != "" && !anyContains(b.Services, service) {
			return false
		}
		return true
	})
}

// Suggest maps keywords in query onto categories. Without a keyword hit it
// falls back to Search.
func (d *Directory) Suggest(query string) []domain.Business {
	q := strings.ToLower(query)
	matched := map[string]bool{}
	for cat, words := range d.keywords {
		for _, w := range words {
			if strings.Contains(q, w) {
				matched[cat] = true
				break
			}
		}
	}
	slog.Debug("directory suggest", slog.String("query", query), slog.Int("categories", len(matched)))
	if len(matched) == 0 {
		return d.Search(query)
	}
	return d.filter(func(b domain.Business) bool { return matched[b.Category] })
}

func (d *Directory) filter(keep func(domain.Business) bool) []domain.Business {
	out := []domain.Business{}
	for _, b := range d.businesses {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func contains(s, lowerTerm string) bool { return strings.Contains(strings.ToLower(s), lowerTerm) }

func anyContains(list []string, lowerTerm string) bool {
	for _, s := range list {
		if contains(s, lowerTerm) {
			return true
		}
	}
	return false
}

func anyEqualFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// FormatHTML renders a business card. Field values are escaped.
func FormatHTML(b domain.Business) string {
	e := html.EscapeString
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h2>%s</h2>\n", e(b.Name))
	fmt.Fprintf(&sb, "<p><strong>Catégorie:</strong> %s - %s</p>\n", e(b.Category), e(b.Subcategory))
	fmt.Fprintf(&sb, "<p><strong>Adresse:</strong> %s</p>\n", e(b.Address))
	fmt.Fprintf(&sb, "<p><strong>Téléphone:</strong> %s</p>\n", e(b.Phone))
	fmt.Fprintf(&sb, "<p><strong>Email:</strong> %s</p>\n", e(b.Email))
	fmt.Fprintf(&sb, "<p><strong>Site web:</strong> %s</p>\n", e(b.Website))
	fmt.Fprintf(&sb, "<p><strong>Horaires:</strong> %s</p>\n", e(b.Hours))
	fmt.Fprintf(&sb, "<p><strong>Description:</strong> %s</p>\n", e(b.Description))
	fmt.Fprintf(&sb, "<p><strong>Services:</strong> %s</p>\n", e(strings.Join(b.Services, ", ")))
	fmt.Fprintf(&sb, "<p><strong>Langues parlées:</strong> %s</p>\n", e(strings.Join(b.Languages, ", ")))
	return sb.String()
}

var _ domain.Directory = (*Directory)(nil)
