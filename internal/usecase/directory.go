package usecase

import (
	"fmt"
	"strings"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

// BusinessQuery holds the optional filters of a directory lookup.
type BusinessQuery struct {
	ID       string
	Category string
	Term     string
	Language string
	Service  string
}

// DirectoryService answers directory lookups.
type DirectoryService struct {
	Dir domain.Directory
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(d domain.Directory) DirectoryService {
	return DirectoryService{Dir: d}
}

// Find resolves q by priority: id, then an advanced search when two or more
// criteria are set, then category, then term, then everything.
// A single business is returned only for id lookups.
func (s DirectoryService) Find(q BusinessQuery) (*domain.Business, []domain.Business, error) {
	q = trimQuery(q)
	if q.ID != "" {
		b, ok := s.Dir.ByID(q.ID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: business %q", domain.ErrNotFound, q.ID)
		}
		return &b, nil, nil
	}
	c := domain.SearchCriteria{Term: q.Term, Category: q.Category, Language: q.Language, Service: q.Service}
	switch {
	case c.Count() >= 2:
		return nil, s.Dir.Advanced(c), nil
	case q.Category != "":
		return nil, s.Dir.ByCategory(q.Category), nil
	case q.Term != "":
		return nil, s.Dir.Search(q.Term), nil
	case q.Language != "" || q.Service != "":
		return nil, s.Dir.Advanced(c), nil
	default:
		return nil, s.Dir.All(), nil
	}
}

// Suggest returns businesses relevant to a free-text need.
func (s DirectoryService) Suggest(query string) ([]domain.Business, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: q is required", domain.ErrInvalidArgument)
	}
	return s.Dir.Suggest(query), nil
}

// Categories lists the known categories.
func (s DirectoryService) Categories() []string { return s.Dir.Categories() }

func trimQuery(q BusinessQuery) BusinessQuery {
	q.ID = strings.TrimSpace(q.ID)
	q.Category = strings.TrimSpace(q.Category)
	q.Term = strings.TrimSpace(q.Term)
	q.Language = strings.TrimSpace(q.Language)
	q.Service = strings.TrimSpace(q.Service)
	return q
}
