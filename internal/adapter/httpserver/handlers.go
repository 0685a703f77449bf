package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/intelletix/sudbury-directory/internal/adapter/directory"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
	"github.com/intelletix/sudbury-directory/internal/usecase"
)

// ChatService is the part of the gatekeeper the handlers need.
type ChatService interface {
	Chat(ctx context.Context, sourceID string, messages []domain.ChatMessage) (domain.ChatMessage, error)
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Chat       ChatService
	Directory  usecase.DirectoryService
	StoreCheck func(ctx context.Context) error
	now        func() time.Time
}

// NewServer constructs a Server. storeCheck may be nil for the in-memory store.
func NewServer(cfg config.Config, chat ChatService, dir usecase.DirectoryService, storeCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Chat: chat, Directory: dir, StoreCheck: storeCheck, now: time.Now}
}

type chatResponse struct {
	Message domain.ChatMessage `json:"message"`
}

// ChatHandler serves POST {messages:[...]} and answers {message:{role,content}}.
func (s *Server) ChatHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cfg.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxBodyBytes)
		}
		msgs, err := decodeChatRequest(r.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		reply, err := s.Chat.Chat(r.Context(), SourceAddress(r, s.Cfg.TrustForwardedFor), msgs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Message: reply})
	}
}

type healthResponse struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Environment string            `json:"environment"`
	Version     string            `json:"version"`
	Provider    string            `json:"provider"`
	Services    map[string]string `json:"services"`
}

// HealthHandler always answers 200; status is "degraded" when the API key is
// missing or the shared store does not answer.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:      "healthy",
			Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
			Environment: s.Cfg.Environment(),
			Version:     s.Cfg.Version,
			Provider:    s.provider(),
			Services:    map[string]string{},
		}
		switch {
		case resp.Provider == "static", s.Cfg.OpenAIConfigured():
			resp.Services["openai"] = "configured"
		default:
			resp.Services["openai"] = "missing"
			resp.Status = "degraded"
		}
		resp.Services["store"] = s.Cfg.StoreBackend
		if s.StoreCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.StoreCheck(ctx); err != nil {
				resp.Services["store"] = "unavailable"
				resp.Status = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) provider() string {
	if s.Cfg.CompletionProvider == "static" {
		return "static"
	}
	return "openai"
}

// ReadyzHandler answers 503 while the shared store is unreachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		checks := []check{}
		if s.StoreCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.StoreCheck(ctx); err != nil {
				checks = append(checks, check{Name: "store", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "store", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// BusinessesHandler serves GET /api/businesses with id, category, term,
// language and service filters. format=html adds rendered business cards.
func (s *Server) BusinessesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		q := usecase.BusinessQuery{
			ID:       SanitizeString(qs.Get("id")),
			Category: SanitizeString(qs.Get("category")),
			Term:     SanitizeString(qs.Get("term")),
			Language: SanitizeString(qs.Get("language")),
			Service:  SanitizeString(qs.Get("service")),
		}
		if q.ID != "" {
			if err := ValidateBusinessID(q.ID); err != nil {
				writeError(w, r, err)
				return
			}
		}
		for field, v := range map[string]string{"category": q.Category, "term": q.Term, "language": q.Language, "service": q.Service} {
			if err := ValidateSearchQuery(field, v); err != nil {
				writeError(w, r, err)
				return
			}
		}
		asHTML := strings.EqualFold(qs.Get("format"), "html")
		one, list, err := s.Directory.Find(q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if one != nil {
			body := map[string]any{"business": one}
			if asHTML {
				body["html"] = directory.FormatHTML(*one)
			}
			writeJSON(w, http.StatusOK, body)
			return
		}
		body := map[string]any{"businesses": list}
		if asHTML {
			cards := make([]string, 0, len(list))
			for _, b := range list {
				cards = append(cards, directory.FormatHTML(b))
			}
			body["html"] = strings.Join(cards, "<hr>\n")
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// CategoriesHandler lists directory categories.
func (s *Server) CategoriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": s.Directory.Categories()})
	}
}

// SuggestHandler serves GET /api/businesses/suggest?q=.
func (s *Server) SuggestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := SanitizeString(r.URL.Query().Get("q"))
		if err := ValidateSearchQuery("q", q); err != nil {
			writeError(w, r, err)
			return
		}
		list, err := s.Directory.Suggest(q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"businesses": list})
	}
}
