package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

// Greeting opens every conversation.
const Greeting = "Bonjour ! Je suis votre assistant IA. Comment puis-je vous aider aujourd'hui ?"

var (
	// ErrBusy rejects a send while another one is in flight.
	ErrBusy = errors.New("a message is already being sent")
	// ErrEmptyMessage rejects blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// Sender delivers a conversation and returns the assistant reply.
type Sender interface {
	SendWithFallback(ctx context.Context, messages []domain.ChatMessage) (domain.ChatMessage, error)
}

// Session owns one append-only conversation.
type Session struct {
	sender Sender
	now    func() time.Time

	mu      sync.Mutex
	conv    []domain.Message
	status  *domain.Message
	loading bool
	err     error
}

// NewSession starts a conversation containing only the greeting.
func NewSession(sender Sender) *Session {
	s := &Session{sender: sender, now: time.Now}
	s.Reset()
	return s
}

// Send appends content as a user message, dispatches the conversation and
// appends the outcome. A failed send still appends an assistant message,
// flagged IsError, and sets the error banner.
func (s *Session) Send(ctx context.Context, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return domain.Message{}, ErrBusy
	}
	s.conv = append(s.conv, s.message(domain.RoleUser, content, false))
	s.loading = true
	s.err = nil
	wire := make([]domain.ChatMessage, 0, len(s.conv))
	for _, m := range s.conv {
		if m.IsError {
			continue
		}
		wire = append(wire, m.Wire())
	}
	s.mu.Unlock()

	reply, err := s.sender.SendWithFallback(WithStatusSink(ctx, s), wire)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.status = nil
	if err != nil {
		msg := s.message(domain.RoleAssistant, UserMessage(err), true)
		s.conv = append(s.conv, msg)
		s.err = err
		return msg, err
	}
	msg := s.message(domain.RoleAssistant, reply.Content, false)
	s.conv = append(s.conv, msg)
	return msg, nil
}

// Messages returns the conversation followed by the transient status line, if any.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.conv), len(s.conv)+1)
	copy(out, s.conv)
	if s.status != nil {
		out = append(out, *s.status)
	}
	return out
}

// Loading reports whether a send is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err is the banner error of the last send, nil after a success.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reset drops the conversation and restores the greeting.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv = []domain.Message{s.message(domain.RoleAssistant, Greeting, false)}
	s.status = nil
	s.err = nil
}

// Retrying implements StatusSink.
func (s *Session) Retrying(endpoint string, attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.message(domain.RoleAssistant,
		fmt.Sprintf("Connexion difficile, nouvelle tentative (essai %d) dans %s…", attempt, delay.Round(100*time.Millisecond)), false)
	s.status = &m
}

// Clear implements StatusSink.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = nil
}

func (s *Session) message(role domain.Role, content string, isError bool) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		IsError:   isError,
	}
}

// UserMessage turns a send failure into the text shown in the conversation.
func UserMessage(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, ErrOffline):
		return "Pas de connexion Internet. Vérifiez votre connexion et réessayez."
	case errors.As(err, &se) && se.Message != "":
		return se.Message
	case errors.As(err, &se) && se.Status == 429:
		return "Trop de requêtes. Veuillez réessayer plus tard."
	case errors.Is(err, context.Canceled):
		return "Envoi annulé."
	default:
		return "Une erreur est survenue lors de l'envoi du message. Veuillez réessayer."
	}
}
