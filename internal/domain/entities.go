package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamRateLimit   = errors.New("upstream rate limit")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamEmpty       = errors.New("upstream returned no message")
	ErrUpstreamFailure     = errors.New("upstream failure")
	ErrInternal            = errors.New("internal error")
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is the wire form exchanged over HTTP and with the completion API.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is an entry of a conversation owned by a client session.
// Messages are immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"isError,omitempty"`
}

// Wire drops the client-side metadata.
func (m Message) Wire() ChatMessage {
	return ChatMessage{Role: m.Role, Content: m.Content}
}

// RateLimitEntry tracks requests observed for one source address in the current window.
// Invariant: Count never exceeds the configured maximum.
type RateLimitEntry struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
}

// CacheEntry is a cached upstream reply. Valid for reads only while now < Expiry.
type CacheEntry struct {
	Data   ChatMessage `json:"data"`
	Expiry time.Time   `json:"expiry"`
}

// Valid reports whether the entry may be served at now.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Before(e.Expiry)
}

// Business is a record of the static directory dataset.
type Business struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Address     string   `json:"address"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	Website     string   `json:"website"`
	Hours       string   `json:"hours"`
	Description string   `json:"description"`
	Services    []string `json:"services"`
	Languages   []string `json:"languages"`
}

// Dataset is the document shape of the directory file.
type Dataset struct {
	Businesses []Business `json:"businesses"`
	Categories []string   `json:"categories"`
}

// SearchCriteria combines optional filters; empty fields are ignored.
type SearchCriteria struct {
	Term     string `json:"term,omitempty"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
	Service  string `json:"service,omitempty"`
}

// Count returns how many criteria are set.
func (c SearchCriteria) Count() int {
	n := 0
	for _, v := range []string{c.Term, c.Category, c.Language, c.Service} {
		if v != "" {
			n++
		}
	}
	return n
}

// CompletionOptions tunes a single upstream call.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Ports

// CompletionClient calls the upstream language-model API.
// Implementations must honour ctx cancellation and map failures onto the
// upstream sentinels above.
//
//go:generate mockery --name=CompletionClient --with-expecter --filename=completion_client_mock.go
type CompletionClient interface {
	Complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (ChatMessage, error)
}

// KVStore is the shared state used by the rate limiter and the response cache.
// CompareAndSwap with old == nil succeeds only when the key is absent.
// A zero ttl means the record never expires.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)
}

// Directory answers queries over the business dataset.
type Directory interface {
	All() []Business
	Categories() []string
	ByID(id string) (Business, bool)
	ByCategory(category string) []Business
	Search(term string) []Business
	Advanced(c SearchCriteria) []Business
	Suggest(query string) []Business
}
