// Package tokencount counts prompt tokens with tiktoken so oversized
// conversations can be rejected before they reach the upstream API.
//
// The BPE ranks are embedded through tiktoken-go-loader; counting never
// touches the network.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Chat framing overhead for gpt-3.5/gpt-4 style models.
const (
	tokensPerMessage = 3
	tokensReplyPrime = 3
)

// Counter provides thread-safe token counting.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is shared by the server.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[name]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[name] = enc
	return enc, nil
}

// normalizeModelName maps provider-prefixed ids onto names tiktoken knows.
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.HasPrefix(model, "gpt-4o"):
		return "gpt-4o"
	default:
		return "gpt-4"
	}
}

// CountTokens counts the tokens of a single text.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages counts the prompt tokens of a chat request including the
// per-message framing and the assistant reply primer.
func (c *Counter) CountMessages(msgs []domain.ChatMessage, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	n := tokensReplyPrime
	for _, m := range msgs {
		n += tokensPerMessage
		n += len(enc.Encode(string(m.Role), nil, nil))
		n += len(enc.Encode(m.Content, nil, nil))
	}
	return n, nil
}

// Estimate is the rough count used when no encoding is available: ~4 chars per token.
func Estimate(msgs []domain.ChatMessage) int {
	n := tokensReplyPrime
	for _, m := range msgs {
		n += tokensPerMessage + (len(m.Role)+len(m.Content)+3)/4
	}
	return n
}

// CountOrEstimate never fails; it falls back to Estimate and logs why.
func (c *Counter) CountOrEstimate(msgs []domain.ChatMessage, model string) int {
	n, err := c.CountMessages(msgs, model)
	if err != nil {
		slog.Warn("token count failed, using estimate", slog.String("model", model), slog.Any("error", err))
		return Estimate(msgs)
	}
	return n
}
