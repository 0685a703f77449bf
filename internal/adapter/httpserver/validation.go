package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

const maxQueryChars = 200

var (
	businessIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)
	searchQueryPattern = regexp.MustCompile(`^[\p{L}\p{N}\s'’.,&_-]+$`)
)

// ValidateBusinessID checks the id query parameter.
func ValidateBusinessID(id string) error {
	if !businessIDPattern.MatchString(id) {
		return fmt.Errorf("%w: id must be 1-100 letters, digits, '-' or '_'", domain.ErrInvalidArgument)
	}
	return nil
}

// ValidateSearchQuery checks a free-text filter. Empty is allowed.
func ValidateSearchQuery(field, query string) error {
	if query == "" {
		return nil
	}
	if utf8.RuneCountInString(query) > maxQueryChars {
		return fmt.Errorf("%w: %s is too long (max %d characters)", domain.ErrInvalidArgument, field, maxQueryChars)
	}
	if !searchQueryPattern.MatchString(query) {
		return fmt.Errorf("%w: %s contains invalid characters", domain.ErrInvalidArgument, field)
	}
	return nil
}

// SanitizeString drops NUL bytes and invalid UTF-8 and trims whitespace.
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return strings.TrimSpace(input)
}

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

// decodeChatRequest reads {messages:[...]} from the body. A missing,
// null or non-array messages field is an invalid argument.
func decodeChatRequest(r io.Reader) ([]domain.ChatMessage, error) {
	var req chatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidArgument)
	}
	raw := bytes.TrimSpace(req.Messages)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: messages array is required", domain.ErrInvalidArgument)
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("%w: messages must be objects with string role and content", domain.ErrInvalidArgument)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// SourceAddress identifies the caller for rate limiting. X-Forwarded-For is
// honoured only when trustForwarded is set.
func SourceAddress(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
