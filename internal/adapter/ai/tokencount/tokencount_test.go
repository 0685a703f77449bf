package tokencount

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelletix/sudbury-directory/internal/domain"
)

func TestCountTokens(t *testing.T) {
	t.Parallel()
	counter := NewCounter()

	tests := []struct {
		name     string
		text     string
		model    string
		minCount int
		maxCount int
	}{
		{name: "short greeting", text: "Hello, world!", model: "gpt-3.5-turbo", minCount: 3, maxCount: 5},
		{name: "pangram", text: "The quick brown fox jumps over the lazy dog.", model: "gpt-3.5-turbo", minCount: 8, maxCount: 12},
		{name: "prefixed model id", text: "Hello, world!", model: "openai/gpt-4", minCount: 3, maxCount: 5},
		{name: "empty", text: "", model: "gpt-3.5-turbo", minCount: 0, maxCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.CountTokens(tt.text, tt.model)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, count, tt.minCount)
			assert.LessOrEqual(t, count, tt.maxCount)
		})
	}
}

func TestCountMessages_IncludesFraming(t *testing.T) {
	t.Parallel()
	counter := NewCounter()
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Tu es un assistant."},
		{Role: domain.RoleUser, Content: "Bonjour"},
	}
	total, err := counter.CountMessages(msgs, "gpt-3.5-turbo")
	require.NoError(t, err)

	var content int
	for _, m := range msgs {
		n, err := counter.CountTokens(m.Content, "gpt-3.5-turbo")
		require.NoError(t, err)
		content += n
	}
	assert.Greater(t, total, content+len(msgs)*tokensPerMessage)
}

func TestCountMessages_GrowsWithContent(t *testing.T) {
	t.Parallel()
	counter := NewCounter()
	short, err := counter.CountMessages([]domain.ChatMessage{{Role: domain.RoleUser, Content: "restaurant"}}, "gpt-3.5-turbo")
	require.NoError(t, err)
	long, err := counter.CountMessages([]domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("restaurant ", 200)}}, "gpt-3.5-turbo")
	require.NoError(t, err)
	assert.Greater(t, long, short)
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	msgs := []domain.ChatMessage{{Role: domain.RoleUser, Content: strings.Repeat("a", 400)}}
	n := Estimate(msgs)
	assert.GreaterOrEqual(t, n, 100)
	assert.Less(t, n, 120)
}

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "gpt-3.5-turbo", normalizeModelName("GPT-3.5-Turbo-0125"))
	assert.Equal(t, "gpt-4o", normalizeModelName("openai/gpt-4o-mini"))
	assert.Equal(t, "gpt-4", normalizeModelName("mistral-small"))
}

func TestCounter_Concurrent(t *testing.T) {
	t.Parallel()
	counter := NewCounter()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := counter.CountOrEstimate([]domain.ChatMessage{{Role: domain.RoleUser, Content: "salut"}}, "gpt-3.5-turbo")
			assert.Positive(t, n)
		}()
	}
	wg.Wait()
}
