package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/gollm"
	gollmllm "github.com/teilomillet/gollm/llm"

	"github.com/manthysbr/aule-agent/internal/core/domain"
)

// stubLLM answers Generate with the model it was built for. Every other
// gollm.LLM method is left nil.
type stubLLM struct {
	gollm.LLM
	model string
}

func (s *stubLLM) Generate(context.Context, *gollm.Prompt, ...gollmllm.GenerateOption) (string, error) {
	return "answered by " + s.model, nil
}

func TestGollmClient_OneInstancePerModel(t *testing.T) {
	var builds atomic.Int32
	c := newGollmClient("openai", "gpt-4o-mini", func(model string) (gollm.LLM, error) {
		builds.Add(1)
		return &stubLLM{model: model}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := "gpt-4o-mini"
			if i%2 == 1 {
				model = "gpt-4o"
			}
			resp, err := c.Chat(context.Background(), domain.ChatRequest{Model: model})
			assert.NoError(t, err)
			assert.Equal(t, []string{"answered by " + model}, resp.Text)
			assert.Equal(t, model, resp.Model)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(2), builds.Load())

	resp, err := c.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"answered by gpt-4o-mini"}, resp.Text)
	assert.Equal(t, int32(2), builds.Load())
}

func TestExtractToolCalls(t *testing.T) {
	text := "Let me look.\n{\"tool_calls\": [{\"name\": \"read_file\", \"arguments\": {\"path\": \"main.go\"}}, {\"name\": \"list_files\"}]}\nThanks."
	rest, calls := extractToolCalls(text)

	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "main.go", calls[0].Arguments["path"])
	assert.NotNil(t, calls[1].Arguments)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
	assert.Equal(t, "Let me look.\n\nThanks.", rest)
}

func TestExtractToolCalls_PlainText(t *testing.T) {
	rest, calls := extractToolCalls("  The answer is 42.  ")
	assert.Empty(t, calls)
	assert.Equal(t, "The answer is 42.", rest)

	rest, calls = extractToolCalls(`{"tool_calls": [ broken`)
	assert.Empty(t, calls)
	assert.Equal(t, `{"tool_calls": [ broken`, rest)
}
