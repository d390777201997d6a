package ports_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/ports"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
	"messages": [
		{"role": "system", "content": "You are helpful"},
		{"role": "user", "content": "What is the capital of France?"}
	],
	"temperature": 0.2
}`

var expectedRequest = domain.CompletionRequest{
	Messages: []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You are helpful"},
		{Role: domain.RoleUser, Content: "What is the capital of France?"},
	},
	Temperature: new(0.2),
}

var paris = domain.Completion{
	Content:      "Paris",
	Model:        domain.DefaultCompletionModel,
	FinishReason: "stop",
	Usage:        domain.Usage{PromptTokens: 12, CompletionTokens: 1, TotalTokens: 13},
	CreatedAt:    now,
}

func withStream(body string) string {
	return strings.Replace(body, `"temperature": 0.2`, `"temperature": 0.2, "stream": true`, 1)
}

func TestCompletionsHandler(t *testing.T) {
	t.Parallel()

	t.Run("json answer", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			complete: func(actor string, request domain.CompletionRequest) (domain.Completion, error) {
				require.Equal(t, userID, actor)
				require.Equal(t, expectedRequest, request)
				cached := paris
				cached.Cached = true
				return cached, nil
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", completionBody))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{
			"content": "Paris",
			"model": "google/gemini-2.0-flash-exp:free",
			"finishReason": "stop",
			"usage": {"promptTokens": 12, "completionTokens": 1, "totalTokens": 13},
			"cached": true,
			"createdAt": "2025-03-01T12:00:00Z"
		}`, w.Body.String())
	})

	t.Run("temperature", func(t *testing.T) {
		t.Parallel()

		cases := map[string]struct {
			body        string
			temperature *float64
		}{
			"absent": {
				body:        `{"messages": [{"role": "user", "content": "hi"}]}`,
				temperature: nil,
			},
			"zero": {
				body:        `{"messages": [{"role": "user", "content": "hi"}], "temperature": 0}`,
				temperature: new(0.0),
			},
		}

		for name, c := range cases {
			t.Run(name, func(t *testing.T) {
				t.Parallel()

				handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
					complete: func(actor string, request domain.CompletionRequest) (domain.Completion, error) {
						require.Equal(t, c.temperature, request.Temperature)
						return paris, nil
					},
				})

				w := serve(handler, newRequest(http.MethodPost, "/v1/completions", c.body))

				require.Equal(t, http.StatusOK, w.Code)
			})
		}
	})

	t.Run("invalid request", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			complete: func(actor string, request domain.CompletionRequest) (domain.Completion, error) {
				return domain.Completion{}, request.Validate()
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", `{"messages": []}`))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "no messages")
	})

	t.Run("upstream failure", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			complete: func(actor string, request domain.CompletionRequest) (domain.Completion, error) {
				return domain.Completion{}, fmt.Errorf("failed to get completion: %w", domain.ErrTemporarilyUnavailable)
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", completionBody))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStreamingCompletionsHandler(t *testing.T) {
	t.Parallel()

	t.Run("events", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			stream: func(actor string, request domain.CompletionRequest, onDelta func(string) error) (domain.Completion, error) {
				require.Equal(t, userID, actor)
				require.Equal(t, expectedRequest, request)
				require.NoError(t, onDelta("Par"))
				require.NoError(t, onDelta("is"))
				return paris, nil
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", withStream(completionBody)))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		require.True(t, w.Flushed)

		require.Equal(t, strings.Join([]string{
			`data: {"delta":"Par"}`,
			`data: {"delta":"is"}`,
			`data: {"completion":{"content":"Paris","model":"google/gemini-2.0-flash-exp:free","finishReason":"stop","usage":{"promptTokens":12,"completionTokens":1,"totalTokens":13},"cached":false,"createdAt":"2025-03-01T12:00:00Z"}}`,
			`data: [DONE]`,
			``,
		}, "\n\n"), w.Body.String())
	})

	t.Run("failure before the first event", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			stream: func(actor string, request domain.CompletionRequest, onDelta func(string) error) (domain.Completion, error) {
				return domain.Completion{}, domain.ErrTemporarilyUnavailable
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", withStream(completionBody)))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	})

	t.Run("failure mid stream", func(t *testing.T) {
		t.Parallel()

		handler := newHandler(t, ports.MakeCompletionsHandler, &mockAccessService{
			stream: func(actor string, request domain.CompletionRequest, onDelta func(string) error) (domain.Completion, error) {
				require.NoError(t, onDelta("Par"))
				return domain.Completion{}, errors.Join(domain.ErrCompletionFailed, errors.New("stream ended without end marker"))
			},
		})

		w := serve(handler, newRequest(http.MethodPost, "/v1/completions", withStream(completionBody)))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, strings.Join([]string{
			`data: {"delta":"Par"}`,
			"event: error\n" + `data: {"error":"Completion stream failed","statusCode":500}`,
			``,
		}, "\n\n"), w.Body.String())
	})
}
