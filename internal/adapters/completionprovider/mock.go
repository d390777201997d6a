package completionprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Amund211/chatrelay/internal/domain"
)

type mockedCompletionProvider struct {
	nowFunc func() time.Time
}

// NewMock answers every request locally, for development without an API key
func NewMock(nowFunc func() time.Time) CompletionProvider {
	return &mockedCompletionProvider{nowFunc: nowFunc}
}

func (m *mockedCompletionProvider) answer(request domain.CompletionRequest) domain.Completion {
	request = request.WithDefaults()
	return domain.Completion{
		Content:      fmt.Sprintf("This is a mocked answer to: %s", request.LastUserQuery()),
		Model:        request.Model,
		FinishReason: "stop",
		CreatedAt:    m.nowFunc(),
	}
}

func (m *mockedCompletionProvider) Complete(ctx context.Context, request domain.CompletionRequest) (domain.Completion, error) {
	return m.answer(request), nil
}

func (m *mockedCompletionProvider) Stream(ctx context.Context, request domain.CompletionRequest, onDelta func(delta string) error) (domain.Completion, error) {
	completion := m.answer(request)
	for _, word := range strings.SplitAfter(completion.Content, " ") {
		if err := onDelta(word); err != nil {
			return domain.Completion{}, fmt.Errorf("failed to forward delta: %w", err)
		}
	}
	return completion, nil
}
