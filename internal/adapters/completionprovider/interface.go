package completionprovider

import (
	"context"

	"github.com/Amund211/chatrelay/internal/domain"
)

type CompletionProvider interface {
	Complete(ctx context.Context, request domain.CompletionRequest) (domain.Completion, error)
	// Stream calls onDelta with every piece of the answer as it arrives and returns the full answer
	Stream(ctx context.Context, request domain.CompletionRequest, onDelta func(delta string) error) (domain.Completion, error)
}
