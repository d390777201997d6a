package domain

import (
	"fmt"
	"time"
)

const (
	DefaultCompletionModel       = "google/gemini-2.0-flash-exp:free"
	DefaultCompletionTemperature = 0.6
	DefaultCompletionMaxTokens   = 8192
	DefaultCompletionTopP        = 0.95
)

type ChatMessage struct {
	Role    Role
	Content string
}

type CompletionRequest struct {
	Messages    []ChatMessage
	Model string
	// nil means the default. 0 is a valid temperature that asks for greedy sampling.
	Temperature *float64
	MaxTokens   int
	TopP        float64
}

// WithDefaults fills every unset sampling parameter with its default
func (r CompletionRequest) WithDefaults() CompletionRequest {
	if r.Model == "" {
		r.Model = DefaultCompletionModel
	}
	if r.Temperature == nil {
		r.Temperature = new(float64(DefaultCompletionTemperature))
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultCompletionMaxTokens
	}
	if r.TopP == 0 {
		r.TopP = DefaultCompletionTopP
	}
	return r
}

func (r CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidInput)
	}
	for i, message := range r.Messages {
		if !message.Role.Valid() {
			return fmt.Errorf("%w: message %d has unknown role '%s'", ErrInvalidInput, i, message.Role)
		}
	}
	if temperature := r.TemperatureOrDefault(); temperature < 0 || temperature > 2 {
		return fmt.Errorf("%w: temperature %v out of range", ErrInvalidInput, temperature)
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("%w: negative max tokens", ErrInvalidInput)
	}
	return nil
}

func (r CompletionRequest) TemperatureOrDefault() float64 {
	if r.Temperature == nil {
		return DefaultCompletionTemperature
	}
	return *r.Temperature
}

// LastUserQuery returns the content of the last message sent by the user
func (r CompletionRequest) LastUserQuery() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
	CreatedAt    time.Time
	// Set when the answer was served without calling the completion API
	Cached bool
}
