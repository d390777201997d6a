package ports

import (
	"time"

	"github.com/Amund211/chatrelay/internal/app"
	"github.com/Amund211/chatrelay/internal/domain"
)

type sessionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func sessionToResponse(session domain.Session) sessionResponse {
	return sessionResponse{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}

func sessionsToResponse(sessions []domain.Session) []sessionResponse {
	converted := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		converted = append(converted, sessionToResponse(session))
	}
	return converted
}

type messageData struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ParentID    string    `json:"parentId,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

func messagesToResponse(messages []domain.Message) []messageData {
	converted := make([]messageData, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, messageData{
			ID:          message.ID,
			Role:        string(message.Role),
			Content:     message.Content,
			ParentID:    message.ParentID,
			ContentType: message.ContentType,
			CreatedAt:   message.CreatedAt,
		})
	}
	return converted
}

func messagesFromRequest(messages []messageData) []domain.Message {
	converted := make([]domain.Message, 0, len(messages))
	for _, message := range messages {
		converted = append(converted, domain.Message{
			ID:          message.ID,
			Role:        domain.Role(message.Role),
			Content:     message.Content,
			ParentID:    message.ParentID,
			ContentType: message.ContentType,
			CreatedAt:   message.CreatedAt,
		})
	}
	return converted
}

type completionRequestData struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Model string `json:"model"`
	// Absent means the default temperature, 0 means greedy sampling
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"maxTokens"`
	TopP        float64  `json:"topP"`
	Stream      bool     `json:"stream"`
}

func (data completionRequestData) toDomain() domain.CompletionRequest {
	messages := make([]domain.ChatMessage, 0, len(data.Messages))
	for _, message := range data.Messages {
		messages = append(messages, domain.ChatMessage{
			Role:    domain.Role(message.Role),
			Content: message.Content,
		})
	}
	return domain.CompletionRequest{
		Messages:    messages,
		Model:       data.Model,
		Temperature: data.Temperature,
		MaxTokens:   data.MaxTokens,
		TopP:        data.TopP,
	}
}

type usageResponse struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type completionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finishReason"`
	Usage        usageResponse `json:"usage"`
	Cached       bool          `json:"cached"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func completionToResponse(completion domain.Completion) completionResponse {
	return completionResponse{
		Content:      completion.Content,
		Model:        completion.Model,
		FinishReason: completion.FinishReason,
		Usage: usageResponse{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Cached:    completion.Cached,
		CreatedAt: completion.CreatedAt,
	}
}

type storeStatsResponse struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

type statsResponse struct {
	Completions struct {
		Hits          int64   `json:"hits"`
		Misses        int64   `json:"misses"`
		APICallsSaved int64   `json:"apiCallsSaved"`
		HitRate       float64 `json:"hitRate"`
	} `json:"completions"`
	Stores          map[string]storeStatsResponse `json:"stores"`
	SemanticEntries int                           `json:"semanticEntries"`
	Actors          int                           `json:"actors"`
	InFlight        int                           `json:"inFlight"`
	PendingWrites   int                           `json:"pendingWrites"`
	PendingTouches  int                           `json:"pendingTouches"`
}

func statsToResponse(stats app.Stats) statsResponse {
	response := statsResponse{
		Stores:          make(map[string]storeStatsResponse, len(stats.Stores)),
		SemanticEntries: stats.SemanticEntries,
		Actors:          stats.Actors,
		InFlight:        stats.InFlight,
		PendingWrites:   stats.PendingWrites,
		PendingTouches:  stats.PendingTouches,
	}
	response.Completions.Hits = stats.Completions.Hits
	response.Completions.Misses = stats.Completions.Misses
	response.Completions.APICallsSaved = stats.Completions.APICallsSaved
	response.Completions.HitRate = stats.Completions.HitRate

	for name, store := range stats.Stores {
		response.Stores[name] = storeStatsResponse{
			Size:      store.Size,
			Hits:      store.Hits,
			Misses:    store.Misses,
			Evictions: store.Evictions,
		}
	}
	return response
}
