package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Amund211/chatrelay/internal/domain"
)

func sessionsKey(userID string) string {
	return fmt.Sprintf("sessions:%s", userID)
}

func messagesKey(userID string, sessionID string) string {
	return fmt.Sprintf("messages:%s:%s", userID, sessionID)
}

func activeSessionKey(userID string) string {
	return fmt.Sprintf("active-session:%s", userID)
}

func touchBatchKey(userID string) string {
	return fmt.Sprintf("touch:%s", userID)
}

type completionKeyMaterial struct {
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	Model       string               `json:"model"`
}

// completionKey identifies a request by its messages, temperature and model.
// Expects a request with defaults applied.
func completionKey(request domain.CompletionRequest) string {
	// Marshalling plain strings and numbers can't fail
	data, _ := json.Marshal(completionKeyMaterial{
		Messages:    request.Messages,
		Temperature: request.TemperatureOrDefault(),
		Model:       request.Model,
	})
	sum := sha256.Sum256(data)
	return "completion:" + hex.EncodeToString(sum[:])
}
