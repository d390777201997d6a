package completionprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/chatrelay/internal/config"
	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/Amund211/chatrelay/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const userAgent = "chatrelay/1.0"

const DefaultTimeout = 60 * time.Second

// Just made one up
const (
	requestsPerSecond = 5
	requestBurst      = 20
)

const maxSSELineSize = 1024 * 1024

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type openRouterMetricsCollection struct {
	requestCount metric.Int64Counter
	tokenCount   metric.Int64Counter
}

func setupOpenRouterMetrics(meter metric.Meter) (openRouterMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("completionprovider/openrouter/request_count")
	if err != nil {
		return openRouterMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	tokenCount, err := meter.Int64Counter("completionprovider/openrouter/token_count")
	if err != nil {
		return openRouterMetricsCollection{}, fmt.Errorf("failed to create token count metric: %w", err)
	}

	return openRouterMetricsCollection{
		requestCount: requestCount,
		tokenCount:   tokenCount,
	}, nil
}

type openRouter struct {
	httpClient HttpClient
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	timeout    time.Duration
	nowFunc    func() time.Time

	metrics openRouterMetricsCollection
	tracer  trace.Tracer
}

// NewOpenRouter creates a client for an OpenAI compatible chat completion API at baseURL
func NewOpenRouter(httpClient HttpClient, baseURL string, apiKey string, timeout time.Duration, nowFunc func() time.Time) (*openRouter, error) {
	const name = "chatrelay/completionprovider/openrouter"

	meter := otel.Meter(name)
	tracer := otel.Tracer(name)

	metrics, err := setupOpenRouterMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &openRouter{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
		timeout:    timeout,
		nowFunc:    nowFunc,

		metrics: metrics,
		tracer:  tracer,
	}, nil
}

func NewOpenRouterOrMock(config config.Config, httpClient HttpClient, nowFunc func() time.Time) (CompletionProvider, error) {
	if config.CompletionAPIKey() != "" {
		return NewOpenRouter(httpClient, config.CompletionAPIURL(), config.CompletionAPIKey(), DefaultTimeout, nowFunc)
	}
	if config.IsDevelopment() {
		return NewMock(nowFunc), nil
	}
	return nil, fmt.Errorf("Missing completion API key in non-development environment")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason *string     `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newChatRequest(request domain.CompletionRequest, stream bool) chatRequest {
	request = request.WithDefaults()

	messages := make([]chatMessage, len(request.Messages))
	for i, message := range request.Messages {
		messages[i] = chatMessage{Role: string(message.Role), Content: message.Content}
	}

	return chatRequest{
		Model:       request.Model,
		Messages:    messages,
		Temperature: request.TemperatureOrDefault(),
		MaxTokens:   request.MaxTokens,
		TopP:        request.TopP,
		Stream:      stream,
	}
}

func (o *openRouter) Complete(ctx context.Context, request domain.CompletionRequest) (domain.Completion, error) {
	ctx, span := o.tracer.Start(ctx, "OpenRouter.Complete")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.send(ctx, newChatRequest(request, false))
	if err != nil {
		return domain.Completion{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err := fmt.Errorf("failed to read response body: %w", err)
		reporting.Report(ctx, err)
		return domain.Completion{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		err := fmt.Errorf("%w: failed to parse response: %w", domain.ErrCompletionFailed, err)
		reporting.Report(ctx, err, map[string]string{
			"data": string(data),
		})
		return domain.Completion{}, err
	}
	if parsed.Error != nil {
		err := fmt.Errorf("%w: %s", domain.ErrCompletionFailed, parsed.Error.Message)
		reporting.Report(ctx, err)
		return domain.Completion{}, err
	}
	if len(parsed.Choices) == 0 {
		err := fmt.Errorf("%w: response has no choices", domain.ErrCompletionFailed)
		reporting.Report(ctx, err, map[string]string{
			"data": string(data),
		})
		return domain.Completion{}, err
	}

	completion := domain.Completion{
		Content:   parsed.Choices[0].Message.Content,
		Model:     parsed.Model,
		CreatedAt: o.nowFunc(),
	}
	if parsed.Choices[0].FinishReason != nil {
		completion.FinishReason = *parsed.Choices[0].FinishReason
	}
	if parsed.Usage != nil {
		completion.Usage = toDomainUsage(*parsed.Usage)
	}

	o.recordTokens(ctx, completion)

	return completion, nil
}

func (o *openRouter) Stream(ctx context.Context, request domain.CompletionRequest, onDelta func(delta string) error) (domain.Completion, error) {
	ctx, span := o.tracer.Start(ctx, "OpenRouter.Stream")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.send(ctx, newChatRequest(request, true))
	if err != nil {
		return domain.Completion{}, err
	}
	defer resp.Body.Close()

	completion := domain.Completion{
		CreatedAt: o.nowFunc(),
	}
	content := strings.Builder{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	done := false
	for !done && scanner.Scan() {
		line := scanner.Text()

		// Blank separators, comments and other fields carry no content
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			done = true
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			err := fmt.Errorf("%w: failed to parse stream chunk: %w", domain.ErrCompletionFailed, err)
			reporting.Report(ctx, err, map[string]string{
				"chunk": payload,
			})
			return domain.Completion{}, err
		}
		if chunk.Error != nil {
			err := fmt.Errorf("%w: %s", domain.ErrCompletionFailed, chunk.Error.Message)
			reporting.Report(ctx, err)
			return domain.Completion{}, err
		}

		if chunk.Model != "" {
			completion.Model = chunk.Model
		}
		if chunk.Usage != nil {
			completion.Usage = toDomainUsage(*chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if chunk.Choices[0].FinishReason != nil {
			completion.FinishReason = *chunk.Choices[0].FinishReason
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		content.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return domain.Completion{}, fmt.Errorf("failed to forward delta: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		err := fmt.Errorf("failed to read stream: %w", err)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
		}
		reporting.Report(ctx, err)
		return domain.Completion{}, err
	}
	if !done {
		err := fmt.Errorf("%w: stream ended without end marker", domain.ErrCompletionFailed)
		reporting.Report(ctx, err)
		return domain.Completion{}, err
	}

	completion.Content = content.String()
	o.recordTokens(ctx, completion)

	return completion, nil
}

// send returns a response with status 200, or an error
func (o *openRouter) send(ctx context.Context, body chatRequest) (*http.Response, error) {
	logger := logging.FromContext(ctx)

	if err := o.limiter.Wait(ctx); err != nil {
		logger.WarnContext(ctx, "Did not call completion API due to rate limiting", "error", err.Error())
		return nil, fmt.Errorf("%w: too many requests to completion API: %w", domain.ErrTemporarilyUnavailable, err)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		err := fmt.Errorf("failed to encode request: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		err := fmt.Errorf("failed to create request: %w", err)
		reporting.Report(ctx, err)
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("X-Title", "chatrelay")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := o.nowFunc()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		o.recordRequest(ctx, body, "error")
		err := fmt.Errorf("failed to send request: %w", err)
		if errors.Is(err, context.DeadlineExceeded) {
			// Reported as unavailable so the caller can retry
			return nil, fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
		}
		reporting.Report(ctx, err)
		return nil, err
	}

	o.recordRequest(ctx, body, strconv.Itoa(resp.StatusCode))
	logger.InfoContext(
		ctx, "Completion request sent",
		"status", resp.StatusCode,
		"model", body.Model,
		"stream", body.Stream,
		"duration", o.nowFunc().Sub(start).String(),
	)

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}

	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		// Don't report, the provider is overloaded
		return nil, fmt.Errorf("%w: completion API returned status code %d", domain.ErrTemporarilyUnavailable, resp.StatusCode)
	}

	err = fmt.Errorf("%w: completion API returned status code %d", domain.ErrCompletionFailed, resp.StatusCode)
	reporting.Report(ctx, err, map[string]string{
		"data":   string(data),
		"status": strconv.Itoa(resp.StatusCode),
	})
	return nil, err
}

func (o *openRouter) recordRequest(ctx context.Context, body chatRequest, status string) {
	o.metrics.requestCount.Add(
		ctx,
		1,
		metric.WithAttributes(
			attribute.String("status_code", status),
			attribute.String("model", body.Model),
			attribute.Bool("stream", body.Stream),
		),
	)
}

func (o *openRouter) recordTokens(ctx context.Context, completion domain.Completion) {
	o.metrics.tokenCount.Add(
		ctx,
		int64(completion.Usage.PromptTokens),
		metric.WithAttributes(attribute.String("model", completion.Model), attribute.String("kind", "prompt")),
	)
	o.metrics.tokenCount.Add(
		ctx,
		int64(completion.Usage.CompletionTokens),
		metric.WithAttributes(attribute.String("model", completion.Model), attribute.String("kind", "completion")),
	)
}

func toDomainUsage(usage chatUsage) domain.Usage {
	return domain.Usage{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
}
