// Package ai provides the client for the hosted conversational assistant.
// The backend is treated as a single high-latency remote call: a thread is
// the backend's opaque handle for a conversation's accumulated context.
package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Config holds the assistant backend configuration.
type Config struct {
	BaseURL      string
	APIKey       string
	AssistantID  string
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api.openai.com/v1",
		PollInterval: time.Second,
		RunTimeout:   90 * time.Second,
	}
}

// Assistant is the AI backend contract. An empty reply from RunAndAwaitReply
// is a valid non-error outcome; callers map it to a fallback message.
type Assistant interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, text string) error
	RunAndAwaitReply(ctx context.Context, threadID string) (string, error)
}

// OpenAIAssistant implements Assistant over the OpenAI Assistants API.
type OpenAIAssistant struct {
	client *openai.Client
	config *Config
}

// NewOpenAIAssistant creates a new assistant client.
func NewOpenAIAssistant(cfg *Config) (*OpenAIAssistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("assistant API key is required")
	}
	if cfg.AssistantID == "" {
		return nil, errors.New("assistant ID is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 90 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIAssistant{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// CreateThread mints a new conversation context handle.
func (a *OpenAIAssistant) CreateThread(ctx context.Context) (string, error) {
	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", errors.Wrap(err, "failed to create thread")
	}
	return thread.ID, nil
}

// AddMessage appends a user message to the thread.
func (a *OpenAIAssistant) AddMessage(ctx context.Context, threadID, text string) error {
	_, err := a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to add message to thread %s", threadID)
	}
	return nil
}

// RunAndAwaitReply starts a run on the thread and polls until it reaches a
// terminal state, then returns the newest assistant message. An empty string
// means the run produced no assistant reply.
func (a *OpenAIAssistant) RunAndAwaitReply(ctx context.Context, threadID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.RunTimeout)
	defer cancel()

	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: a.config.AssistantID,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to start run on thread %s", threadID)
	}

	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		switch run.Status {
		case openai.RunStatusCompleted:
			return a.latestAssistantReply(ctx, threadID, run.ID)
		case openai.RunStatusFailed, openai.RunStatusExpired, openai.RunStatusCancelled:
			return "", errors.Errorf("run %s on thread %s ended with status %s", run.ID, threadID, run.Status)
		case openai.RunStatusRequiresAction:
			// Tool calls are not configured for the relay assistant.
			return "", errors.Errorf("run %s on thread %s requires action, which is not supported", run.ID, threadID)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", errors.Wrapf(ctx.Err(), "awaiting run %s on thread %s", run.ID, threadID)
		}

		run, err = a.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return "", errors.Wrapf(err, "failed to poll run %s on thread %s", run.ID, threadID)
		}
	}
}

func (a *OpenAIAssistant) latestAssistantReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := a.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list messages on thread %s", threadID)
	}

	for _, message := range list.Messages {
		if message.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, content := range message.Content {
			if content.Text != nil && content.Text.Value != "" {
				return content.Text.Value, nil
			}
		}
	}

	// A completed run with no assistant text is a valid outcome.
	slog.Debug("run completed without assistant reply", "thread_id", threadID, "run_id", runID)
	return "", nil
}
