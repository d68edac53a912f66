package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/planloop/internal/agent"
	"github.com/rahul/planloop/internal/llm"
	"github.com/rahul/planloop/internal/store"
	"github.com/rahul/planloop/internal/tools"
	"go.uber.org/zap"
)

const historyLimit = 20

// ChatHistory is the per-chat conversation the code agent plans against.
type ChatHistory interface {
	AddMessage(ctx context.Context, chatID string, role string, content string) error
	GetHistory(ctx context.Context, chatID string, limit int) ([]llm.Message, error)
	ClearHistory(ctx context.Context, chatID string) error
}

var _ ChatHistory = (*store.HistoryStore)(nil)

// Chat answers chat messages with code agent runs over each chat's recent
// history, and records every run.
type Chat struct {
	Agent   CodeAgent
	History ChatHistory
	Runs    RunRecorder
	// Catalog supplies the capability catalog for each run; nil leaves the
	// agent's default.
	Catalog func(extra ...tools.Descriptor) []tools.Descriptor
	logger  *zap.Logger
}

var _ agent.Brain = (*Chat)(nil)

func NewChat(codeAgent CodeAgent, history ChatHistory, runs RunRecorder, catalog func(extra ...tools.Descriptor) []tools.Descriptor, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chat{Agent: codeAgent, History: history, Runs: runs, Catalog: catalog, logger: logger.Named("chat")}
}

// Think returns the reply to input. "/reset" clears the chat's history.
func (c *Chat) Think(ctx context.Context, chatID string, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "/reset" {
		if c.History != nil {
			if err := c.History.ClearHistory(ctx, chatID); err != nil {
				return "", fmt.Errorf("clear history: %w", err)
			}
		}
		return "Conversation cleared.", nil
	}
	if input == "" {
		return "Send me a request in plain text.", nil
	}

	history := []llm.Message{llm.User(input)}
	if c.History != nil {
		if err := c.History.AddMessage(ctx, chatID, llm.RoleUser, input); err != nil {
			c.logger.Warn("message not stored", zap.Error(err))
		}
		if past, err := c.History.GetHistory(ctx, chatID, historyLimit); err != nil {
			c.logger.Warn("history unavailable", zap.Error(err))
		} else if len(past) > 0 {
			history = past
		}
	}

	req := agent.Request{History: history}
	if c.Catalog != nil {
		req.Catalog = c.Catalog()
	}
	res, err := c.Agent.Run(ctx, req)
	if c.Runs != nil {
		if rec := RecordOf(res, err); rec != nil {
			if serr := c.Runs.Save(ctx, *rec); serr != nil {
				c.logger.Warn("run not recorded", zap.Error(serr))
			}
		}
	}
	if err != nil {
		return "", err
	}

	answer := res.FinalAnswer
	if answer == "" {
		answer = fmt.Sprintf("I stopped without an answer (%s).", res.Decision)
	}
	if c.History != nil {
		if err := c.History.AddMessage(ctx, chatID, llm.RoleAssistant, answer); err != nil {
			c.logger.Warn("reply not stored", zap.Error(err))
		}
	}
	c.logger.Debug("answered", zap.String("chat_id", chatID), zap.String("run_id", res.RunID))
	return answer, nil
}
