package tools

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rahul/planloop/pkg/config"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTool sends a plain-text message through the configured SMTP relay.
type EmailTool struct {
	cfg  config.EmailConfig
	send SendFunc
}

func NewEmailTool(cfg config.EmailConfig) *EmailTool {
	return &EmailTool{cfg: cfg, send: smtp.SendMail}
}

// NewEmailToolWith uses send instead of smtp.SendMail.
func NewEmailToolWith(cfg config.EmailConfig, send SendFunc) *EmailTool {
	return &EmailTool{cfg: cfg, send: send}
}

func (e *EmailTool) Name() string {
	return "send_email"
}

func (e *EmailTool) Description() string {
	return "Send a plain-text email. The body defaults to the output of the step named in input_ref."
}

func (e *EmailTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Recipient addresses",
			},
			"subject": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
		"required": []string{"to", "subject"},
	}
}

func (e *EmailTool) Execute(ctx context.Context, call Call) (any, error) {
	if e.cfg.Host == "" {
		return nil, errors.New("email is not configured (email.host)")
	}
	to := call.Strings("to")
	if len(to) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return nil, fmt.Errorf("invalid recipient %q", addr)
		}
	}
	subject, _ := call.Args["subject"].(string)
	body, _ := call.Args["body"].(string)
	if body == "" {
		body = call.InputText()
	}

	from := e.cfg.From
	if from == "" {
		from = e.cfg.Username
	}
	msg := buildMessage(from, to, subject, body)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, from, to, msg); err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	return fmt.Sprintf("email sent to %s", strings.Join(to, ", ")), nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
