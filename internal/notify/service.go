package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docket/internal/config"
	"docket/internal/events"
	"docket/internal/textutil"
)

const userAgent = "Docket/0.1.0"

// Service posts human-readable notifications for pipeline milestones.
// Implementations must tolerate unmapped topics by doing nothing.
type Service interface {
	Publish(ctx context.Context, topic events.Topic, payload events.Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, topic events.Topic, payload events.Payload) error {
	msg, ok := format(topic, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

// format maps a bus event to a notification. Topics without a mapping are
// suppressed.
func format(topic events.Topic, payload events.Payload) (message, bool) {
	switch topic {
	case events.TopicPipelineCompleted:
		body := fmt.Sprintf("✅ Pipeline %s completed", str(payload, events.KeyPipeline, "run"))
		if duration := str(payload, events.KeyDuration, ""); duration != "" {
			body = fmt.Sprintf("%s in %s", body, duration)
		}
		return message{
			title: "Docket - Pipeline Complete",
			body:  body,
			tags:  []string{"docket", "pipeline", "completed"},
		}, true
	case events.TopicPipelineFailed:
		return message{
			title:    "Docket - Pipeline Failed",
			body:     fmt.Sprintf("❌ %s", str(payload, events.KeyError, "pipeline failed")),
			tags:     []string{"docket", "pipeline", "failed"},
			priority: "high",
		}, true
	case events.TopicStageFailed:
		stage := str(payload, events.KeyStage, "stage")
		body := fmt.Sprintf("Stage %s failed", stage)
		if proc := str(payload, events.KeyProcessor, ""); proc != "" && proc != stage {
			body = fmt.Sprintf("Stage %s (%s) failed", stage, proc)
		}
		if errText := str(payload, events.KeyError, ""); errText != "" {
			body = fmt.Sprintf("%s: %s", body, errText)
		}
		return message{
			title:    "Docket - Stage Failed",
			body:     body,
			tags:     []string{"docket", "stage", "failed"},
			priority: "high",
		}, true
	case events.TopicAlertRaised:
		kind := str(payload, events.KeyAlertKind, "alert")
		body := str(payload, events.KeyMessage, "")
		if body == "" {
			body = fmt.Sprintf("alert raised: %s", kind)
		}
		return message{
			title:    "Docket - Alert",
			body:     fmt.Sprintf("⚠️ %s: %s", kind, body),
			tags:     []string{"docket", "alert", textutil.SanitizeToken(kind)},
			priority: "high",
		}, true
	default:
		return message{}, false
	}
}

func str(payload events.Payload, key, fallback string) string {
	if payload == nil {
		return fallback
	}
	if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, events.Topic, events.Payload) error { return nil }
