package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
)

const pluginName = "notification_webhook"

// WebhookPlugin mirrors notification events to an HTTP endpoint as JSON.
type WebhookPlugin struct {
	logger  *slog.Logger
	url     string
	secret  core.Secret
	client  *http.Client
	enabled bool
}

type webhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type webhookPayload struct {
	EventType core.EventTypeName     `json:"event_type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details"`
}

func (p *WebhookPlugin) Name() string {
	return pluginName
}

func (p *WebhookPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	section := core.ConfigSection(registry, pluginName)
	_, subscribeProvided := section["subscribe"]

	var wcfg webhookConfig
	if err := core.DecodeConfigSection(withoutSubscribe(section), &wcfg); err != nil {
		p.logger.Warn("Invalid notification_webhook config", "error", err)
	}
	p.url = strings.TrimSpace(wcfg.URL)
	p.secret = core.NewSecret(strings.TrimSpace(wcfg.Secret))

	if registry != nil {
		p.client = registry.GetHTTPClient()
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.url == "" {
		p.logger.Warn("Webhook url not set, notification mirroring disabled")
		p.enabled = false
		return nil
	}

	p.enabled = true
	p.logger.Info("Notification webhook initialized", "url", p.url)
	if registry != nil {
		patterns := parseSubscribePatterns(section)
		if !subscribeProvided {
			patterns = []string{"notification_*"}
		}
		for _, pattern := range patterns {
			registry.Subscribe(pattern, p.process)
		}
		if len(patterns) == 0 {
			p.logger.InfoContext(ctx, "Notification webhook has no subscriptions configured; skipping event registration")
		}
	}
	return nil
}

func (p *WebhookPlugin) Start(ctx context.Context) error {
	return nil
}

func (p *WebhookPlugin) Stop(ctx context.Context) error {
	return nil
}

func (p *WebhookPlugin) Description() string { return "Mirrors notification events to a webhook" }

func (p *WebhookPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityNotifier}
}

func (p *WebhookPlugin) Status() core.ServiceStatus {
	if p.enabled && p.url != "" {
		return core.StatusHealthy
	}
	return core.StatusUnknown
}

func (p *WebhookPlugin) Config() any {
	return map[string]any{
		"url":     p.url,
		"secret":  p.secret,
		"enabled": p.enabled,
	}
}

// Execute supports "notify" with params["event"] holding a core.InternalEvent.
func (p *WebhookPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "notify" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	if !p.enabled {
		return map[string]string{"status": "disabled"}, nil
	}

	event, ok := params["event"].(core.InternalEvent)
	if !ok {
		return nil, fmt.Errorf("missing or invalid event")
	}

	if err := p.send(ctx, event); err != nil {
		return nil, err
	}
	return map[string]string{"status": "delivered"}, nil
}

var Plugin core.Plugin = &WebhookPlugin{}

func (p *WebhookPlugin) process(ctx context.Context, event core.InternalEvent) {
	if !p.enabled {
		return
	}
	if err := p.send(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "Notification webhook failed", "type", event.Type, "error", err)
	}
}

func (p *WebhookPlugin) send(ctx context.Context, event core.InternalEvent) error {
	data, err := json.Marshal(webhookPayload{
		EventType: event.Type,
		Source:    event.Source,
		Timestamp: event.Timestamp,
		Message:   event.String,
		Details:   event.Details,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !p.secret.Empty() {
		req.Header.Set("Authorization", "Bearer "+p.secret.Value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}

	p.logger.DebugContext(ctx, "Notification mirrored", "type", event.Type)
	return nil
}

func withoutSubscribe(section map[string]any) map[string]any {
	out := make(map[string]any, len(section))
	for k, v := range section {
		if k != "subscribe" {
			out[k] = v
		}
	}
	return out
}

func normalizePatterns(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func parseSubscribePatterns(section map[string]any) []string {
	raw, ok := section["subscribe"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return normalizePatterns(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return normalizePatterns(out)
	case string:
		return normalizePatterns(strings.Split(v, ","))
	default:
		return normalizePatterns([]string{fmt.Sprint(v)})
	}
}

func main() {}
