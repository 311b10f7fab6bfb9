package mahoodle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
)

const ModuleName = "mahoodle"

// IntakeSource marks bus events published by the intake API. Those were
// already forwarded by the handler, so the module's own listener skips them.
const IntakeSource = "mahoodle_intake"

// Publisher is the part of the host the intake API publishes through.
type Publisher interface {
	Publish(ctx context.Context, event core.InternalEvent)
}

// TokenWriter persists a new webservice token.
type TokenWriter interface {
	SetToken(ctx context.Context, token string) error
}

// Settings is the "mahoodle" config section.
type Settings struct {
	WebserviceToken string `yaml:"moodle_webservice_token"`
	TokenSecret     string `yaml:"token_secret"`
	IntakeToken     string `yaml:"intake_token"`
	AdminToken      string `yaml:"admin_token"`
}

// LoadSettings decodes the mahoodle section of the config map.
func LoadSettings(section map[string]any) (Settings, error) {
	var s Settings
	if err := core.DecodeConfigSection(withoutKey(section, "subscribe"), &s); err != nil {
		return Settings{}, fmt.Errorf("invalid %s config: %w", ModuleName, err)
	}
	s.WebserviceToken = strings.TrimSpace(s.WebserviceToken)
	s.TokenSecret = strings.TrimSpace(s.TokenSecret)
	s.IntakeToken = strings.TrimSpace(s.IntakeToken)
	s.AdminToken = strings.TrimSpace(s.AdminToken)
	return s, nil
}

// Module plugs the forwarder into the host: it listens for notification
// events on the bus and serves the intake API.
type Module struct {
	forwarder *Forwarder
	tokens    TokenWriter
	logger    *slog.Logger
	bus       Publisher

	intakeToken   core.Secret
	adminToken    core.Secret
	subscriptions []string
}

var _ core.Plugin = (*Module)(nil)

func NewModule(forwarder *Forwarder, tokens TokenWriter) *Module {
	return &Module{
		forwarder: forwarder,
		tokens:    tokens,
		logger:    slog.Default(),
	}
}

func (m *Module) Name() string {
	return ModuleName
}

func (m *Module) Description() string {
	return "Relays Mahara notifications to the Moodle local_mahoodle webservice"
}

func (m *Module) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	m.logger = logger
	if m.forwarder == nil {
		return fmt.Errorf("%s: forwarder is required", ModuleName)
	}

	section := core.ConfigSection(registry, ModuleName)
	settings, err := LoadSettings(section)
	if err != nil {
		m.logger.WarnContext(ctx, "Invalid mahoodle config", "error", err)
	}
	m.intakeToken = core.NewSecret(settings.IntakeToken)
	m.adminToken = core.NewSecret(settings.AdminToken)

	if m.intakeToken.Empty() {
		m.logger.WarnContext(ctx, "Intake token not set, notification endpoints are unsecured (use with caution)")
	}
	if m.adminToken.Empty() && m.intakeToken.Empty() {
		m.logger.WarnContext(ctx, "No admin or intake token set, config endpoint is disabled")
	}

	if registry == nil {
		return nil
	}
	m.bus = registry

	for _, desc := range EventTypes() {
		if err := registry.RegisterEventType(desc); err != nil {
			m.logger.DebugContext(ctx, "Event type already registered", "type", desc.Name)
		}
	}

	patterns := parseSubscribePatterns(section)
	if _, provided := section["subscribe"]; !provided {
		patterns = []string{"notification_*"}
	}
	m.subscriptions = append([]string(nil), patterns...)
	for _, pattern := range patterns {
		registry.Subscribe(pattern, m.process)
	}
	if len(patterns) == 0 {
		m.logger.InfoContext(ctx, "Forwarder has no subscriptions configured; skipping event registration")
	}

	m.registerRoutes(registry.GetMuxServer())

	m.logger.InfoContext(ctx, "Mahoodle forwarder initialized", "site", m.forwarder.SiteURL(), "subscribe", m.subscriptions)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	// Work happens on the callers' goroutines.
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	return nil
}

func (m *Module) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityForwarder, core.CapabilityAPI}
}

// Status is healthy when a token resolves, degraded when forwarding is
// disabled for lack of one.
func (m *Module) Status() core.ServiceStatus {
	if m.forwarder == nil {
		return core.StatusUnhealthy
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	token, err := m.forwarder.Token(ctx)
	if err != nil {
		return core.StatusUnhealthy
	}
	if token == "" {
		return core.StatusDegraded
	}
	return core.StatusHealthy
}

// Execute runs one forwarder operation. action is "created", "read" or
// "deleted"; params carry the same fields as the bus events.
func (m *Module) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	switch kind := EventKind(action); kind {
	case EventKindCreated, EventKindRead, EventKindDeleted:
		return m.forwarder.DispatchKind(ctx, kind, params)
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

type moduleConfigView struct {
	SiteURL         string      `json:"site_url"`
	TokenConfigured bool        `json:"token_configured"`
	IntakeToken     core.Secret `json:"intake_token"`
	AdminToken      core.Secret `json:"admin_token"`
	Subscribe       []string    `json:"subscribe,omitempty"`
}

func (m *Module) Config() any {
	token, _ := m.forwarder.Token(context.Background())
	return moduleConfigView{
		SiteURL:         m.forwarder.SiteURL(),
		TokenConfigured: token != "",
		IntakeToken:     m.intakeToken,
		AdminToken:      m.adminToken,
		Subscribe:       append([]string(nil), m.subscriptions...),
	}
}

func (m *Module) process(ctx context.Context, event core.InternalEvent) {
	if event.Source == IntakeSource {
		return
	}
	outcome, err := m.forwarder.Dispatch(ctx, event.Type, event.Details)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to forward notification event", "type", event.Type, "source", event.Source, "error", err)
		return
	}
	m.logOutcome(ctx, string(event.Type), outcome)
}

func (m *Module) logOutcome(ctx context.Context, event string, outcome Outcome) {
	if !outcome.IsSent() {
		m.logger.DebugContext(ctx, "Notification event not forwarded", "event", event, "outcome", outcome.Kind)
		return
	}
	resp := outcome.Response
	if resp.Error != "" || !resp.OK() {
		m.logger.WarnContext(ctx, "Webservice call did not succeed", "event", event, "url", resp.URL, "status", resp.StatusCode, "error", resp.Error)
		return
	}
	if exc := resp.Exception(); exc != nil {
		m.logger.WarnContext(ctx, "Webservice returned an exception", "event", event, "url", resp.URL, "errorcode", exc.ErrorCode, "message", exc.Message)
		return
	}
	m.logger.InfoContext(ctx, "Notification event forwarded", "event", event, "url", resp.URL, "duration", resp.Duration)
}

func withoutKey(section map[string]any, key string) map[string]any {
	if _, ok := section[key]; !ok {
		return section
	}
	out := make(map[string]any, len(section))
	for k, v := range section {
		if k != key {
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
		parts := strings.Split(v, ",")
		return normalizePatterns(parts)
	default:
		return normalizePatterns([]string{fmt.Sprint(v)})
	}
}
