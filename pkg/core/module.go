package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"
)

type Module interface {
	Name() string
	Init(ctx context.Context, logger *slog.Logger, registry PluginRegistry) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Plugin interface {
	Module
	Description() string
	Capabilities() []Capability
	Status() ServiceStatus
	Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error)
}

// ConfigProvider is implemented by plugins that expose their effective
// configuration over the API. Secrets must be wrapped in Secret.
type ConfigProvider interface {
	Config() any
}

// PluginRegistry is the view of the manager handed to modules during Init.
type PluginRegistry interface {
	GetConfig() map[string]map[string]any
	GetHTTPClient() *http.Client
	GetMuxServer() *http.ServeMux
	Subscribe(pattern string, handler Listener)
	Publish(ctx context.Context, event InternalEvent)
	RegisterEventType(desc EventTypeDesc) error
	GetPluginsWithCapability(capability Capability) []Plugin
}

type ModuleManager struct {
	modules []Module
	logger  *slog.Logger

	configMu sync.RWMutex
	config   map[string]map[string]any

	client *http.Client
	broker *Broker

	mux        *http.ServeMux
	server     *http.Server
	serverOnce sync.Once
}

var _ PluginRegistry = (*ModuleManager)(nil)

func NewModuleManager(logger *slog.Logger) *ModuleManager {
	m := &ModuleManager{
		modules: []Module{},
		logger:  logger,
		config:  map[string]map[string]any{},
		client:  http.DefaultClient,
		broker:  NewBroker(logger),
		mux:     http.NewServeMux(),
	}
	m.registerCoreRoutes()
	return m
}

func (m *ModuleManager) Register(mod Module) {
	m.modules = append(m.modules, mod)
}

func (m *ModuleManager) SetConfig(cfg map[string]map[string]any) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	if cfg == nil {
		cfg = map[string]map[string]any{}
	}
	m.config = cfg
}

func (m *ModuleManager) GetConfig() map[string]map[string]any {
	m.configMu.RLock()
	defer m.configMu.RUnlock()
	return m.config
}

func (m *ModuleManager) SetHTTPClient(client *http.Client) {
	if client == nil {
		client = http.DefaultClient
	}
	m.client = client
}

func (m *ModuleManager) GetHTTPClient() *http.Client {
	return m.client
}

func (m *ModuleManager) GetMuxServer() *http.ServeMux {
	return m.mux
}

// Broker exposes the event bus so host code can publish notification events.
func (m *ModuleManager) Broker() *Broker {
	return m.broker
}

func (m *ModuleManager) Subscribe(pattern string, handler Listener) {
	m.broker.Subscribe(pattern, handler)
}

func (m *ModuleManager) Publish(ctx context.Context, event InternalEvent) {
	m.broker.Publish(ctx, event)
}

func (m *ModuleManager) RegisterEventType(desc EventTypeDesc) error {
	return m.broker.RegisterEventType(desc)
}

func (m *ModuleManager) ListPlugins() []Plugin {
	out := []Plugin{}
	for _, mod := range m.modules {
		if p, ok := mod.(Plugin); ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *ModuleManager) GetPlugin(name string) (Plugin, error) {
	for _, p := range m.ListPlugins() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("plugin %q not found", name)
}

func (m *ModuleManager) GetPluginsWithCapability(capability Capability) []Plugin {
	out := []Plugin{}
	for _, p := range m.ListPlugins() {
		for _, c := range p.Capabilities() {
			if c == capability {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (m *ModuleManager) LoadPlugins(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("Plugins directory not found", "dir", dir)
			return nil
		}
		return fmt.Errorf("failed to read plugins dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".so") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		m.logger.Info("Loading plugin", "path", path)

		p, err := plugin.Open(path)
		if err != nil {
			m.logger.Error("Failed to open plugin", "path", path, "error", err)
			continue
		}

		sym, err := p.Lookup("Plugin")
		if err != nil {
			m.logger.Error("Plugin symbol not found", "path", path, "error", err)
			continue
		}

		// Lookup returns a pointer to the exported variable.
		var plug Plugin
		switch v := sym.(type) {
		case *Plugin:
			plug = *v
		case Plugin:
			plug = v
		}
		if plug == nil {
			m.logger.Error("Plugin has wrong type", "path", path)
			continue
		}

		m.Register(plug)
		m.logger.Info("Plugin loaded successfully", "name", plug.Name())
	}
	return nil
}

func (m *ModuleManager) Init(ctx context.Context) error {
	for _, mod := range m.modules {
		if err := mod.Init(ctx, m.logger.With("module", mod.Name()), m); err != nil {
			return fmt.Errorf("init %s: %w", mod.Name(), err)
		}
	}
	return nil
}

func (m *ModuleManager) Start(ctx context.Context) {
	for _, mod := range m.modules {
		go func(mod Module) {
			m.logger.Info("Starting module", "module", mod.Name())
			if err := mod.Start(ctx); err != nil {
				m.logger.Error("Module failed", "module", mod.Name(), "error", err)
			}
		}(mod)
	}
	m.startHTTPServer()
}

func (m *ModuleManager) Stop(ctx context.Context) {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Error("HTTP server shutdown failed", "error", err)
		}
	}
	for i := len(m.modules) - 1; i >= 0; i-- {
		mod := m.modules[i]
		m.logger.Info("Stopping module", "module", mod.Name())
		if err := mod.Stop(ctx); err != nil {
			m.logger.Error("Error stopping module", "module", mod.Name(), "error", err)
		}
	}
	m.broker.Wait()
}
