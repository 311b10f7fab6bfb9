package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type pluginInfo struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Capabilities []Capability  `json:"capabilities,omitempty"`
	Status       ServiceStatus `json:"status,omitempty"`
	Config       any           `json:"config,omitempty"`
}

type eventTypeInfo struct {
	Name        EventTypeName           `json:"name"`
	Description string                  `json:"description,omitempty"`
	Payload     map[string]PayloadField `json:"payload,omitempty"`
}

func (m *ModuleManager) registerCoreRoutes() {
	m.mux.HandleFunc("/api/plugins", m.handlePlugins)
	m.mux.HandleFunc("/api/plugins/", m.handlePlugin)
	m.mux.HandleFunc("/api/events", m.handleEventTypes)
	m.mux.HandleFunc("/api/health", m.handleHealth)
}

type healthInfo struct {
	Status  ServiceStatus            `json:"status"`
	Plugins map[string]ServiceStatus `json:"plugins"`
}

// handleHealth reports the worst plugin status; 503 when it is unhealthy.
func (m *ModuleManager) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	out := healthInfo{Status: StatusHealthy, Plugins: map[string]ServiceStatus{}}
	for _, p := range m.ListPlugins() {
		status := p.Status()
		out.Plugins[p.Name()] = status
		out.Status = WorstStatus(out.Status, status)
	}
	code := http.StatusOK
	if out.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, out)
}

func (m *ModuleManager) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	includeConfig := strings.EqualFold(r.URL.Query().Get("include_config"), "true")
	plugins := m.ListPlugins()
	out := make([]pluginInfo, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, buildPluginInfo(p, includeConfig))
	}
	WriteJSON(w, http.StatusOK, out)
}

func (m *ModuleManager) handlePlugin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/plugins/")
	name = strings.Trim(name, "/")
	if name == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "plugin name required"})
		return
	}
	plug, err := m.GetPlugin(name)
	if err != nil {
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, buildPluginInfo(plug, true))
}

func (m *ModuleManager) handleEventTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	types := m.broker.EventTypes()
	out := make([]eventTypeInfo, 0, len(types))
	for _, desc := range types {
		out = append(out, eventTypeInfo{Name: desc.Name, Description: desc.Description, Payload: desc.PayloadSpec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	WriteJSON(w, http.StatusOK, out)
}

func buildPluginInfo(plug Plugin, includeConfig bool) pluginInfo {
	info := pluginInfo{
		Name:         plug.Name(),
		Description:  plug.Description(),
		Capabilities: plug.Capabilities(),
		Status:       plug.Status(),
	}
	if includeConfig {
		if cfg, ok := plug.(ConfigProvider); ok {
			info.Config = cfg.Config()
		}
	}
	return info
}

func (m *ModuleManager) startHTTPServer() {
	m.serverOnce.Do(func() {
		addr := m.httpAddr()
		if addr == "" {
			return
		}
		m.server = &http.Server{
			Addr:    addr,
			Handler: m.mux,
		}
		m.logger.Info("HTTP server starting", "addr", addr)
		go func() {
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				m.logger.Error("HTTP server failed", "error", err)
			}
		}()
	})
}

func (m *ModuleManager) httpAddr() string {
	cfg := m.GetConfig()
	coreSection, ok := cfg["core"]
	if !ok {
		return ""
	}
	if v, ok := coreSection["http_addr"]; ok && v != nil {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
