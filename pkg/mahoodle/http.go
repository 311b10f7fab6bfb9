package mahoodle

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
)

const (
	routeCreated = "/api/mahoodle/notifications/created"
	routeRead    = "/api/mahoodle/notifications/read"
	routeDeleted = "/api/mahoodle/notifications/deleted"
	routeConfig  = "/api/mahoodle/config"
)

// userRef accepts the user under either of the keys bus payloads use.
type userRef struct {
	UserID int64 `json:"user_id"`
	Usr    int64 `json:"usr"`
}

func (u userRef) id() int64 {
	if u.UserID != 0 {
		return u.UserID
	}
	return u.Usr
}

type createdRequest struct {
	userRef
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type changeRequest struct {
	userRef
	IDs  []int64 `json:"ids"`
	Type string  `json:"type"`
}

type configRequest struct {
	WebserviceToken *string `json:"moodle_webservice_token"`
}

type outcomeResponse struct {
	Outcome    OutcomeKind `json:"outcome"`
	URL        string      `json:"url,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
	Error      string      `json:"error,omitempty"`
	Body       string      `json:"body,omitempty"`
}

func newOutcomeResponse(o Outcome) outcomeResponse {
	out := outcomeResponse{Outcome: o.Kind}
	if o.Response != nil {
		out.URL = o.Response.URL
		out.StatusCode = o.Response.StatusCode
		out.Error = o.Response.Error
		out.Body = string(o.Response.Body)
	}
	return out
}

func (m *Module) registerRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc(routeCreated, m.authorize(m.handleCreated))
	mux.HandleFunc(routeRead, m.authorize(m.handleChange(EventKindRead)))
	mux.HandleFunc(routeDeleted, m.authorize(m.handleChange(EventKindDeleted)))
	mux.HandleFunc(routeConfig, m.authorizeAdmin(m.handleConfig))
}

func bearerMatches(r *http.Request, secret core.Secret) bool {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	given := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(given), []byte(secret.Value)) == 1
}

// authorize enforces the optional bearer intake token.
func (m *Module) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.intakeToken.Empty() && !bearerMatches(r, m.intakeToken) {
			core.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// authorizeAdmin requires the admin token, or the intake token when no admin
// token is set. With neither configured the endpoint is closed.
func (m *Module) authorizeAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := m.adminToken
		if secret.Empty() {
			secret = m.intakeToken
		}
		if secret.Empty() {
			core.WriteJSON(w, http.StatusForbidden, map[string]string{"error": "config endpoint disabled: set admin_token"})
			return
		}
		if !bearerMatches(r, secret) {
			core.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// publish hands the event to other bus subscribers. The request context is
// detached because listeners outlive the response.
func (m *Module) publish(r *http.Request, event core.InternalEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.WithoutCancel(r.Context()), event)
}

func (m *Module) handleCreated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req createdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if req.ID == 0 || req.id() == 0 {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "id and user_id are required"})
		return
	}

	n := Notification{Subject: req.Subject, Message: req.Message, UserID: req.id()}
	m.publish(r, CreatedEvent(IntakeSource, req.ID, n, req.Type))
	outcome, err := m.forwarder.NotificationCreated(r.Context(), req.ID, n, req.Type)
	if err != nil {
		m.logger.ErrorContext(r.Context(), "Failed to forward created notification", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	m.logOutcome(r.Context(), string(EventNotificationCreated), outcome)
	core.WriteJSON(w, http.StatusOK, newOutcomeResponse(outcome))
}

func (m *Module) handleChange(kind EventKind) http.HandlerFunc {
	forward := m.forwarder.NotificationRead
	event := EventNotificationRead
	if kind == EventKindDeleted {
		forward = m.forwarder.NotificationDeleted
		event = EventNotificationDeleted
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		var req changeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
			return
		}
		if len(req.IDs) == 0 || req.id() == 0 {
			core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "ids and user_id are required"})
			return
		}

		m.publish(r, ChangeEvent(IntakeSource, event, req.IDs, req.id(), req.Type))
		outcome, err := forward(r.Context(), req.IDs, req.id(), req.Type)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "Failed to forward notification change", "event", event, "error", err)
			core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		m.logOutcome(r.Context(), string(event), outcome)
		core.WriteJSON(w, http.StatusOK, newOutcomeResponse(outcome))
	}
}

// handleConfig stores a new webservice token.
func (m *Module) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if m.tokens == nil {
		core.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "token storage not configured"})
		return
	}
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if req.WebserviceToken == nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "moodle_webservice_token is required"})
		return
	}
	token := strings.TrimSpace(*req.WebserviceToken)
	if err := m.tokens.SetToken(r.Context(), token); err != nil {
		m.logger.ErrorContext(r.Context(), "Failed to save webservice token", "error", err)
		core.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	m.logger.InfoContext(r.Context(), "Webservice token updated", "token", core.NewSecret(token))
	core.WriteJSON(w, http.StatusOK, m.Config())
}
