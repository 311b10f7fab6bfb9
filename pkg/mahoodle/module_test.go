package mahoodle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/webservice"
)

type fakeTokenWriter struct {
	saved []string
	err   error
}

func (f *fakeTokenWriter) SetToken(_ context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, token)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func setupModule(t *testing.T, section map[string]any, f *Forwarder, tokens TokenWriter) (*Module, *core.ModuleManager) {
	t.Helper()
	mgr := core.NewModuleManager(testLogger())
	if section != nil {
		mgr.SetConfig(map[string]map[string]any{ModuleName: section})
	}
	m := NewModule(f, tokens)
	mgr.Register(m)
	require.NoError(t, mgr.Init(context.Background()))
	return m, mgr
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	case nil:
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestModule_InitRequiresForwarder(t *testing.T) {
	mgr := core.NewModuleManager(testLogger())
	mgr.Register(NewModule(nil, nil))
	err := mgr.Init(context.Background())
	assert.ErrorContains(t, err, "forwarder is required")
}

func TestModule_ForwardsBusEvents(t *testing.T) {
	caller := &fakeCaller{}
	m, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), caller), nil)
	assert.Equal(t, []string{"notification_*"}, m.subscriptions)

	broker := mgr.Broker()
	broker.Publish(context.Background(), CreatedEvent("test", 42, Notification{Subject: "S", UserID: 7}, "usertype"))
	broker.Publish(context.Background(), ChangeEvent("test", EventNotificationRead, []int64{1, 2}, 7, "usertype"))
	broker.Publish(context.Background(), core.InternalEvent{Type: "deploy_success", Source: "test"})
	broker.Wait()

	calls := caller.Calls()
	require.Len(t, calls, 2)
	functions := []string{}
	for _, c := range calls {
		switch p := c.params.(type) {
		case webservice.ReceiveParams:
			functions = append(functions, p.Function)
		case webservice.ChangeParams:
			functions = append(functions, p.Function)
		}
	}
	assert.ElementsMatch(t, []string{webservice.FunctionReceive, webservice.FunctionRead}, functions)

	types := broker.EventTypes()
	assert.Contains(t, types, EventNotificationCreated)
	assert.Contains(t, types, EventNotificationDeleted)
}

func TestModule_SubscribeOverride(t *testing.T) {
	caller := &fakeCaller{}
	m, mgr := setupModule(t, map[string]any{"subscribe": "notification_deleted"}, newTestForwarder("T", linkedMappings(), caller), nil)
	assert.Equal(t, []string{"notification_deleted"}, m.subscriptions)

	mgr.Broker().Publish(context.Background(), ChangeEvent("test", EventNotificationRead, []int64{1}, 7, ""))
	mgr.Broker().Publish(context.Background(), ChangeEvent("test", EventNotificationDeleted, []int64{1}, 7, ""))
	mgr.Broker().Wait()

	calls := caller.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, webservice.FunctionDelete, calls[0].params.(webservice.ChangeParams).Function)
}

func TestModule_IntakeEndpoints(t *testing.T) {
	caller := &fakeCaller{resp: &webservice.Response{URL: "https://moodle.example" + webservice.EndpointPath, StatusCode: http.StatusOK, Body: []byte(`null`)}}
	_, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), caller), nil)
	mux := mgr.GetMuxServer()

	rec := doJSON(t, mux, http.MethodPost, routeCreated, "", map[string]any{
		"id": 42, "subject": "S", "message": "B", "usr": 7, "type": "usertype",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var out outcomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, OutcomeSent, out.Outcome)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "null", out.Body)

	rec = doJSON(t, mux, http.MethodPost, routeRead, "", map[string]any{"ids": []int64{1, 2, 3}, "user_id": 7})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeDeleted, "", map[string]any{"ids": []int64{5}, "user_id": 99})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, OutcomeNotLinked, out.Outcome)

	calls := caller.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "1,2,3", calls[1].params.(webservice.ChangeParams).NotifyIDs)
}

func TestModule_IntakeValidation(t *testing.T) {
	_, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), &fakeCaller{}), nil)
	mux := mgr.GetMuxServer()

	rec := doJSON(t, mux, http.MethodGet, routeRead, "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeRead, "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeCreated, "", map[string]any{"subject": "S"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeDeleted, "", map[string]any{"user_id": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModule_IntakeLookupFailure(t *testing.T) {
	f := newTestForwarder("T", &fakeMappings{err: errors.New("no such table")}, &fakeCaller{})
	_, mgr := setupModule(t, nil, f, nil)

	rec := doJSON(t, mgr.GetMuxServer(), http.MethodPost, routeRead, "", map[string]any{"ids": []int64{1}, "user_id": 7})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no such table")
}

func TestModule_IntakeTokenRequired(t *testing.T) {
	caller := &fakeCaller{}
	m, mgr := setupModule(t, map[string]any{"intake_token": "s3cret"}, newTestForwarder("T", linkedMappings(), caller), nil)
	mux := mgr.GetMuxServer()
	body := map[string]any{"ids": []int64{1}, "user_id": 7}

	rec := doJSON(t, mux, http.MethodPost, routeRead, "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeRead, "Bearer wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeRead, "s3cret", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, routeRead, "Bearer s3cret", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, caller.Calls(), 1)

	raw, err := json.Marshal(m.Config())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")
	assert.Contains(t, string(raw), "REDACTED")
}

func TestModule_ConfigEndpoint(t *testing.T) {
	writer := &fakeTokenWriter{}
	_, mgr := setupModule(t, map[string]any{"admin_token": "adm"}, newTestForwarder("T", linkedMappings(), &fakeCaller{}), writer)
	mux := mgr.GetMuxServer()
	body := map[string]any{"moodle_webservice_token": "  NEW  "}

	rec := doJSON(t, mux, http.MethodPut, routeConfig, "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = doJSON(t, mux, http.MethodPut, routeConfig, "Bearer wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, writer.saved)

	rec = doJSON(t, mux, http.MethodPut, routeConfig, "Bearer adm", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"NEW"}, writer.saved)
	assert.NotContains(t, rec.Body.String(), "NEW")
	assert.NotContains(t, rec.Body.String(), "adm\"")

	rec = doJSON(t, mux, http.MethodPut, routeConfig, "Bearer adm", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodDelete, routeConfig, "Bearer adm", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	writer.err = errors.New("read-only database")
	rec = doJSON(t, mux, http.MethodPut, routeConfig, "Bearer adm", map[string]any{"moodle_webservice_token": ""})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestModule_ConfigEndpointClosedWithoutTokens(t *testing.T) {
	writer := &fakeTokenWriter{}
	_, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), &fakeCaller{}), writer)

	rec := doJSON(t, mgr.GetMuxServer(), http.MethodPut, routeConfig, "", map[string]any{"moodle_webservice_token": "attacker"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, writer.saved)
}

func TestModule_ConfigEndpointFallsBackToIntakeToken(t *testing.T) {
	writer := &fakeTokenWriter{}
	_, mgr := setupModule(t, map[string]any{"intake_token": "in"}, newTestForwarder("T", linkedMappings(), &fakeCaller{}), writer)
	mux := mgr.GetMuxServer()
	body := map[string]any{"moodle_webservice_token": "X"}

	rec := doJSON(t, mux, http.MethodPut, routeConfig, "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, mux, http.MethodPut, routeConfig, "Bearer in", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"X"}, writer.saved)
}

func TestModule_ConfigEndpointWithoutStorage(t *testing.T) {
	_, mgr := setupModule(t, map[string]any{"admin_token": "adm"}, newTestForwarder("T", linkedMappings(), &fakeCaller{}), nil)
	rec := doJSON(t, mgr.GetMuxServer(), http.MethodPut, routeConfig, "Bearer adm", map[string]any{"moodle_webservice_token": "X"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestModule_IntakePublishesToBus(t *testing.T) {
	caller := &fakeCaller{}
	_, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), caller), nil)

	var mu sync.Mutex
	var seen []core.InternalEvent
	mgr.Subscribe("notification_*", func(_ context.Context, event core.InternalEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event)
	})

	mux := mgr.GetMuxServer()
	rec := doJSON(t, mux, http.MethodPost, routeCreated, "", map[string]any{"id": 42, "usr": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, routeDeleted, "", map[string]any{"ids": []int64{5}, "user_id": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	mgr.Broker().Wait()

	// Forwarded once by the handler, not again by the module's listener.
	assert.Len(t, caller.Calls(), 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	types := []core.EventTypeName{seen[0].Type, seen[1].Type}
	assert.ElementsMatch(t, []core.EventTypeName{EventNotificationCreated, EventNotificationDeleted}, types)
	for _, event := range seen {
		assert.Equal(t, IntakeSource, event.Source)
		assert.Equal(t, int64(7), event.Details["user_id"])
	}
}

func TestModule_IntakeAcceptsEitherUserKey(t *testing.T) {
	caller := &fakeCaller{}
	_, mgr := setupModule(t, nil, newTestForwarder("T", linkedMappings(), caller), nil)
	mux := mgr.GetMuxServer()

	rec := doJSON(t, mux, http.MethodPost, routeCreated, "", map[string]any{"id": 1, "user_id": 7})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, routeRead, "", map[string]any{"ids": []int64{2}, "usr": 7})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, mux, http.MethodPost, routeDeleted, "", map[string]any{"ids": []int64{3}, "usr": 7})
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, caller.Calls(), 3)
}

func TestModule_Status(t *testing.T) {
	m := NewModule(newTestForwarder("T", linkedMappings(), &fakeCaller{}), nil)
	assert.Equal(t, core.StatusHealthy, m.Status())

	m = NewModule(newTestForwarder("", linkedMappings(), &fakeCaller{}), nil)
	assert.Equal(t, core.StatusDegraded, m.Status())

	m = NewModule(NewForwarder(ForwarderConfig{Tokens: fakeTokens{err: errors.New("boom")}}), nil)
	assert.Equal(t, core.StatusUnhealthy, m.Status())

	assert.Equal(t, core.StatusUnhealthy, NewModule(nil, nil).Status())
}

func TestModule_Execute(t *testing.T) {
	caller := &fakeCaller{}
	m := NewModule(newTestForwarder("T", linkedMappings(), caller), nil)

	res, err := m.Execute(context.Background(), "read", map[string]interface{}{"ids": []int64{1}, "user_id": 7})
	require.NoError(t, err)
	o, ok := res.(Outcome)
	require.True(t, ok)
	assert.True(t, o.IsSent())

	_, err = m.Execute(context.Background(), "archive", nil)
	assert.ErrorContains(t, err, "unsupported action")
}

func TestModule_PluginAPI(t *testing.T) {
	_, mgr := setupModule(t, nil, newTestForwarder("", linkedMappings(), &fakeCaller{}), nil)

	plugins := mgr.GetPluginsWithCapability(core.CapabilityForwarder)
	require.Len(t, plugins, 1)
	assert.Equal(t, ModuleName, plugins[0].Name())

	rec := doJSON(t, mgr.GetMuxServer(), http.MethodGet, "/api/plugins/"+ModuleName, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"site_url":"https://mahara.example"`)
	assert.Contains(t, rec.Body.String(), `"token_configured":false`)
}

func TestLoadSettings(t *testing.T) {
	s, err := LoadSettings(map[string]any{
		"moodle_webservice_token": " T ",
		"token_secret":            "projects/p/secrets/moodle",
		"subscribe":               []any{"notification_*"},
	})
	require.NoError(t, err)
	assert.Equal(t, "T", s.WebserviceToken)
	assert.Equal(t, "projects/p/secrets/moodle", s.TokenSecret)
	assert.Empty(t, s.IntakeToken)

	s, err = LoadSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)
}

func TestNormalizePatterns(t *testing.T) {
	input := []string{" notification_* ", "", "notification_read", "notification_*", "  "}
	out := normalizePatterns(input)
	assert.Equal(t, []string{"notification_*", "notification_read"}, out)
}

func TestParseSubscribePatterns(t *testing.T) {
	tests := []struct {
		name    string
		section map[string]any
		want    []string
	}{
		{
			name:    "missing",
			section: map[string]any{},
			want:    nil,
		},
		{
			name:    "string_list",
			section: map[string]any{"subscribe": []string{" notification_* ", "notification_read"}},
			want:    []string{"notification_*", "notification_read"},
		},
		{
			name:    "any_list",
			section: map[string]any{"subscribe": []any{"notification_read", "notification_deleted"}},
			want:    []string{"notification_read", "notification_deleted"},
		},
		{
			name:    "csv",
			section: map[string]any{"subscribe": "notification_read, notification_deleted,"},
			want:    []string{"notification_read", "notification_deleted"},
		},
		{
			name:    "empty_string",
			section: map[string]any{"subscribe": ""},
			want:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSubscribePatterns(tt.section))
		})
	}
}
