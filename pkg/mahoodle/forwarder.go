// Package mahoodle relays Mahara notification events to the Moodle
// local_mahoodle webservice for users who arrived through MNet.
package mahoodle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/secrets"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/store"
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/webservice"
)

// TokenSource yields the remote webservice token. "" disables forwarding.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// MappingFinder resolves a local user to their remote MNet account.
type MappingFinder interface {
	FindRemoteAccount(ctx context.Context, userID int64) (store.RemoteAccount, bool, error)
}

// Caller performs one webservice call against a remote host.
type Caller interface {
	Call(ctx context.Context, host string, params any) *webservice.Response
}

// Notification is the part of a freshly inserted Mahara notification that
// is relayed.
type Notification struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	UserID  int64  `json:"usr"`
}

type ForwarderConfig struct {
	Tokens   TokenSource
	Mappings MappingFinder
	Caller   Caller
	SiteURL  string // local wwwroot, sent as mnethost
	Logger   *slog.Logger
	Metrics  *Metrics
}

// Forwarder holds no per-call state; each operation is one independent
// lookup and at most one POST. Nothing is retried.
type Forwarder struct {
	tokens   TokenSource
	mappings MappingFinder
	caller   Caller
	siteURL  string
	logger   *slog.Logger
	metrics  *Metrics
}

func NewForwarder(cfg ForwarderConfig) *Forwarder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		tokens:   cfg.Tokens,
		mappings: cfg.Mappings,
		caller:   cfg.Caller,
		siteURL:  strings.TrimSuffix(strings.TrimSpace(cfg.SiteURL), "/"),
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// SiteURL is the local base URL sent with every call.
func (f *Forwarder) SiteURL() string {
	return f.siteURL
}

// Token resolves the currently configured webservice token.
func (f *Forwarder) Token(ctx context.Context) (string, error) {
	if f.tokens == nil {
		return "", nil
	}
	token, err := f.tokens.Token(ctx)
	if errors.Is(err, secrets.ErrDisabled) {
		return "", nil
	}
	return token, err
}

// NotificationCreated relays a new notification with id messageID.
func (f *Forwarder) NotificationCreated(ctx context.Context, messageID int64, n Notification, notificationType string) (Outcome, error) {
	return f.forward(ctx, EventKindCreated, n.UserID, func(token string, account store.RemoteAccount) any {
		return webservice.ReceiveParams{
			Token:    token,
			Format:   webservice.FormatJSON,
			Function: webservice.FunctionReceive,
			Username: account.Username,
			NotifyID: messageID,
			Subject:  n.Subject,
			Body:     n.Message,
			MnetHost: f.siteURL,
			Type:     notificationType,
		}
	})
}

// NotificationRead relays that userID marked the notifications ids as read.
func (f *Forwarder) NotificationRead(ctx context.Context, ids []int64, userID int64, notificationType string) (Outcome, error) {
	return f.forwardChange(ctx, EventKindRead, webservice.FunctionRead, ids, userID, notificationType)
}

// NotificationDeleted relays that userID deleted the notifications ids.
func (f *Forwarder) NotificationDeleted(ctx context.Context, ids []int64, userID int64, notificationType string) (Outcome, error) {
	return f.forwardChange(ctx, EventKindDeleted, webservice.FunctionDelete, ids, userID, notificationType)
}

func (f *Forwarder) forwardChange(ctx context.Context, kind EventKind, function string, ids []int64, userID int64, notificationType string) (Outcome, error) {
	return f.forward(ctx, kind, userID, func(token string, _ store.RemoteAccount) any {
		return webservice.ChangeParams{
			Token:     token,
			Format:    webservice.FormatJSON,
			Function:  function,
			NotifyIDs: JoinIDs(ids),
			MnetHost:  f.siteURL,
			Type:      notificationType,
		}
	})
}

func (f *Forwarder) forward(ctx context.Context, kind EventKind, userID int64, build func(token string, account store.RemoteAccount) any) (Outcome, error) {
	token, err := f.Token(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: %w", kind, err)
	}
	if token == "" {
		f.metrics.observe(kind, OutcomeDisabled, nil)
		return Disabled(), nil
	}

	account, found, err := f.mappings.FindRemoteAccount(ctx, userID)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: %w", kind, err)
	}
	if !found {
		f.logger.DebugContext(ctx, "User has no remote account, skipping", "event", kind, "user_id", userID)
		f.metrics.observe(kind, OutcomeNotLinked, nil)
		return NotLinked(), nil
	}

	resp := f.caller.Call(ctx, account.Host, build(token, account))
	if resp == nil {
		resp = &webservice.Response{URL: webservice.Endpoint(account.Host)}
	}
	f.metrics.observe(kind, OutcomeSent, resp)
	f.logger.DebugContext(ctx, "Relayed notification event",
		"event", kind,
		"user_id", userID,
		"remote_host", account.Host,
		"status", resp.StatusCode,
		"error", resp.Error)
	return Sent(resp), nil
}

// JoinIDs renders ids as the comma separated list the remote side expects.
func JoinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}
