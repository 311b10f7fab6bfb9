package mahoodle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mahoodle/mahara-module-mahoodle/pkg/core"
)

// Event types published by the host when a notification changes.
const (
	EventNotificationCreated core.EventTypeName = "notification_created"
	EventNotificationRead    core.EventTypeName = "notification_read"
	EventNotificationDeleted core.EventTypeName = "notification_deleted"
)

var eventKinds = map[core.EventTypeName]EventKind{
	EventNotificationCreated: EventKindCreated,
	EventNotificationRead:    EventKindRead,
	EventNotificationDeleted: EventKindDeleted,
}

// EventTypes describes the payloads the forwarder understands.
func EventTypes() []core.EventTypeDesc {
	changePayload := map[string]core.PayloadField{
		"ids":     {Type: "[]int64", Description: "Notification ids", Required: true},
		"user_id": {Type: "int64", Description: "Owner of the notifications", Required: true},
		"type":    {Type: "string", Description: "Notification type", Required: false},
	}
	return []core.EventTypeDesc{
		{
			Name:        EventNotificationCreated,
			Description: "A notification was stored for a user",
			PayloadSpec: map[string]core.PayloadField{
				"id":      {Type: "int64", Description: "Notification id", Required: true},
				"user_id": {Type: "int64", Description: "Recipient", Required: true},
				"subject": {Type: "string", Description: "Subject line", Required: false},
				"message": {Type: "string", Description: "Body", Required: false},
				"type":    {Type: "string", Description: "Notification type", Required: false},
			},
		},
		{
			Name:        EventNotificationRead,
			Description: "Notifications were marked read",
			PayloadSpec: changePayload,
		},
		{
			Name:        EventNotificationDeleted,
			Description: "Notifications were deleted",
			PayloadSpec: changePayload,
		},
	}
}

// CreatedEvent builds the bus event for a newly stored notification.
func CreatedEvent(source string, id int64, n Notification, notificationType string) core.InternalEvent {
	return core.InternalEvent{
		Type:   EventNotificationCreated,
		Source: source,
		Details: map[string]interface{}{
			"id":      id,
			"user_id": n.UserID,
			"subject": n.Subject,
			"message": n.Message,
			"type":    notificationType,
		},
	}
}

// ChangeEvent builds the bus event for read or deleted notifications.
func ChangeEvent(source string, eventType core.EventTypeName, ids []int64, userID int64, notificationType string) core.InternalEvent {
	return core.InternalEvent{
		Type:   eventType,
		Source: source,
		Details: map[string]interface{}{
			"ids":     ids,
			"user_id": userID,
			"type":    notificationType,
		},
	}
}

// Dispatch runs the forwarder operation matching eventType with details as
// its arguments.
func (f *Forwarder) Dispatch(ctx context.Context, eventType core.EventTypeName, details map[string]interface{}) (Outcome, error) {
	kind, ok := eventKinds[eventType]
	if !ok {
		return Outcome{}, fmt.Errorf("unsupported event type %q", eventType)
	}
	return f.DispatchKind(ctx, kind, details)
}

// DispatchKind is Dispatch keyed by the short event kind.
func (f *Forwarder) DispatchKind(ctx context.Context, kind EventKind, details map[string]interface{}) (Outcome, error) {
	userID, err := int64Field(details, "user_id", "usr", "userid")
	if err != nil {
		return Outcome{}, err
	}
	notificationType := stringField(details, "type")

	switch kind {
	case EventKindCreated:
		id, err := int64Field(details, "id", "messageid")
		if err != nil {
			return Outcome{}, err
		}
		n := Notification{
			Subject: stringField(details, "subject"),
			Message: stringField(details, "message", "body"),
			UserID:  userID,
		}
		return f.NotificationCreated(ctx, id, n, notificationType)
	case EventKindRead, EventKindDeleted:
		raw, ok := lookup(details, "ids", "id")
		if !ok {
			return Outcome{}, fmt.Errorf("missing field ids")
		}
		ids, err := toInt64Slice(raw)
		if err != nil {
			return Outcome{}, fmt.Errorf("field ids: %w", err)
		}
		if kind == EventKindRead {
			return f.NotificationRead(ctx, ids, userID, notificationType)
		}
		return f.NotificationDeleted(ctx, ids, userID, notificationType)
	default:
		return Outcome{}, fmt.Errorf("unsupported action %q", kind)
	}
}

func lookup(details map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := details[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(details map[string]interface{}, keys ...string) string {
	v, ok := lookup(details, keys...)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func int64Field(details map[string]interface{}, keys ...string) (int64, error) {
	v, ok := lookup(details, keys...)
	if !ok {
		return 0, fmt.Errorf("missing field %s", keys[0])
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", keys[0], err)
	}
	return n, nil
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%v is not an integer", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// toInt64Slice accepts a list, a single id, or a comma separated string.
func toInt64Slice(v interface{}) ([]int64, error) {
	switch t := v.(type) {
	case []int64:
		return append([]int64(nil), t...), nil
	case []int:
		out := make([]int64, 0, len(t))
		for _, id := range t {
			out = append(out, int64(id))
		}
		return out, nil
	case []interface{}:
		out := make([]int64, 0, len(t))
		for _, item := range t {
			id, err := toInt64(item)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	case string:
		out := []int64{}
		for _, part := range strings.Split(t, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, nil
	default:
		id, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	}
}
