package mahoodle

import (
	"github.com/Mahoodle/mahara-module-mahoodle/pkg/webservice"
)

// EventKind names one of the three relayed notification lifecycle events.
type EventKind string

const (
	EventKindCreated EventKind = "created"
	EventKindRead    EventKind = "read"
	EventKindDeleted EventKind = "deleted"
)

type OutcomeKind string

const (
	// OutcomeDisabled: no webservice token is configured.
	OutcomeDisabled OutcomeKind = "disabled"
	// OutcomeNotLinked: the user has no remote account.
	OutcomeNotLinked OutcomeKind = "not_linked"
	// OutcomeSent: one call was made; Response holds whatever came back.
	OutcomeSent OutcomeKind = "sent"
)

// Outcome tells callers which of the three things happened. Response is set
// only for OutcomeSent and is never interpreted here.
type Outcome struct {
	Kind     OutcomeKind          `json:"outcome"`
	Response *webservice.Response `json:"response,omitempty"`
}

func Disabled() Outcome  { return Outcome{Kind: OutcomeDisabled} }
func NotLinked() Outcome { return Outcome{Kind: OutcomeNotLinked} }

func Sent(resp *webservice.Response) Outcome {
	return Outcome{Kind: OutcomeSent, Response: resp}
}

func (o Outcome) IsSent() bool {
	return o.Kind == OutcomeSent
}
