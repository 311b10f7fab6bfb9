// Package secrets resolves the remote webservice token from the places an
// operator may keep it.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDisabled is returned by a source that holds an explicitly cleared token.
// Chain stops there and yields "" so later sources cannot re-enable forwarding.
var ErrDisabled = errors.New("token explicitly cleared")

// Source yields a token. An empty token with a nil error means "not set here".
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Static is a token fixed in configuration.
type Static string

func (s Static) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Chain asks each source in order and returns the first non-empty token.
type Chain []Source

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		token, err := src.Token(ctx)
		if errors.Is(err, ErrDisabled) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("resolve token: %w", err)
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, nil
		}
	}
	return "", nil
}
