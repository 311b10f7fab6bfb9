package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretManagerSource reads the token from a Google Secret Manager secret
// version, e.g. "projects/p/secrets/moodle-token/versions/latest".
type SecretManagerSource struct {
	client secretAccessor
	name   string
}

// NewSecretManagerSource dials Secret Manager with application default credentials.
func NewSecretManagerSource(ctx context.Context, name string) (*SecretManagerSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("secret version name is required")
	}
	if !strings.Contains(name, "/versions/") {
		name += "/versions/latest"
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secret manager client: %w", err)
	}
	return &SecretManagerSource{client: client, name: name}, nil
}

func (s *SecretManagerSource) Token(ctx context.Context) (string, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: s.name})
	if err != nil {
		return "", fmt.Errorf("access %s: %w", s.name, err)
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (s *SecretManagerSource) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
