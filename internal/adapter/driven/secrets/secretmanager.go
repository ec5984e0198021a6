// Package secrets resolves transport credentials from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	smpb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

// accessor is the subset of the Secret Manager client the resolver needs.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *smpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*smpb.AccessSecretVersionResponse, error)
}

// Resolver reads the latest version of secrets in one GCP project.
type Resolver struct {
	client    accessor
	projectID string
	closeFn   func() error
}

// NewResolver creates a Secret Manager client using application default credentials.
func NewResolver(ctx context.Context, projectID string) (*Resolver, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager client: %w", err)
	}
	return &Resolver{client: client, projectID: projectID, closeFn: client.Close}, nil
}

// Resolve returns the payload of the latest version of secretID with
// surrounding whitespace removed.
func (r *Resolver) Resolve(ctx context.Context, secretID string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, secretID)

	resp, err := r.client.AccessSecretVersion(ctx, &smpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", secretID, err)
	}

	value := strings.TrimSpace(string(resp.GetPayload().GetData()))
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", secretID)
	}
	return value, nil
}

// Close releases the underlying client.
func (r *Resolver) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}
