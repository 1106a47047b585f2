package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// secretManagerClient is the subset of the Secret Manager API the fetcher uses.
type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (secretManagerClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret references against Google Secret Manager and caches
// resolved values for the lifetime of the process. It implements
// config.SecretResolver.
type Fetcher struct {
	projectID string
	client    secretManagerClient

	mu    sync.Mutex
	cache map[string]string
}

// NewFetcher constructs a Fetcher bound to the given project.
func NewFetcher(ctx context.Context, projectID string, opts ...option.ClientOption) (*Fetcher, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("secrets: project id is required")
	}

	client, err := secretManagerClientFactory(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: create client: %w", err)
	}

	return &Fetcher{
		projectID: projectID,
		client:    client,
		cache:     make(map[string]string),
	}, nil
}

// ResolveSecret fetches the latest version of the referenced secret. The ref
// may be a bare secret name, "name/versions/N", or a full resource path.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("secrets: fetcher not initialised")
	}
	name := f.resourceName(ref)
	if name == "" {
		return "", fmt.Errorf("secrets: invalid secret reference %q", ref)
	}

	f.mu.Lock()
	if cached, ok := f.cache[name]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	payload := resp.GetPayload().GetData()
	value := strings.TrimSpace(string(payload))

	f.mu.Lock()
	f.cache[name] = value
	f.mu.Unlock()

	return value, nil
}

// Close releases the underlying Secret Manager client.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) resourceName(ref string) string {
	ref = strings.Trim(strings.TrimSpace(ref), "/")
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "projects/") {
		if strings.Contains(ref, "/versions/") {
			return ref
		}
		return ref + "/versions/latest"
	}
	if strings.Contains(ref, "/versions/") {
		return fmt.Sprintf("projects/%s/secrets/%s", f.projectID, ref)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", f.projectID, ref)
}
