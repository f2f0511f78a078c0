// Package archive keeps raw provider notification payloads for later diagnosis and replay.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Archive stores and retrieves raw notification payloads.
type Archive interface {
	// Store saves payload received from provider and returns its URI.
	Store(ctx context.Context, provider string, payload []byte) (string, error)

	// Fetch returns the payload stored at uri.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ObjectName builds <prefix>/<provider>/<yyyy>/<mm>/<dd>/<id>.json.
func ObjectName(prefix, provider string, at time.Time, id string) string {
	return path.Join(prefix, provider, at.UTC().Format("2006/01/02"), id+".json")
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// ProviderFromObject extracts the provider segment of an object name built by ObjectName.
func ProviderFromObject(prefix, object string) string {
	rest := strings.TrimPrefix(object, strings.TrimSuffix(prefix, "/")+"/")
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return ""
}

// Nop discards payloads. It is used when no bucket is configured.
type Nop struct{}

func (Nop) Store(ctx context.Context, provider string, payload []byte) (string, error) {
	return "", nil
}

func (Nop) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return nil, fmt.Errorf("Fetch: archiving is disabled")
}

var _ Archive = Nop{}
