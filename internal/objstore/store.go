// Package objstore stores generated site bundles and audit screenshots.
package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/siteforge/internal/types"
)

// ErrNotFound is returned when a reference names no stored object.
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store. Put returns a reference that Get
// accepts.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// BundleKey returns a key for a site version. Each call returns a distinct key.
func BundleKey(siteID string, version int) string {
	return fmt.Sprintf("sites/%s/v%d-%s.json", siteID, version, randomSuffix())
}

// ScreenshotKey returns a fresh key for an audit screenshot.
func ScreenshotKey(auditID, name string) string {
	return fmt.Sprintf("audits/%s/%s-%s.png", auditID, name, randomSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// PutBundle serializes bundle as a flat JSON object and stores it under a new
// key for siteID and version.
func PutBundle(ctx context.Context, s Store, siteID string, version int, bundle types.ArtifactBundle) (string, error) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	ref, err := s.Put(ctx, BundleKey(siteID, version), "application/json", data)
	if err != nil {
		return "", fmt.Errorf("failed to store bundle for site %s v%d: %w", siteID, version, err)
	}
	return ref, nil
}

// GetBundle loads a bundle stored by PutBundle.
func GetBundle(ctx context.Context, s Store, ref string) (types.ArtifactBundle, error) {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var bundle types.ArtifactBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode bundle %s: %w", ref, err)
	}
	return bundle, nil
}
