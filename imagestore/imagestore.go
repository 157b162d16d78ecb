// Package imagestore loads firmware image bytes for the dev server.
package imagestore

import "context"

// Source loads one firmware image.
type Source interface {
	// Load returns the full image bytes.
	Load(ctx context.Context) ([]byte, error)
}
