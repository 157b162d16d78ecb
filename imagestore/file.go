package imagestore

import (
	"context"
	"fmt"
	"os"
)

// File loads an image from the local filesystem.
type File struct {
	// Path is the image file path.
	Path string
}

// Load implements Source.
func (f *File) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read image %q: %w", f.Path, err)
	}
	return data, nil
}
