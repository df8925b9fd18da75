package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// LocalFileSource reads images from the local filesystem
type LocalFileSource struct{}

func NewLocalFileSource() *LocalFileSource {
	return &LocalFileSource{}
}

// Open reads the file at location and sniffs its content type
func (LocalFileSource) Open(ctx context.Context, location string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxImageSize)
	}

	return &Image{
		Name:        baseName(filepath.ToSlash(location)),
		ContentType: mimetype.Detect(data).String(),
		Data:        data,
	}, nil
}
