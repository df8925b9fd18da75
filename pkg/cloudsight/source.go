package cloudsight

import (
	"bytes"
	"context"
	"fmt"

	"github.com/anime-shed/cloudsight-go/pkg/storage"
)

// ImageFileFromSource loads location from src into an upload, for images the service
// cannot fetch by URL.
func ImageFileFromSource(ctx context.Context, src storage.ImageSource, location string) (*ImageFile, error) {
	img, err := src.Open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", location, err)
	}
	return &ImageFile{
		Name:        img.Name,
		ContentType: img.ContentType,
		Content:     bytes.NewReader(img.Data),
	}, nil
}

// SubmitFromSource uploads the image at location with the remaining opts
func (c *Client) SubmitFromSource(ctx context.Context, src storage.ImageSource, location string, opts Options) (*ImageRequest, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	file, err := ImageFileFromSource(ctx, src, location)
	if err != nil {
		return nil, err
	}
	opts.URL = ""
	opts.File = file
	return c.Submit(ctx, opts)
}
