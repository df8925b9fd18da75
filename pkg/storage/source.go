// Package storage loads image bytes from places the recognition service cannot reach,
// so they can be uploaded as a file instead of passed by URL.
package storage

import (
	"context"
	"path"
)

// Image is a fully buffered image ready for upload
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// ImageSource loads an image from a location understood by the implementation
type ImageSource interface {
	Open(ctx context.Context, location string) (*Image, error)
}

// MaxImageSize bounds how much a source will buffer
const MaxImageSize = 20 << 20

func baseName(p string) string {
	name := path.Base(p)
	if name == "." || name == "/" {
		return "image"
	}
	return name
}
