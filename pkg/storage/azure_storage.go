package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobSource reads images out of an Azure storage account.
// Locations are either "container/path/to/blob" or a full blob URL.
type AzureBlobSource struct {
	client *azblob.Client
}

func NewAzureBlobSource(accountName string, accountKey string) (*AzureBlobSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &AzureBlobSource{client: client}, nil
}

// Open downloads the blob at location
func (s *AzureBlobSource) Open(ctx context.Context, location string) (*Image, error) {
	containerName, blobName, err := parseBlobLocation(location)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, MaxImageSize+1)); err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if buf.Len() > MaxImageSize {
		return nil, fmt.Errorf("blob exceeds %d bytes", MaxImageSize)
	}

	img := &Image{Name: baseName(blobName), Data: buf.Bytes()}
	if resp.ContentType != nil {
		img.ContentType = *resp.ContentType
	}
	return img, nil
}

func parseBlobLocation(location string) (string, string, error) {
	p := location
	if strings.Contains(location, "://") {
		u, err := url.Parse(location)
		if err != nil {
			return "", "", fmt.Errorf("invalid blob URL: %w", err)
		}
		p = u.Path
	}

	p = strings.TrimPrefix(p, "/")
	containerName, blobName, ok := strings.Cut(p, "/")
	if !ok || containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("blob location %q must be container/blob", location)
	}
	return containerName, blobName, nil
}
