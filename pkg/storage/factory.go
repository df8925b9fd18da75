package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
)

// SourceType represents the different storage backends
type SourceType string

const (
	// HTTPStorage downloads http(s) URLs
	HTTPStorage SourceType = "http"
	// AzureStorage reads azure://container/blob locations and blob URLs
	AzureStorage SourceType = "azure"
	// LocalStorage reads files from disk
	LocalStorage SourceType = "local"
)

const azureScheme = "azure://"

// SourceFactory creates image sources and routes locations to them.
// It is itself an ImageSource.
type SourceFactory struct {
	HTTPClient   *http.Client
	AzureAccount string
	AzureKey     string

	mu      sync.Mutex
	sources map[SourceType]ImageSource
}

// NewSourceFactory creates a factory without Azure credentials
func NewSourceFactory(httpClient *http.Client) *SourceFactory {
	return &SourceFactory{HTTPClient: httpClient}
}

// NewSourceFactoryFromEnv reads Azure credentials from AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY
func NewSourceFactoryFromEnv(httpClient *http.Client) *SourceFactory {
	f := NewSourceFactory(httpClient)
	f.AzureAccount = os.Getenv("AZURE_STORAGE_ACCOUNT")
	f.AzureKey = os.Getenv("AZURE_STORAGE_KEY")
	return f
}

// TypeOf picks the backend for location
func TypeOf(location string) SourceType {
	if strings.HasPrefix(location, azureScheme) {
		return AzureStorage
	}
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return LocalStorage
	}
	if strings.HasSuffix(strings.ToLower(u.Hostname()), ".blob.core.windows.net") {
		return AzureStorage
	}
	return HTTPStorage
}

// CreateSource returns the source for sourceType, building it on first use
func (f *SourceFactory) CreateSource(sourceType SourceType) (ImageSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if src, ok := f.sources[sourceType]; ok {
		return src, nil
	}

	var (
		src ImageSource
		err error
	)
	switch sourceType {
	case HTTPStorage:
		src = NewHTTPImageSource(f.HTTPClient)
	case AzureStorage:
		if f.AzureAccount == "" || f.AzureKey == "" {
			return nil, fmt.Errorf("azure storage requires an account name and key")
		}
		src, err = NewAzureBlobSource(f.AzureAccount, f.AzureKey)
	case LocalStorage:
		src = NewLocalFileSource()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", sourceType)
	}
	if err != nil {
		return nil, err
	}

	if f.sources == nil {
		f.sources = make(map[SourceType]ImageSource)
	}
	f.sources[sourceType] = src
	return src, nil
}

// Open loads location from whichever backend TypeOf selects
func (f *SourceFactory) Open(ctx context.Context, location string) (*Image, error) {
	sourceType := TypeOf(location)
	src, err := f.CreateSource(sourceType)
	if err != nil {
		return nil, err
	}
	if sourceType == AzureStorage {
		location = strings.TrimPrefix(location, azureScheme)
	}
	return src.Open(ctx, location)
}
