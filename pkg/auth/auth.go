// Package auth computes the Authorization header for CloudSight requests.
package auth

import (
	"net/url"

	"github.com/anime-shed/cloudsight-go/pkg/config"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
)

// ImagePayloadParam is the multipart field carrying the uploaded image.
// It never takes part in a request signature.
const ImagePayloadParam = "image_request[image]"

// Authenticator produces the Authorization header value for one request
type Authenticator interface {
	Authorization(method, rawURL string, params url.Values) (string, error)
}

// APIKey authenticates with a static CloudSight key
type APIKey struct {
	Key string
}

// Authorization ignores the request and returns "CloudSight <key>"
func (a APIKey) Authorization(_, _ string, _ url.Values) (string, error) {
	if a.Key == "" {
		return "", apperrors.NewConfigurationError("API key is empty", nil)
	}
	return "CloudSight " + a.Key, nil
}

// FromConfig returns an authenticator that picks its scheme from cfg on every call:
// the API key when set, OAuth1 otherwise, and a configuration error when neither exists.
func FromConfig(cfg *config.Config) Authenticator {
	return &configAuthenticator{cfg: cfg}
}

type configAuthenticator struct {
	cfg *config.Config
}

func (a *configAuthenticator) Authorization(method, rawURL string, params url.Values) (string, error) {
	if key := a.cfg.APIKey(); key != "" {
		return APIKey{Key: key}.Authorization(method, rawURL, params)
	}
	if creds := a.cfg.OAuthCredentials(); creds != nil {
		return NewOAuth1(*creds).Authorization(method, rawURL, params)
	}
	return "", apperrors.NewConfigurationError("either an API key or OAuth credentials must be configured", nil)
}

// withoutImage copies params minus the image payload
func withoutImage(params url.Values) url.Values {
	filtered := make(url.Values, len(params))
	for k, v := range params {
		if k == ImagePayloadParam {
			continue
		}
		filtered[k] = append([]string(nil), v...)
	}
	return filtered
}
