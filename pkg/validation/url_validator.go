package validation

import (
	"net/url"
	"slices"
	"strings"

	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
)

// URLValidator checks URLs handed to the service: remote image URLs and the API base URL
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewURLValidator creates a URL validator accepting any http or https host
func NewURLValidator() *URLValidator {
	return &URLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewURLValidatorWithOptions creates a URL validator with custom options
func NewURLValidatorWithOptions(schemes []string, hosts []string) *URLValidator {
	return &URLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// ValidateImageURL validates a remote image URL before it is submitted
func (v *URLValidator) ValidateImageURL(imageURL string) error {
	return v.validate("image URL", imageURL)
}

// ValidateBaseURL validates the service endpoint. Query strings and fragments are rejected
// since request paths are appended to it.
func (v *URLValidator) ValidateBaseURL(baseURL string) error {
	if err := v.validate("base URL", baseURL); err != nil {
		return err
	}
	parsed, _ := url.Parse(baseURL)
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return apperrors.NewValidationError("base URL must not carry a query or fragment", nil)
	}
	return nil
}

func (v *URLValidator) validate(subject, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return apperrors.NewValidationError(subject+" cannot be empty", nil)
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return apperrors.NewValidationError("invalid "+subject+" format", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return apperrors.NewValidationError(subject+" scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return apperrors.NewValidationError(subject+" must have a valid host", nil)
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return apperrors.NewValidationError(subject+" host not allowed", nil)
	}

	return nil
}

func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	return slices.Contains(v.allowedSchemes, strings.ToLower(scheme))
}

// isHostAllowed returns true if no host restrictions are set
func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	return slices.ContainsFunc(v.allowedHosts, func(allowed string) bool {
		return strings.EqualFold(allowed, host)
	})
}
