// Package cloudsight submits images to the CloudSight recognition API and polls for
// their classification.
package cloudsight

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/cloudsight-go/internal/logger"
	"github.com/anime-shed/cloudsight-go/internal/transport"
	"github.com/anime-shed/cloudsight-go/pkg/auth"
	"github.com/anime-shed/cloudsight-go/pkg/config"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
	"github.com/anime-shed/cloudsight-go/pkg/observer"
	"github.com/anime-shed/cloudsight-go/pkg/validation"
)

// Client talks to one CloudSight endpoint with one set of credentials.
// It is safe for concurrent use once cfg is no longer being modified.
type Client struct {
	cfg        *config.Config
	transport  *transport.Client
	customAuth bool
	publisher  *observer.Publisher
	validator  *validation.URLValidator
	log        *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

type clientOptions struct {
	httpClient    *http.Client
	authenticator auth.Authenticator
	logger        *logrus.Logger
	observers     []observer.Observer
	validator     *validation.URLValidator
}

// ClientOption customizes a Client at construction
type ClientOption func(*clientOptions)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithAuthenticator replaces the config-driven authenticator
func WithAuthenticator(a auth.Authenticator) ClientOption {
	return func(o *clientOptions) { o.authenticator = a }
}

// WithLogger sets the logger; the package logger is used otherwise
func WithLogger(l *logrus.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithObserver subscribes an observer to client events
func WithObserver(obs observer.Observer) ClientOption {
	return func(o *clientOptions) { o.observers = append(o.observers, obs) }
}

// WithURLValidator restricts which remote image URLs may be submitted
func WithURLValidator(v *validation.URLValidator) ClientOption {
	return func(o *clientOptions) { o.validator = v }
}

// NewClient creates a client for cfg. A nil cfg means config.New().
func NewClient(cfg *config.Config, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = config.New()
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	l := o.logger
	if l == nil {
		l = logger.Logger
	}

	authenticator := o.authenticator
	if authenticator == nil {
		authenticator = auth.FromConfig(cfg)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(cfg.RequestTimeout)
	}

	validator := o.validator
	if validator == nil {
		validator = validation.NewURLValidator()
	}

	publisher := observer.NewPublisher(l)
	for _, obs := range o.observers {
		publisher.Subscribe(obs)
	}

	return &Client{
		cfg:        cfg,
		transport:  transport.New(httpClient, authenticator, l),
		customAuth: o.authenticator != nil,
		publisher:  publisher,
		validator:  validator,
		log:        logger.Component(l, "cloudsight"),
		sleep:      sleepContext,
	}
}

// Subscribe adds an observer after construction
func (c *Client) Subscribe(obs observer.Observer) {
	c.publisher.Subscribe(obs)
}

func (c *Client) requireAuth() error {
	if c.customAuth || c.cfg.HasCredentials() {
		return nil
	}
	return apperrors.NewConfigurationError("either an API key or OAuth credentials must be configured", nil)
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL() + path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
