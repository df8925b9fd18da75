package cloudsight

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/cloudsight-go/internal/transport"
	"github.com/anime-shed/cloudsight-go/pkg/auth"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
	"github.com/anime-shed/cloudsight-go/pkg/observer"
)

// Submit creates a new image request and returns its token.
// Configuration and option problems are reported before anything is sent.
func (c *Client) Submit(ctx context.Context, opts Options) (*ImageRequest, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	params, err := c.buildParams(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.transport.Post(ctx, c.endpoint("/image_requests"), params, nil)
	if err != nil {
		c.fail(ctx, "", opts.URL, start, err)
		return nil, err
	}

	data, err := decodeRequiring(resp, "token")
	if err != nil {
		c.fail(ctx, "", opts.URL, start, err)
		return nil, err
	}

	req := newImageRequest(data)
	c.publisher.Notify(ctx, observer.Event{
		Type:     observer.RequestSubmitted,
		Token:    req.Token,
		ImageURL: opts.URL,
		Duration: time.Since(start),
		Metadata: map[string]any{"upload": opts.File != nil},
	})
	return req, nil
}

// Repost asks the service to process an existing request again. params are sent as-is.
// A 200 with an empty body yields an acknowledged result without a Request.
func (c *Client) Repost(ctx context.Context, token string, params url.Values) (*RepostResult, error) {
	start := time.Now()
	rawURL := c.endpoint("/image_requests/" + url.PathEscape(token) + "/repost")

	resp, err := c.transport.Post(ctx, rawURL, transport.Params{Values: params}, nil)
	if err != nil {
		c.fail(ctx, token, "", start, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusOK && strings.TrimSpace(string(resp.Body)) == "" {
		c.publisher.Notify(ctx, observer.Event{Type: observer.RequestReposted, Token: token, Duration: time.Since(start)})
		return &RepostResult{Acknowledged: true}, nil
	}

	data, err := decodeRequiring(resp, "token")
	if err != nil {
		c.fail(ctx, token, "", start, err)
		return nil, err
	}

	req := newImageRequest(data)
	c.publisher.Notify(ctx, observer.Event{Type: observer.RequestReposted, Token: req.Token, Duration: time.Since(start)})
	return &RepostResult{Request: req}, nil
}

func (c *Client) buildParams(opts Options) (transport.Params, error) {
	switch {
	case opts.URL == "" && opts.File == nil:
		return transport.Params{}, apperrors.NewValidationError("either URL or File must be set", nil)
	case opts.URL != "" && opts.File != nil:
		return transport.Params{}, apperrors.NewValidationError("URL and File are mutually exclusive", nil)
	case opts.File != nil && opts.File.Content == nil:
		return transport.Params{}, apperrors.NewValidationError("File has no content", nil)
	}

	values := url.Values{}
	setString := func(name, v string) {
		if v != "" {
			values.Set("image_request["+name+"]", v)
		}
	}
	setFloat := func(name string, v *float64) {
		if v != nil {
			values.Set("image_request["+name+"]", formatFloat(*v))
		}
	}

	setString("locale", opts.Locale)
	setString("language", opts.Language)
	setFloat("latitude", opts.Latitude)
	setFloat("longitude", opts.Longitude)
	setFloat("altitude", opts.Altitude)
	setString("device_id", opts.DeviceID)
	if opts.TTL != nil {
		values.Set("image_request[ttl]", strconv.Itoa(*opts.TTL))
	}

	if opts.Focus != nil {
		values.Set("focus[x]", formatFloat(opts.Focus.X))
		values.Set("focus[y]", formatFloat(opts.Focus.Y))
	}

	params := transport.Params{Values: values}
	if opts.URL != "" {
		if err := c.validator.ValidateImageURL(opts.URL); err != nil {
			return transport.Params{}, err
		}
		values.Set("image_request[remote_image_url]", opts.URL)
	} else {
		params.Files = []transport.File{{
			Field:       auth.ImagePayloadParam,
			Filename:    opts.File.Name,
			ContentType: opts.File.ContentType,
			Content:     opts.File.Content,
		}}
	}
	return params, nil
}

func (c *Client) fail(ctx context.Context, token, imageURL string, start time.Time, err error) {
	c.log.WithError(err).WithFields(logrus.Fields{
		"token":       token,
		"image_url":   imageURL,
		"status_code": apperrors.GetStatusCode(err),
	}).Warn("CloudSight call failed")

	c.publisher.Notify(ctx, observer.Event{
		Type:     observer.RequestFailed,
		Token:    token,
		ImageURL: imageURL,
		Duration: time.Since(start),
		Err:      err,
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
