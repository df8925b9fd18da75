package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/cloudsight-go/internal/logger"
	"github.com/anime-shed/cloudsight-go/pkg/auth"
)

// UserAgent is sent with every request
const UserAgent = "cloudsight-go/1.0"

// File is a binary form field sent as multipart/form-data
type File struct {
	Field       string
	Filename    string
	ContentType string
	Content     io.Reader
}

// Params is the outgoing form. Files switch the body to multipart.
type Params struct {
	Values url.Values
	Files  []File
}

// Response is any completed HTTP exchange, whatever its status code
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues authenticated form requests. Non-2xx statuses come back as a
// Response so callers can decode the body; only network failures are errors.
type Client struct {
	http *http.Client
	auth auth.Authenticator
	log  *logrus.Entry
}

// NewHTTPClient builds the default http.Client for API calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	}
}

// New creates a transport client; a nil httpClient or log falls back to defaults
func New(httpClient *http.Client, authenticator auth.Authenticator, log *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	return &Client{
		http: httpClient,
		auth: authenticator,
		log:  logger.Component(log, "transport"),
	}
}

// Post sends params as a form to rawURL
func (c *Client) Post(ctx context.Context, rawURL string, params Params, headers http.Header) (*Response, error) {
	values := params.Values
	if values == nil {
		values = url.Values{}
	}

	authorization, err := c.auth.Authorization(http.MethodPost, rawURL, values)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	var contentType string
	if len(params.Files) > 0 {
		buf, ct, err := encodeMultipart(values, params.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	} else {
		body, contentType = strings.NewReader(values.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, authorization, headers)
}

// Get fetches rawURL
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	authorization, err := c.auth.Authorization(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	return c.do(req, authorization, headers)
}

func (c *Client) do(req *http.Request, authorization string, headers http.Header) (*Response, error) {
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"method": req.Method,
			"url":    req.URL.String(),
		}).Warn("Request failed before a response arrived")
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"method":      req.Method,
		"url":         req.URL.String(),
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Request completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func encodeMultipart(values url.Values, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	for k, vs := range values {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}

	for _, f := range files {
		part, err := w.CreatePart(filePartHeader(f))
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", f.Field, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func filePartHeader(f File) textproto.MIMEHeader {
	filename := f.Filename
	if filename == "" {
		filename = "image"
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(f.Field), escapeQuotes(filename))},
		"Content-Type": {contentType},
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
