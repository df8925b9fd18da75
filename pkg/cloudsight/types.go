package cloudsight

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/anime-shed/cloudsight-go/internal/transport"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
)

// Response statuses reported by the service. Anything other than StatusNotCompleted
// and StatusInProgress is terminal.
const (
	StatusNotCompleted = "not completed"
	StatusInProgress   = "in progress"
	StatusCompleted    = "completed"
	StatusSkipped      = "skipped"
	StatusTimeout      = "timeout"
	StatusNotFound     = "not found"
)

// Focus hints which point of the image the service should prioritize
type Focus struct {
	X, Y float64
}

// ImageFile is an image uploaded as multipart data
type ImageFile struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Options describe a new image request. Empty strings and nil pointers are not sent.
// Exactly one of URL and File must be set.
type Options struct {
	Locale    string
	Language  string
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
	DeviceID  string
	TTL       *int
	Focus     *Focus

	URL  string
	File *ImageFile
}

// Float returns a pointer to v, for the optional numeric fields of Options
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// ImageRequest is the service's acknowledgement of a submitted image
type ImageRequest struct {
	Token  string
	URL    string
	Status string
	TTL    float64
	// Fields holds every field of the decoded body
	Fields map[string]any
}

// ImageResponse is the current state of a request, with the classification once terminal
type ImageResponse struct {
	Token  string
	Status string
	Name   string
	URL    string
	Reason string
	TTL    float64
	Fields map[string]any
}

// Pending reports whether the service is still working on the request
func (r *ImageResponse) Pending() bool {
	return r.Status == StatusNotCompleted || r.Status == StatusInProgress
}

// RepostResult is either a bare acknowledgement or a decoded request
type RepostResult struct {
	// Acknowledged is set when the service answered 200 with an empty body
	Acknowledged bool
	Request      *ImageRequest
}

func newImageRequest(data map[string]any) *ImageRequest {
	return &ImageRequest{
		Token:  stringField(data, "token"),
		URL:    stringField(data, "url"),
		Status: stringField(data, "status"),
		TTL:    numberField(data, "ttl"),
		Fields: data,
	}
}

func newImageResponse(data map[string]any) *ImageResponse {
	return &ImageResponse{
		Token:  stringField(data, "token"),
		Status: stringField(data, "status"),
		Name:   stringField(data, "name"),
		URL:    stringField(data, "url"),
		Reason: stringField(data, "reason"),
		TTL:    numberField(data, "ttl"),
		Fields: data,
	}
}

// decodeBody parses a JSON object body and turns an "error" field into a service error
func decodeBody(resp *transport.Response) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()

	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, apperrors.NewUnexpectedResponseError(string(resp.Body), resp.StatusCode, err)
	}
	if data == nil {
		return nil, apperrors.NewUnexpectedResponseError(string(resp.Body), resp.StatusCode, nil)
	}
	if msg, ok := errorMessage(data["error"]); ok {
		return nil, apperrors.NewServiceError(msg, resp.StatusCode)
	}
	return data, nil
}

// decodeRequiring decodes the body and insists on a present field
func decodeRequiring(resp *transport.Response, field string) (map[string]any, error) {
	data, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if !present(data[field]) {
		return nil, apperrors.NewUnexpectedResponseError(string(resp.Body), resp.StatusCode, nil)
	}
	return data, nil
}

func errorMessage(v any) (string, bool) {
	if !present(v) {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "unreadable error", true
	}
	return string(encoded), true
}

// present follows JSON truthiness of the service: null and false mean absent
func present(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func stringField(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func numberField(data map[string]any, key string) float64 {
	if n, ok := data[key].(json.Number); ok {
		f, _ := n.Float64()
		return f
	}
	return 0
}
