package cloudsight

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anime-shed/cloudsight-go/pkg/auth"
	"github.com/anime-shed/cloudsight-go/pkg/cloudsighttest"
	"github.com/anime-shed/cloudsight-go/pkg/config"
	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
	"github.com/anime-shed/cloudsight-go/pkg/observer"
	"github.com/anime-shed/cloudsight-go/pkg/storage"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *cloudsighttest.Server) {
	t.Helper()
	srv := cloudsighttest.NewServer()
	t.Cleanup(srv.Close)

	cfg := config.New()
	cfg.SetAPIKey("test-key")
	cfg.SetBaseURL(srv.URL)
	cfg.PollWait = time.Millisecond

	return NewClient(cfg, append([]ClientOption{WithLogger(quietLogger())}, opts...)...), srv
}

func requireAppError(t *testing.T, err error, want apperrors.ErrorType) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, want, appErr.Type)
	return appErr
}

func TestSubmit_WithoutCredentials(t *testing.T) {
	srv := cloudsighttest.NewServer()
	defer srv.Close()

	cfg := config.New()
	cfg.SetBaseURL(srv.URL)
	c := NewClient(cfg, WithLogger(quietLogger()))

	for _, opts := range []Options{
		{URL: "https://example.com/cat.jpg"},
		{File: &ImageFile{Name: "cat.jpg", Content: strings.NewReader("x")}},
		{},
	} {
		_, err := c.Submit(context.Background(), opts)
		requireAppError(t, err, apperrors.ErrorTypeConfiguration)
	}
	assert.Empty(t, srv.Requests(), "no request may reach the network")
}

func TestSubmit_ResponseHandling(t *testing.T) {
	tests := []struct {
		name      string
		reply     cloudsighttest.Reply
		wantToken string
		wantType  apperrors.ErrorType
		wantMsg   string
		wantBody  string
	}{
		{
			name:      "token",
			reply:     cloudsighttest.Reply{Body: `{"token":"abc123"}`},
			wantToken: "abc123",
		},
		{
			name:     "service error",
			reply:    cloudsighttest.Reply{StatusCode: http.StatusBadRequest, Body: `{"error":"bad request"}`},
			wantType: apperrors.ErrorTypeService,
			wantMsg:  "bad request",
		},
		{
			name:     "service error with ok status",
			reply:    cloudsighttest.Reply{Body: `{"error":"bad request","token":"abc"}`},
			wantType: apperrors.ErrorTypeService,
			wantMsg:  "bad request",
		},
		{
			name:     "structured service error",
			reply:    cloudsighttest.Reply{StatusCode: http.StatusUnprocessableEntity, Body: `{"error":{"image":["is missing"]}}`},
			wantType: apperrors.ErrorTypeService,
			wantMsg:  `{"image":["is missing"]}`,
		},
		{
			name:     "missing token",
			reply:    cloudsighttest.Reply{Body: `{}`},
			wantType: apperrors.ErrorTypeUnexpectedResponse,
			wantBody: `{}`,
		},
		{
			name:     "null token and false error",
			reply:    cloudsighttest.Reply{Body: `{"token":null,"error":false}`},
			wantType: apperrors.ErrorTypeUnexpectedResponse,
			wantBody: `{"token":null,"error":false}`,
		},
		{
			name:     "not json",
			reply:    cloudsighttest.Reply{StatusCode: http.StatusBadGateway, Body: `<html>bad gateway</html>`},
			wantType: apperrors.ErrorTypeUnexpectedResponse,
			wantBody: `<html>bad gateway</html>`,
		},
		{
			name:     "json array",
			reply:    cloudsighttest.Reply{Body: `[]`},
			wantType: apperrors.ErrorTypeUnexpectedResponse,
			wantBody: `[]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(t)
			srv.Enqueue(cloudsighttest.RouteImageRequests, tt.reply)

			req, err := c.Submit(context.Background(), Options{URL: "https://example.com/cat.jpg"})
			if tt.wantType == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantToken, req.Token)
				return
			}

			appErr := requireAppError(t, err, tt.wantType)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, appErr.Message)
			}
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, appErr.Body)
			}
		})
	}
}

func TestSubmit_DefaultFakeFlow(t *testing.T) {
	c, srv := newTestClient(t)

	req, err := c.Submit(context.Background(), Options{URL: "https://example.com/cat.jpg"})
	require.NoError(t, err)

	assert.NotEmpty(t, req.Token)
	assert.Equal(t, "https://example.com/cat.jpg", req.URL)
	assert.Equal(t, StatusNotCompleted, req.Status)
	assert.Equal(t, 54.0, req.TTL)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "CloudSight test-key", requests[0].Authorization)
	assert.Equal(t, "/image_requests", requests[0].Path)
}

func TestSubmit_ParameterMapping(t *testing.T) {
	c, srv := newTestClient(t)

	_, err := c.Submit(context.Background(), Options{
		Locale:    "en-US",
		Language:  "en",
		Latitude:  Float(37.7749),
		Longitude: Float(-122.4194),
		Altitude:  Float(0),
		DeviceID:  "device-1",
		TTL:       Int(60),
		Focus:     &Focus{X: 120, Y: 45.5},
		URL:       "https://example.com/cat.jpg",
	})
	require.NoError(t, err)

	form := srv.Requests()[0].Form
	expected := url.Values{
		"image_request[locale]":           {"en-US"},
		"image_request[language]":         {"en"},
		"image_request[latitude]":         {"37.7749"},
		"image_request[longitude]":        {"-122.4194"},
		"image_request[altitude]":         {"0"},
		"image_request[device_id]":        {"device-1"},
		"image_request[ttl]":              {"60"},
		"focus[x]":                        {"120"},
		"focus[y]":                        {"45.5"},
		"image_request[remote_image_url]": {"https://example.com/cat.jpg"},
	}
	assert.Equal(t, expected, form)
}

func TestSubmit_OmitsAbsentFields(t *testing.T) {
	c, srv := newTestClient(t)

	_, err := c.Submit(context.Background(), Options{URL: "https://example.com/cat.jpg"})
	require.NoError(t, err)

	form := srv.Requests()[0].Form
	assert.Equal(t, url.Values{"image_request[remote_image_url]": {"https://example.com/cat.jpg"}}, form)
}

func TestSubmit_FileUpload(t *testing.T) {
	c, srv := newTestClient(t)

	_, err := c.Submit(context.Background(), Options{
		Locale: "de-DE",
		File:   &ImageFile{Name: "cat.jpg", ContentType: "image/jpeg", Content: strings.NewReader("jpeg-bytes")},
	})
	require.NoError(t, err)

	rec := srv.Requests()[0]
	assert.Equal(t, "cat.jpg", rec.FileName)
	assert.Equal(t, []byte("jpeg-bytes"), rec.FileData)
	assert.Equal(t, "de-DE", rec.Form.Get("image_request[locale]"))
	assert.Empty(t, rec.Form.Get("image_request[remote_image_url]"))
}

func TestSubmit_ValidatesImageSource(t *testing.T) {
	c, srv := newTestClient(t)
	file := &ImageFile{Name: "a.jpg", Content: strings.NewReader("x")}

	for name, opts := range map[string]Options{
		"neither":      {Locale: "en"},
		"both":         {URL: "https://example.com/a.jpg", File: file},
		"bad scheme":   {URL: "ftp://example.com/a.jpg"},
		"empty upload": {File: &ImageFile{Name: "a.jpg"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), opts)
			requireAppError(t, err, apperrors.ErrorTypeValidation)
		})
	}
	assert.Empty(t, srv.Requests())
}

func TestSubmit_OAuth(t *testing.T) {
	srv := cloudsighttest.NewServer()
	defer srv.Close()

	cfg := config.New()
	cfg.SetBaseURL(srv.URL)
	require.NoError(t, cfg.SetOAuthCredentials(map[string]any{"consumer_key": "ck", "consumer_secret": "cs"}))
	c := NewClient(cfg, WithLogger(quietLogger()))

	_, err := c.Submit(context.Background(), Options{
		File: &ImageFile{Name: "cat.jpg", Content: strings.NewReader("jpeg-bytes")},
	})
	require.NoError(t, err)

	header := srv.Requests()[0].Authorization
	assert.True(t, strings.HasPrefix(header, "OAuth "), header)
	assert.Contains(t, header, `oauth_consumer_key="ck"`)
	assert.Contains(t, header, `oauth_signature_method="HMAC-SHA1"`)
}

func TestSignatureIgnoresUploadedFile(t *testing.T) {
	c := NewClient(config.New(), WithLogger(quietLogger()))
	signer := auth.NewOAuth1(config.OAuthCredentials{ConsumerKey: "ck", ConsumerSecret: "cs"})
	signer.Now = func() time.Time { return time.Unix(1700000000, 0) }
	signer.Nonce = func() string { return "fixed" }

	withFile, err := c.buildParams(Options{
		Locale: "en-US",
		TTL:    Int(30),
		File:   &ImageFile{Name: "cat.jpg", Content: strings.NewReader("binary")},
	})
	require.NoError(t, err)
	require.Len(t, withFile.Files, 1)

	withoutFile := url.Values{"image_request[locale]": {"en-US"}, "image_request[ttl]": {"30"}}
	// a payload smuggled into the plain values is dropped too
	smuggled := url.Values{
		"image_request[locale]": {"en-US"},
		"image_request[ttl]":    {"30"},
		auth.ImagePayloadParam:  {"binary"},
	}

	const target = "https://api.cloudsight.ai/image_requests"
	a, err := signer.SignatureBase("POST", target, withFile.Values)
	require.NoError(t, err)
	b, err := signer.SignatureBase("POST", target, withoutFile)
	require.NoError(t, err)
	s, err := signer.SignatureBase("POST", target, smuggled)
	require.NoError(t, err)

	assert.Equal(t, b, a)
	assert.Equal(t, b, s)
}

func TestRepost(t *testing.T) {
	t.Run("empty body acknowledges", func(t *testing.T) {
		c, srv := newTestClient(t)

		result, err := c.Repost(context.Background(), "tok 1", url.Values{"image_request[language]": {"fr"}})
		require.NoError(t, err)
		assert.True(t, result.Acknowledged)
		assert.Nil(t, result.Request)

		rec := srv.Requests()[0]
		assert.Equal(t, "/image_requests/tok 1/repost", rec.Path)
		assert.Equal(t, "fr", rec.Form.Get("image_request[language]"))
	})

	t.Run("whitespace body acknowledges", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteRepost, cloudsighttest.Reply{Body: " \n"})

		result, err := c.Repost(context.Background(), "tok", nil)
		require.NoError(t, err)
		assert.True(t, result.Acknowledged)
	})

	t.Run("token body", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteRepost, cloudsighttest.Reply{Body: `{"token":"new-token","status":"not completed"}`})

		result, err := c.Repost(context.Background(), "tok", nil)
		require.NoError(t, err)
		assert.False(t, result.Acknowledged)
		require.NotNil(t, result.Request)
		assert.Equal(t, "new-token", result.Request.Token)
	})

	t.Run("empty body with other status", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteRepost, cloudsighttest.Reply{StatusCode: http.StatusNoContent})

		_, err := c.Repost(context.Background(), "tok", nil)
		requireAppError(t, err, apperrors.ErrorTypeUnexpectedResponse)
	})

	t.Run("service error", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteRepost, cloudsighttest.Reply{StatusCode: http.StatusNotFound, Body: `{"error":"not found"}`})

		_, err := c.Repost(context.Background(), "tok", nil)
		appErr := requireAppError(t, err, apperrors.ErrorTypeService)
		assert.Equal(t, "not found", appErr.Message)
		assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
	})
}

func TestGetStatus(t *testing.T) {
	t.Run("fields pass through", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteImageResponses, cloudsighttest.Reply{Body: `{"status": "completed", "token": "t1"}`})

		resp, err := c.GetStatus(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"status": "completed", "token": "t1"}, resp.Fields)
		assert.Equal(t, StatusCompleted, resp.Status)
		assert.Equal(t, "t1", resp.Token)
		assert.False(t, resp.Pending())
	})

	t.Run("missing status", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteImageResponses, cloudsighttest.Reply{Body: `{"token":"t1"}`})

		_, err := c.GetStatus(context.Background(), "t1")
		appErr := requireAppError(t, err, apperrors.ErrorTypeUnexpectedResponse)
		assert.Equal(t, `{"token":"t1"}`, appErr.Body)
	})

	t.Run("service error", func(t *testing.T) {
		c, srv := newTestClient(t)
		srv.Enqueue(cloudsighttest.RouteImageResponses, cloudsighttest.Reply{StatusCode: http.StatusNotFound, Body: `{"error":"unknown token"}`})

		_, err := c.GetStatus(context.Background(), "t1")
		appErr := requireAppError(t, err, apperrors.ErrorTypeService)
		assert.Equal(t, "unknown token", appErr.Message)
	})

	t.Run("without credentials", func(t *testing.T) {
		srv := cloudsighttest.NewServer()
		defer srv.Close()
		cfg := config.New()
		cfg.SetBaseURL(srv.URL)

		_, err := NewClient(cfg, WithLogger(quietLogger())).GetStatus(context.Background(), "t1")
		requireAppError(t, err, apperrors.ErrorTypeConfiguration)
		assert.Empty(t, srv.Requests())
	})
}

func TestRetrieve_PollsUntilTerminal(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress, StatusInProgress, StatusCompleted)

	var seen []string
	resp, err := c.Retrieve(context.Background(), "tok", WithOnUpdate(func(r *ImageResponse) error {
		seen = append(seen, r.Status)
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "red sports car", resp.Name)
	assert.Equal(t, []string{StatusInProgress, StatusInProgress, StatusCompleted}, seen)
	assert.Len(t, srv.Requests(), 3)
}

func TestRetrieve_NotCompletedIsPending(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusNotCompleted, StatusSkipped)

	resp, err := c.Retrieve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, resp.Status)
	assert.Equal(t, "offensive", resp.Reason)
	assert.Len(t, srv.Requests(), 2)
}

func TestRetrieve_SleepsBeforeEachPoll(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress, StatusCompleted)

	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := c.Retrieve(context.Background(), "tok", WithPollWait(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, waits)
}

func TestRetrieve_ErrorsAbortLoop(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress)
	srv.Enqueue(cloudsighttest.RouteImageResponses,
		cloudsighttest.Reply{Body: `{"status":"in progress","token":"tok"}`},
		cloudsighttest.Reply{Body: `{"error":"boom"}`},
	)

	resp, err := c.Retrieve(context.Background(), "tok")
	assert.Nil(t, resp)
	requireAppError(t, err, apperrors.ErrorTypeService)
	assert.Len(t, srv.Requests(), 2)
}

func TestRetrieve_MaxAttempts(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress)

	resp, err := c.Retrieve(context.Background(), "tok", WithMaxAttempts(4))
	requireAppError(t, err, apperrors.ErrorTypePollLimit)
	require.NotNil(t, resp)
	assert.Equal(t, StatusInProgress, resp.Status)
	assert.Len(t, srv.Requests(), 4)
}

func TestRetrieve_CallbackStopsLoop(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress)
	errStop := errors.New("stop")

	calls := 0
	resp, err := c.Retrieve(context.Background(), "tok", WithOnUpdate(func(*ImageResponse) error {
		calls++
		if calls == 2 {
			return errStop
		}
		return nil
	}))

	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, StatusInProgress, resp.Status)
	assert.Equal(t, 2, calls)
	assert.Len(t, srv.Requests(), 2)
}

func TestRetrieve_ContextCancel(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("tok", StatusInProgress)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Retrieve(ctx, "tok", WithPollWait(time.Hour))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, srv.Requests())
}

func TestRetrieveAll(t *testing.T) {
	c, srv := newTestClient(t)
	srv.QueueStatuses("a", StatusInProgress, StatusCompleted)
	srv.QueueStatuses("b", StatusSkipped)
	srv.QueueStatuses("c", StatusNotCompleted, StatusInProgress, StatusCompleted)

	results, err := c.RetrieveAll(context.Background(), []string{"a", "b", "c"}, 2)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, StatusCompleted, results["a"].Status)
	assert.Equal(t, StatusSkipped, results["b"].Status)
	assert.Equal(t, StatusCompleted, results["c"].Status)
	assert.Len(t, srv.Requests(), 6)
}

func TestRetrieveAll_FirstErrorWins(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.RetrieveAll(context.Background(), []string{"a", "b"}, 0, WithOnUpdate(func(r *ImageResponse) error {
		if r.Token == "b" {
			return errors.New("b failed")
		}
		return nil
	}))
	assert.EqualError(t, err, "b failed")
}

func TestObservers(t *testing.T) {
	metrics := observer.NewMetricsObserver()
	c, srv := newTestClient(t, WithObserver(metrics))

	req, err := c.Submit(context.Background(), Options{URL: "https://example.com/cat.jpg"})
	require.NoError(t, err)
	srv.QueueStatuses(req.Token, StatusInProgress, StatusCompleted)

	_, err = c.Retrieve(context.Background(), req.Token)
	require.NoError(t, err)

	srv.Enqueue(cloudsighttest.RouteImageRequests, cloudsighttest.Reply{Body: `{"error":"nope"}`})
	_, err = c.Submit(context.Background(), Options{URL: "https://example.com/cat.jpg"})
	require.Error(t, err)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Submitted)
	assert.Equal(t, int64(2), snap.Polls)
	assert.Equal(t, int64(1), snap.Completed)
	assert.Equal(t, int64(1), snap.Failed)
}

func TestSubmitFromSource(t *testing.T) {
	images := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer images.Close()

	c, srv := newTestClient(t)
	req, err := c.SubmitFromSource(context.Background(), storage.NewHTTPImageSource(images.Client()),
		images.URL+"/private/dog.png", Options{Locale: "en-US", URL: "ignored"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.Token)

	rec := srv.Requests()[0]
	assert.Equal(t, "dog.png", rec.FileName)
	assert.Equal(t, []byte("png-bytes"), rec.FileData)
	assert.Empty(t, rec.Form.Get("image_request[remote_image_url]"))
}

func TestNetworkErrorIsNotWrapped(t *testing.T) {
	cfg := config.New()
	cfg.SetAPIKey("k")
	cfg.SetBaseURL("http://127.0.0.1:1")
	c := NewClient(cfg, WithLogger(quietLogger()))

	_, err := c.GetStatus(context.Background(), "tok")
	require.Error(t, err)

	var appErr *apperrors.AppError
	assert.False(t, errors.As(err, &appErr))
	var urlErr *url.Error
	assert.ErrorAs(t, err, &urlErr)
}
