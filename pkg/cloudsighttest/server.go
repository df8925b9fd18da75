// Package cloudsighttest provides an in-process fake of the CloudSight API for tests.
package cloudsighttest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/anime-shed/cloudsight-go/pkg/auth"
)

// Route names one endpoint of the fake
type Route string

const (
	RouteImageRequests  Route = "image_requests"
	RouteRepost         Route = "repost"
	RouteImageResponses Route = "image_responses"
)

// Reply is a canned raw response
type Reply struct {
	StatusCode int
	Body       string
}

// RecordedRequest is what the fake saw for one call
type RecordedRequest struct {
	Route         Route
	Method        string
	Path          string
	Token         string
	Authorization string
	Form          url.Values
	FileName      string
	FileData      []byte
}

// Server is a running fake. Canned replies take precedence over the built-in behaviour:
// submissions get a fresh token, reposts get an empty 200 and polls walk the queued statuses.
type Server struct {
	*httptest.Server

	// APIKey, when set, rejects "CloudSight" headers carrying another key
	APIKey string

	mu       sync.Mutex
	replies  map[Route][]Reply
	statuses map[string][]string
	requests []RecordedRequest
}

// NewServer starts a fake; call Close when done
func NewServer() *Server {
	s := &Server{
		replies:  make(map[Route][]Reply),
		statuses: make(map[string][]string),
	}
	s.Server = httptest.NewServer(s.Handler())
	return s
}

// Handler builds the gin engine serving the fake API
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requireAuthorization())

	r.POST("/image_requests", s.createImageRequest)
	r.POST("/image_requests/:token/repost", s.repostImageRequest)
	r.GET("/image_responses/:token", s.getImageResponse)
	return r
}

// Enqueue queues canned replies for route, served in order before the default behaviour
func (s *Server) Enqueue(route Route, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[route] = append(s.replies[route], replies...)
}

// QueueStatuses sets the statuses returned by successive polls of token.
// The last status repeats once the queue is drained.
func (s *Server) QueueStatuses(token string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[token] = append(s.statuses[token], statuses...)
}

// Requests returns a copy of every request received so far
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) requireAuthorization() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if key, ok := strings.CutPrefix(header, "CloudSight "); ok && s.APIKey != "" && key != s.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

func (s *Server) createImageRequest(c *gin.Context) {
	rec := s.record(c, RouteImageRequests)
	if s.writeCanned(c, RouteImageRequests) {
		return
	}

	remote := rec.Form.Get("image_request[remote_image_url]")
	if remote == "" && rec.FileData == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image or remote_image_url is required"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":  strings.ReplaceAll(uuid.NewString(), "-", ""),
		"url":    remote,
		"status": "not completed",
		"ttl":    54.0,
	})
}

func (s *Server) repostImageRequest(c *gin.Context) {
	s.record(c, RouteRepost)
	if s.writeCanned(c, RouteRepost) {
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) getImageResponse(c *gin.Context) {
	rec := s.record(c, RouteImageResponses)
	if s.writeCanned(c, RouteImageResponses) {
		return
	}

	status := s.nextStatus(rec.Token)
	body := gin.H{"token": rec.Token, "status": status}
	switch status {
	case "completed":
		body["name"] = "red sports car"
	case "skipped":
		body["reason"] = "offensive"
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) nextStatus(token string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.statuses[token]
	switch len(queue) {
	case 0:
		return "completed"
	case 1:
		return queue[0]
	}
	s.statuses[token] = queue[1:]
	return queue[0]
}

func (s *Server) writeCanned(c *gin.Context, route Route) bool {
	s.mu.Lock()
	queue := s.replies[route]
	if len(queue) == 0 {
		s.mu.Unlock()
		return false
	}
	reply := queue[0]
	s.replies[route] = queue[1:]
	s.mu.Unlock()

	code := reply.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	c.Data(code, "application/json; charset=utf-8", []byte(reply.Body))
	return true
}

func (s *Server) record(c *gin.Context, route Route) RecordedRequest {
	rec := RecordedRequest{
		Route:         route,
		Method:        c.Request.Method,
		Path:          c.Request.URL.Path,
		Token:         c.Param("token"),
		Authorization: c.GetHeader("Authorization"),
		Form:          url.Values{},
	}

	if c.Request.Method == http.MethodPost {
		if strings.HasPrefix(c.ContentType(), "multipart/") {
			_ = c.Request.ParseMultipartForm(32 << 20)
		} else {
			_ = c.Request.ParseForm()
		}
		for k, v := range c.Request.PostForm {
			rec.Form[k] = v
		}
		if fh, err := c.FormFile(auth.ImagePayloadParam); err == nil {
			rec.FileName = fh.Filename
			if f, err := fh.Open(); err == nil {
				rec.FileData, _ = io.ReadAll(f)
				f.Close()
			}
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	s.mu.Unlock()
	return rec
}
