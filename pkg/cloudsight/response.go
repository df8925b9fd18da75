package cloudsight

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/anime-shed/cloudsight-go/pkg/errors"
	"github.com/anime-shed/cloudsight-go/pkg/observer"
)

// GetStatus fetches the current state of token once
func (c *Client) GetStatus(ctx context.Context, token string) (*ImageResponse, error) {
	resp, err := c.transport.Get(ctx, c.endpoint("/image_responses/"+url.PathEscape(token)), nil)
	if err != nil {
		return nil, err
	}

	data, err := decodeRequiring(resp, "status")
	if err != nil {
		return nil, err
	}
	return newImageResponse(data), nil
}

// UpdateFunc sees every polled response. Returning an error stops Retrieve with that error.
type UpdateFunc func(*ImageResponse) error

type retrieveOptions struct {
	pollWait    time.Duration
	onUpdate    UpdateFunc
	maxAttempts int
}

// RetrieveOption tunes the poll loop
type RetrieveOption func(*retrieveOptions)

// WithPollWait sets the delay before each poll
func WithPollWait(d time.Duration) RetrieveOption {
	return func(o *retrieveOptions) { o.pollWait = d }
}

// WithOnUpdate registers a callback run after every poll, terminal one included
func WithOnUpdate(fn UpdateFunc) RetrieveOption {
	return func(o *retrieveOptions) { o.onUpdate = fn }
}

// WithMaxAttempts bounds the number of polls. Zero, the default, polls forever.
func WithMaxAttempts(n int) RetrieveOption {
	return func(o *retrieveOptions) { o.maxAttempts = n }
}

// Retrieve waits, polls and repeats until token leaves the pending statuses.
// Without WithMaxAttempts or a context deadline the loop has no bound.
// Service and unexpected-response errors end the loop immediately.
func (c *Client) Retrieve(ctx context.Context, token string, opts ...RetrieveOption) (*ImageResponse, error) {
	o := retrieveOptions{pollWait: c.cfg.PollWait}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	var last *ImageResponse
	for attempt := 1; ; attempt++ {
		if err := c.sleep(ctx, o.pollWait); err != nil {
			return last, err
		}

		resp, err := c.GetStatus(ctx, token)
		if err != nil {
			c.fail(ctx, token, "", start, err)
			return nil, err
		}
		last = resp

		c.publisher.Notify(ctx, observer.Event{
			Type:     observer.StatusPolled,
			Token:    token,
			Status:   resp.Status,
			Attempt:  attempt,
			Duration: time.Since(start),
		})

		if o.onUpdate != nil {
			if err := o.onUpdate(resp); err != nil {
				return resp, err
			}
		}

		if !resp.Pending() {
			c.publisher.Notify(ctx, observer.Event{
				Type:     observer.ResponseCompleted,
				Token:    token,
				Status:   resp.Status,
				Attempt:  attempt,
				Duration: time.Since(start),
			})
			return resp, nil
		}

		if o.maxAttempts > 0 && attempt >= o.maxAttempts {
			c.log.WithFields(logrus.Fields{
				"token":    token,
				"attempts": attempt,
				"status":   resp.Status,
			}).Warn("Gave up polling")
			return resp, apperrors.NewPollLimitError(token, attempt)
		}
	}
}

// RetrieveAll runs Retrieve for every token with at most concurrency loops at once
// (unlimited when concurrency <= 0). The first failure cancels the remaining loops.
// An UpdateFunc passed in opts may be called from several goroutines.
func (c *Client) RetrieveAll(ctx context.Context, tokens []string, concurrency int, opts ...RetrieveOption) (map[string]*ImageResponse, error) {
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	var mu sync.Mutex
	results := make(map[string]*ImageResponse, len(tokens))

	for _, token := range tokens {
		token := token
		g.Go(func() error {
			resp, err := c.Retrieve(gctx, token, opts...)
			if err != nil {
				return err
			}
			mu.Lock()
			results[token] = resp
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
