package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
)

const (
	maxEventSize      = 8 << 20
	reconnectBaseWait = time.Second
	reconnectMaxWait  = 30 * time.Second
)

var errStreamClosed = errors.New("event stream closed by host")

// Subscribe opens the host's server-sent event stream and yields the events
// the judge cares about. The sequence ends on the first error, which is yielded.
func (c *Client) Subscribe(ctx context.Context) iter.Seq2[domain.Event, error] {
	return c.subscribe(ctx, nil)
}

// subscribe calls onOpen once the host accepted the stream.
func (c *Client) subscribe(ctx context.Context, onOpen func()) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/event"), nil)
		if err != nil {
			yield(domain.Event{}, fmt.Errorf("build event request: %w", err))
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.stream.Do(req)
		if err != nil {
			yield(domain.Event{}, fmt.Errorf("open event stream: %w", err))
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			yield(domain.Event{}, fmt.Errorf("%w: event stream returned %d", ErrHostStatus, resp.StatusCode))
			return
		}
		if onOpen != nil {
			onOpen()
		}

		for payload, err := range readSSE(resp.Body) {
			if err != nil {
				yield(domain.Event{}, err)
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(payload), &we); err != nil {
				c.logger.Debug("Skipping undecodable event", "error", err)
				continue
			}
			ev, ok := we.toDomain()
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
		yield(domain.Event{}, errStreamClosed)
	}
}

// Events keeps a subscription open until ctx is done, reconnecting with
// exponential backoff. onConnected, if set, is told about stream state changes.
func (c *Client) Events(ctx context.Context, onConnected func(bool)) <-chan domain.Event {
	out := make(chan domain.Event, 64)
	go func() {
		defer close(out)
		wait := reconnectBaseWait
		for ctx.Err() == nil {
			connected := false
			onOpen := func() {
				connected = true
				wait = reconnectBaseWait
				c.logger.Info("Host event stream connected")
				if onConnected != nil {
					onConnected(true)
				}
			}
			for ev, err := range c.subscribe(ctx, onOpen) {
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Warn("Host event stream interrupted", "error", err, "retry_in", wait)
					}
					break
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if connected && onConnected != nil {
				onConnected(false)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait *= 2
			if wait > reconnectMaxWait {
				wait = reconnectMaxWait
			}
		}
	}()
	return out
}

// readSSE yields the data payload of each server-sent event in r.
func readSSE(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

		var data []string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if len(data) == 0 {
					continue
				}
				payload := strings.Join(data, "\n")
				data = data[:0]
				if !yield(payload, nil) {
					return
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read event stream: %w", err))
		}
	}
}
