package signaling

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Client talks to a relay Hub over HTTP. Send publishes a batch; received
// batches arrive on the Batches channel until Close is called.
type Client struct {
	base string
	id   string
	http *http.Client
	// Batches delivers every batch relayed by other peers. It is closed
	// when the client shuts down.
	Batches chan []byte

	retryWait time.Duration
	done      chan struct{}
	once      sync.Once
}

type clientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its timeout must
// exceed the hub's poll wait, or every idle poll turns into an error.
func WithHTTPClient(hc *http.Client) clientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetryWait sets the pause before re-polling after a transport error.
func WithRetryWait(d time.Duration) clientOption {
	return func(c *Client) {
		c.retryWait = d
	}
}

// NewClient connects id to the relay at base (e.g. "http://host:port/relay")
// and starts polling for inbound batches.
func NewClient(base, id string, opts ...clientOption) (*Client, error) {
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	c := &Client{
		base:      base,
		id:        id,
		http:      &http.Client{Timeout: 30 * time.Second},
		Batches:   make(chan []byte, mailboxSize),
		retryWait: 500 * time.Millisecond,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.poll()
	return c, nil
}

// Send relays one batch to every other peer on the hub.
func (c *Client) Send(batch []byte) error {
	resp, err := c.http.Post(c.endpoint(), "application/json", bytes.NewReader(batch))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("relay answered status %d", resp.StatusCode)
	}
	return nil
}

// Close stops polling and closes Batches. The relay itself stays up;
// leaving the mesh and tearing down the relay are independent operations.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *Client) poll() {
	defer close(c.Batches)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		batch, err := c.pollOnce()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-time.After(c.retryWait):
			}
			continue
		}
		if batch == nil {
			continue // idle poll
		}
		select {
		case c.Batches <- batch:
		case <-c.done:
			return
		}
	}
}

func (c *Client) pollOnce() ([]byte, error) {
	resp, err := c.http.Get(c.endpoint())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("relay answered status %d", resp.StatusCode)
	}
}

func (c *Client) endpoint() string {
	return c.base + "?id=" + url.QueryEscape(c.id)
}
