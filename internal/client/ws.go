package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/veldt-labs/callbox/internal/signal"
)

const feedBuffer = 64

// Feed is a live WebSocket subscription to one identity's mailbox. The server
// drains the mailbox and pushes each message as its own frame; Feed buffers
// them until the caller consumes Messages.
type Feed struct {
	conn *websocket.Conn
	msgs chan signal.Message

	mu      sync.Mutex
	readErr error
	closed  bool
}

// DialFeed opens the push feed for identity. The caller owns the returned
// Feed and must Close it.
func (c *Client) DialFeed(ctx context.Context, identity string) (*Feed, error) {
	u := *c.base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = u.Path + "/ws"
	u.RawQuery = url.Values{"username": {identity}}.Encode()

	header := http.Header{}
	if c.cred != "" {
		header.Set("Authorization", "Bearer "+c.cred)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: dial feed: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("client: dial feed: %w", err)
	}

	f := &Feed{conn: conn, msgs: make(chan signal.Message, feedBuffer)}
	go f.readLoop()
	return f, nil
}

// Messages is closed when the feed ends; check Err afterwards.
func (f *Feed) Messages() <-chan signal.Message { return f.msgs }

// Err reports why the feed ended, nil for a local Close.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	return f.readErr
}

func (f *Feed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.conn.Close()
}

func (f *Feed) readLoop() {
	defer close(f.msgs)
	for {
		_, payload, err := f.conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			f.readErr = err
			f.mu.Unlock()
			return
		}
		var msg signal.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			// A frame that does not decode as a signal is a server bug;
			// skip it rather than killing the feed.
			continue
		}
		f.msgs <- msg
	}
}

// FeedTransport satisfies the callsession Transport with signals arriving via
// the push feed instead of HTTP polls. Send and Clear go over REST.
type FeedTransport struct {
	client *Client
	feed   *Feed
}

func NewFeedTransport(client *Client, feed *Feed) *FeedTransport {
	return &FeedTransport{client: client, feed: feed}
}

func (t *FeedTransport) Send(ctx context.Context, msg signal.Message) error {
	return t.client.Send(ctx, msg)
}

// Poll drains whatever the feed has buffered without blocking. The poll task
// still calls it on its usual interval, so tick-driven transitions keep
// working unchanged.
func (t *FeedTransport) Poll(ctx context.Context, identity string) ([]signal.Message, error) {
	var msgs []signal.Message
	for {
		select {
		case msg, ok := <-t.feed.msgs:
			if !ok {
				if err := t.feed.Err(); err != nil {
					return msgs, fmt.Errorf("client: feed closed: %w", err)
				}
				return msgs, nil
			}
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, ctx.Err()
		default:
			return msgs, nil
		}
	}
}

func (t *FeedTransport) Clear(ctx context.Context, identity string) error {
	return t.client.Clear(ctx, identity)
}
