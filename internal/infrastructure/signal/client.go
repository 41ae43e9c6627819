package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"voicemesh/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const clientWriteTimeout = 10 * time.Second

// Client is the participant side of the signaling link. It owns the
// websocket, serializes outbound writes, and delivers inbound envelopes on
// the Events channel until the connection dies or Close is called.
type Client struct {
	conn   *websocket.Conn
	events chan Envelope
	logger *zap.SugaredLogger

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Dial connects to the relay, retrying transient failures with backoff. The
// bearer token travels as a query parameter because browser websocket clients
// cannot set headers, and the relay accepts both forms.
func Dial(ctx context.Context, relayURL, token string, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	var conn *websocket.Conn
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		c, _, dialErr := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	cl := &Client{
		conn:   conn,
		events: make(chan Envelope, 32),
		logger: logger.Sugar(),
		closed: make(chan struct{}),
	}
	go cl.readLoop()
	return cl, nil
}

// Events delivers envelopes from the relay. The channel is closed when the
// connection ends.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var msg Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debugw("signal read loop ended", "error", err)
			}
			return
		}
		select {
		case c.events <- msg:
		case <-c.closed:
			return
		}
	}
}

func (c *Client) send(msg Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Join announces the participant in a voice room.
func (c *Client) Join(room string) error {
	return c.send(Envelope{Type: TypeJoin, Room: room})
}

// Leave announces departure from the current room.
func (c *Client) Leave(room string) error {
	return c.send(Envelope{Type: TypeLeave, Room: room})
}

// SendOffer forwards a session description to one peer via the relay.
func (c *Client) SendOffer(target string, sdp json.RawMessage) error {
	return c.send(Envelope{Type: TypeOffer, Target: target, Payload: sdp})
}

// SendAnswer forwards an answer description to one peer via the relay.
func (c *Client) SendAnswer(target string, sdp json.RawMessage) error {
	return c.send(Envelope{Type: TypeAnswer, Target: target, Payload: sdp})
}

// SendCandidate forwards a connectivity candidate to one peer via the relay.
func (c *Client) SendCandidate(target string, candidate json.RawMessage) error {
	return c.send(Envelope{Type: TypeICECandidate, Target: target, Payload: candidate})
}

// ShareStarted tells the relay this participant began sharing a screen.
func (c *Client) ShareStarted(hasAudio bool) error {
	return c.send(Envelope{
		Type:    TypeScreenShareStarted,
		Payload: mustMarshal(ScreenSharePayload{HasAudio: hasAudio}),
	})
}

// ShareStopped tells the relay this participant stopped sharing.
func (c *Client) ShareStopped() error {
	return c.send(Envelope{Type: TypeScreenShareStopped})
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
