package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itsthedevman/esm-arma/internal/protocol"
)

var ErrClosed = errors.New("ws: connection closed")

// FrameError is a frame-level rejection returned by the server.
type FrameError struct {
	Code    string
	Message string
}

func (e *FrameError) Error() string { return "ws: " + e.Code + ": " + e.Message }

type reply struct {
	resp protocol.ResponseMsg
	err  error
}

// Client speaks the request/response protocol over one connection.
// Calls may be issued concurrently.
type Client struct {
	conn    *websocket.Conn
	Welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	err     error
	done    chan struct{}
}

// Dial connects to url and completes the HELLO/WELCOME handshake.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "esm-client",
		Auth:            &protocol.HelloAuth{Token: token},
	}
	if err := writeJSON(conn, hello); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ws: handshake: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("ws: handshake: unexpected frame %s", msg)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		Welcome: welcome,
		pending: map[string]chan reply{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		var (
			id string
			r  reply
		)
		switch base.Type {
		case protocol.TypeResponse:
			if err := json.Unmarshal(msg, &r.resp); err != nil {
				continue
			}
			id = r.resp.ID
		case protocol.TypeError:
			var em protocol.ErrorMsg
			if err := json.Unmarshal(msg, &em); err != nil {
				continue
			}
			id = em.ID
			r.err = &FrameError{Code: em.Code, Message: em.Message}
		default:
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ok {
			ch <- r
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	for id, ch := range c.pending {
		ch <- reply{err: c.err}
		delete(c.pending, id)
	}
}

// Call sends one REQUEST and waits for its RESPONSE.
func (c *Client) Call(ctx context.Context, name string, params ...protocol.Value) (protocol.ResponseMsg, error) {
	raw, err := protocol.EncodeParams(params)
	if err != nil {
		return protocol.ResponseMsg{}, err
	}
	return c.CallRaw(ctx, protocol.RequestMsg{
		Type:            protocol.TypeRequest,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Params:          raw,
	})
}

// CallRaw sends req as is, filling in an id when it has none.
func (c *Client) CallRaw(ctx context.Context, req protocol.RequestMsg) (protocol.ResponseMsg, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Params == nil {
		req.Params = []json.RawMessage{}
	}
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return protocol.ResponseMsg{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeJSON(c.conn, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return protocol.ResponseMsg{}, err
	}

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		c.forget(req.ID)
		return protocol.ResponseMsg{}, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
