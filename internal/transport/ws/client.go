package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"starforge.io/internal/protocol"
)

// RejectedError is returned by Dial when the authority refuses the HELLO.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s: %s", e.Code, e.Message)
}

// Client is the peer side of a connection to an authority.
type Client struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	// OnCorrection and OnAck are optional and run on the Run goroutine.
	OnCorrection func(protocol.CorrectionMsg)
	OnAck        func(protocol.AckMsg)
}

// Dial connects, sends HELLO and waits for WELCOME.
func Dial(ctx context.Context, url, name string, spectate bool, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, log: logger}

	hello := protocol.HelloMsg{
		Type:              protocol.TypeHello,
		ProtocolVersion:   protocol.Version,
		SupportedVersions: []string{protocol.Version},
		ClientName:        name,
		Spectate:          spectate,
	}
	if err := c.writeJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if err := json.Unmarshal(msg, &c.welcome); err != nil {
			conn.Close()
			return nil, fmt.Errorf("decode WELCOME: %w", err)
		}
	case protocol.TypeAck:
		var ack protocol.AckMsg
		_ = json.Unmarshal(msg, &ack)
		conn.Close()
		return nil, &RejectedError{Code: ack.Code, Message: ack.Message}
	default:
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }

// Run reads until the connection closes or ctx is done, forwarding every
// REPLICATE into sink in arrival order.
func (c *Client) Run(ctx context.Context, sink chan<- protocol.ReplicateMsg) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeReplicate:
			var rep protocol.ReplicateMsg
			if err := json.Unmarshal(msg, &rep); err != nil {
				c.log.Printf("[peer] bad REPLICATE: %v", err)
				continue
			}
			select {
			case sink <- rep:
			case <-ctx.Done():
				return ctx.Err()
			}
		case protocol.TypeCorrection:
			var corr protocol.CorrectionMsg
			if err := json.Unmarshal(msg, &corr); err != nil {
				continue
			}
			if c.OnCorrection != nil {
				c.OnCorrection(corr)
			}
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if c.OnAck != nil {
				c.OnAck(ack)
			} else if ack.Code != "" {
				c.log.Printf("[peer] %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
			}
		}
	}
}

// SendInput is safe to call concurrently with Run.
func (c *Client) SendInput(tick uint64, throttles map[string]float64) error {
	return c.writeJSON(protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Throttles:       throttles,
	})
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}
