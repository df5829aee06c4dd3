package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"starforge.io/internal/protocol"
	"starforge.io/internal/sim/blueprint"
	"starforge.io/internal/sim/tuning"
	"starforge.io/internal/sim/world"
)

// Server accepts peers for an authority world.
type Server struct {
	world *world.World
	net   tuning.Net
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, net tuning.Net, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		world: w,
		net:   net,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, out := s.handshake(conn)
		if clientID == 0 {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		limiter := s.newLimiter()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.reject(out, "", protocol.ErrProtoBadRequest, "malformed json")
				continue
			}
			if base.Type != protocol.TypeInput {
				s.reject(out, base.Type, protocol.ErrProtoBadRequest, "unexpected message type")
				continue
			}
			var in protocol.InputMsg
			if err := json.Unmarshal(msg, &in); err != nil {
				s.reject(out, base.Type, protocol.ErrProtoBadRequest, "malformed INPUT")
				continue
			}
			if in.ProtocolVersion != protocol.Version {
				s.reject(out, base.Type, protocol.ErrProtoVersion, "bad protocol_version")
				continue
			}
			if limiter != nil && !limiter.Allow() {
				s.reject(out, base.Type, protocol.ErrRateLimit, "input rate exceeded")
				continue
			}
			select {
			case s.world.Inbox() <- world.InputEnvelope{ClientID: clientID, Input: in}:
			case <-ctx.Done():
			}
		}

		// Cleanup.
		s.world.Leave() <- clientID
		s.log.Printf("[ws] client=%s disconnected", clientID)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.net.InputRatePerSec <= 0 {
		return nil
	}
	burst := s.net.InputBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.net.InputRatePerSec), burst)
}

// reject queues an ACK on the peer's outbound channel; it is dropped when the
// queue is full.
func (s *Server) reject(out chan []byte, ackFor, code, msg string) {
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Code:            code,
		Message:         msg,
		ServerTick:      s.world.CurrentTick(),
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) handshake(conn *websocket.Conn) (blueprint.ClientID, chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return 0, nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, protocol.ErrProtoBadRequest, "malformed HELLO")
		return 0, nil
	}
	if !supports(hello) {
		closeWith(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return 0, nil
	}
	name := strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "peer"
	}

	queue := s.net.SendQueue
	if queue <= 0 {
		queue = 64
	}
	out := make(chan []byte, queue)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name:     name,
		Spectate: hello.Spectate,
		Out:      out,
		Resp:     respCh,
	}
	resp := <-respCh
	if resp.Code != "" {
		closeWith(conn, resp.Code, resp.Message)
		return 0, nil
	}

	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.world.Leave() <- blueprint.ClientID(resp.Welcome.ClientID)
		return 0, nil
	}
	return blueprint.ClientID(resp.Welcome.ClientID), out
}

func supports(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

// closeWith reports a rejection as an ACK and then closes the socket.
func closeWith(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          protocol.TypeHello,
		Code:            code,
		Message:         msg,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
