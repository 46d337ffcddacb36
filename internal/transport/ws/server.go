package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itsthedevman/esm-arma/internal/auth"
	"github.com/itsthedevman/esm-arma/internal/dispatch"
	"github.com/itsthedevman/esm-arma/internal/protocol"
	"github.com/itsthedevman/esm-arma/internal/schema"
)

// Frame-level error codes carried by ERROR frames.
const (
	ErrBadFrame   = "BAD_FRAME"
	ErrBadVersion = "BAD_VERSION"
)

const (
	helloTimeout    = 5 * time.Second
	readTimeout     = 90 * time.Second
	writeTimeout    = 5 * time.Second
	defaultInFlight = 16
	maxInFlight     = 256
)

type Options struct {
	Dispatcher *dispatch.Dispatcher
	Signer     *auth.Signer
	Frames     *schema.Compiled
	Logger     *log.Logger

	// ServerInfo fills the server fields of WELCOME.
	ServerInfo func() (serverID, communityID string)

	// RequestTimeout bounds each dispatch. It is detached from the
	// connection so a client leaving does not abort a mutation.
	RequestTimeout time.Duration
}

type Stats struct {
	Connections      uint64
	Rejected         uint64
	Requests         uint64
	BadFrames        uint64
	DroppedResponses uint64
}

type Server struct {
	dispatcher *dispatch.Dispatcher
	signer     *auth.Signer
	frames     *schema.Compiled
	log        *log.Logger
	info       func() (string, string)
	timeout    time.Duration

	upgrader websocket.Upgrader
	inflight sync.WaitGroup

	connections atomic.Uint64
	rejected    atomic.Uint64
	requests    atomic.Uint64
	badFrames   atomic.Uint64
	dropped     atomic.Uint64
}

func NewServer(opts Options) (*Server, error) {
	if opts.Dispatcher == nil || opts.Signer == nil {
		return nil, errors.New("ws: dispatcher and signer are required")
	}
	if opts.Frames == nil {
		c, err := opts.Dispatcher.Registry().Compile()
		if err != nil {
			return nil, err
		}
		opts.Frames = c
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ServerInfo == nil {
		opts.ServerInfo = func() (string, string) { return "", "" }
	}
	return &Server{
		dispatcher: opts.Dispatcher,
		signer:     opts.Signer,
		frames:     opts.Frames,
		log:        opts.Logger,
		info:       opts.ServerInfo,
		timeout:    opts.RequestTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // game servers are not browsers
		},
	}, nil
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections:      s.connections.Load(),
		Rejected:         s.rejected.Load(),
		Requests:         s.requests.Load(),
		BadFrames:        s.badFrames.Load(),
		DroppedResponses: s.dropped.Load(),
	}
}

// Wait blocks until every dispatched request has finished.
func (s *Server) Wait() { s.inflight.Wait() }

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id, limit, ok := s.handshake(conn)
		if !ok {
			s.rejected.Add(1)
			return
		}
		s.connections.Add(1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, limit)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		slots := make(chan struct{}, limit)
		send := func(v any) {
			b, err := json.Marshal(v)
			if err != nil {
				s.logf("ws: encode frame: %v", err)
				return
			}
			select {
			case out <- b:
			case <-ctx.Done():
				s.dropped.Add(1)
			}
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			req, ferr := s.decodeRequest(msg)
			if ferr != nil {
				s.badFrames.Add(1)
				send(ferr)
				continue
			}
			s.requests.Add(1)

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
			req.Identity = id
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				defer func() { <-slots }()
				dctx, dcancel := context.WithTimeout(context.Background(), s.timeout)
				resp := s.dispatcher.Dispatch(dctx, req)
				dcancel()
				send(protocol.ResponseMsg{
					Type:            protocol.TypeResponse,
					ProtocolVersion: protocol.Version,
					ID:              resp.ID,
					Name:            resp.Name,
					Code:            resp.Code,
					Params:          resp.Params,
				})
			}()
		}
	}
}

// decodeRequest turns a text frame into a dispatch request, or into the
// ERROR frame that rejects it.
func (s *Server) decodeRequest(msg []byte) (dispatch.Request, *protocol.ErrorMsg) {
	bad := func(id, code, message string) *protocol.ErrorMsg {
		return &protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, ID: id, Code: code, Message: message}
	}
	var frame any
	if err := json.Unmarshal(msg, &frame); err != nil {
		return dispatch.Request{}, bad("", ErrBadFrame, "invalid json")
	}
	var rm protocol.RequestMsg
	_ = json.Unmarshal(msg, &rm)
	if err := s.frames.ValidateFrame(frame); err != nil {
		return dispatch.Request{}, bad(rm.ID, ErrBadFrame, err.Error())
	}
	if rm.ProtocolVersion != protocol.Version {
		return dispatch.Request{}, bad(rm.ID, ErrBadVersion, "want "+protocol.Version)
	}
	params, err := protocol.DecodeParams(rm.Params)
	if err != nil {
		return dispatch.Request{}, bad(rm.ID, ErrBadFrame, "params: "+err.Error())
	}
	return dispatch.Request{ID: rm.ID, Name: rm.Name, Params: params}, nil
}

func (s *Server) handshake(conn *websocket.Conn) (dispatch.Identity, int, bool) {
	refuse := func(reason string) (dispatch.Identity, int, bool) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
		return dispatch.Identity{}, 0, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return dispatch.Identity{}, 0, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		return refuse("expected HELLO")
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return refuse("bad HELLO")
	}
	if hello.ProtocolVersion != protocol.Version {
		return refuse("bad protocol_version")
	}
	token := ""
	if hello.Auth != nil {
		token = strings.TrimSpace(hello.Auth.Token)
	}
	who, err := s.signer.Verify(token)
	if err != nil {
		s.logf("ws: handshake from %s refused: %v", conn.RemoteAddr(), err)
		return refuse("unauthorized")
	}

	limit := hello.MaxInFlight
	if limit <= 0 {
		limit = defaultInFlight
	}
	if limit > maxInFlight {
		limit = maxInFlight
	}

	id := dispatch.Identity{UID: who.UID, Admin: who.Admin, SessionID: uuid.NewString()}
	serverID, communityID := s.info()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id.SessionID,
		PlayerUID:       id.UID,
		Admin:           id.Admin,
		ServerID:        serverID,
		CommunityID:     communityID,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return dispatch.Identity{}, 0, false
	}
	s.logf("ws: session %s uid=%s admin=%v", id.SessionID, id.UID, id.Admin)
	return id, limit, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
