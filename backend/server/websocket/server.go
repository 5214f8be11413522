package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/chatroom-relay/backend/model"
	"github.com/adwski/chatroom-relay/backend/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 9000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultSendBufferSize              = 64

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SessionService interface {
		DefaultRoom() model.RoomID
		OpenSession(roomID model.RoomID, conn session.Conn) (*session.Session, error)
		Deliver(ctx context.Context, roomID model.RoomID, s *session.Session, payload []byte) error
		CloseSession(roomID model.RoomID, s *session.Session) error
	}

	Config struct {
		Logger         *zerolog.Logger
		SessionService SessionService
		ListenAddr     string
		MaxMessageSize int64
		PingInterval   time.Duration
		PongWait       time.Duration
		SendBufferSize int
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		logger zerolog.Logger

		maxMessageSize int64
		pingInterval   time.Duration
		pongWait       time.Duration
		sendBufferSize int
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:    cfg.SessionService,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		maxMessageSize: orDefault(cfg.MaxMessageSize, defaultWebSocketMaxMessageSize),
		pingInterval:   orDefault(cfg.PingInterval, defaultPingInterval),
		pongWait:       orDefault(cfg.PongWait, defaultPongWait),
		sendBufferSize: orDefault(cfg.SendBufferSize, defaultSendBufferSize),
	}
	if srv.pongWait <= srv.pingInterval {
		srv.pongWait = srv.pingInterval + defaultPongWait - defaultPingInterval
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", srv.chat)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func orDefault[T int | int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) chat(w http.ResponseWriter, r *http.Request) {
	ws, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	roomID := srv.svc.DefaultRoom()
	ctx, cancel := context.WithCancel(context.Background()) // lives as long as the connection
	conn := newConn(ctx, srv.sendBufferSize)

	s, err := srv.svc.OpenSession(roomID, conn)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to open session")
		cancel()
		webSocketCloser(ws, websocket.CloseInternalServerErr, "", &srv.logger)
		_ = ws.Close()
		return
	}

	logger := srv.logger.With().
		Uint64("roomID", uint64(roomID)).
		Uint64("sessionID", uint64(s.ID())).
		Str("connID", uuid.NewString()).
		Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("session opened")

	go srv.handleWSConn(ctx, cancel, ws, conn, roomID, s, &logger)
}

func (srv *Server) destroySession(roomID model.RoomID, s *session.Session, logger *zerolog.Logger) {
	if err := srv.svc.CloseSession(roomID, s); err != nil {
		logger.Error().Err(err).Msg("failed to close session")
		return
	}
	logger.Debug().Msg("session ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	ws *websocket.Conn,
	conn *wsConn,
	roomID model.RoomID,
	s *session.Session,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, ws, conn, roomID, s, logger)
		cancel()
	}()
	go func() {
		srv.webSocketSender(ctx, wg, ws, conn, logger)
		cancel()
	}()

	wg.Wait()
	if !conn.closeSent {
		webSocketCloser(ws, websocket.CloseNormalClosure, "", logger)
	}
	if err := ws.Close(); err != nil {
		logger.Debug().Err(err).Msg("failed to close websocket connection")
	}
	srv.destroySession(roomID, s, logger)
}

func (srv *Server) webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	ws *websocket.Conn,
	conn *wsConn,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(srv.pingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-conn.closing:
			logger.Debug().Int("code", conn.code).Str("reason", conn.reason).Msg("closing connection")
			if !flush(ws, conn, logger) {
				break SendLoop
			}
			webSocketCloser(ws, conn.code, conn.reason, logger)
			conn.closeSent = true
			// let the receiver observe the peer's close frame, or time out
			if err := ws.SetReadDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline)); err != nil {
				logger.Error().Err(err).Msg("failed to set websocket read deadline")
			}
			break SendLoop
		case <-pingTicker.C:
			wsErr := ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = ws.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
				break SendLoop
			}
			logger.Trace().Msg("ping sent")

		case msg := <-conn.tx:
			if err := writeText(ws, msg); err != nil {
				logger.Error().Err(err).Msg("failed to write outgoing message")
				break SendLoop
			}
		}
	}
}

// flush writes messages queued before the close request.
func flush(ws *websocket.Conn, conn *wsConn, logger *zerolog.Logger) bool {
	for {
		select {
		case msg := <-conn.tx:
			if err := writeText(ws, msg); err != nil {
				logger.Error().Err(err).Msg("failed to write outgoing message")
				return false
			}
		default:
			return true
		}
	}
}

func writeText(ws *websocket.Conn, msg []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return fmt.Errorf("failed to set websocket write deadline: %w", err)
	}
	wsW, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("failed to get websocket text writer: %w", err)
	}
	if _, err = wsW.Write(msg); err != nil {
		return err
	}
	return wsW.Close()
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	ws *websocket.Conn,
	conn *wsConn,
	roomID model.RoomID,
	s *session.Session,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	ws.SetReadLimit(srv.maxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	}
	ws.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(srv.pongWait)
	})
	err := readDeadLineFunc(srv.pongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, wsErr := ws.ReadMessage()
			if wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					session.CloseCodeKicked,
					session.CloseCodeBadPayload) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Warn().Err(wsErr).Msg("connection terminated")
				}
				break RecvLoop
			}

			if conn.isClosing() {
				// keep reading until the peer acknowledges the close
				logger.Debug().Msg("dropping message from closing connection")
				continue
			}
			if wsErr = srv.svc.Deliver(ctx, roomID, s, msg); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to deliver incoming message")
				break RecvLoop
			}
		}
	}
}

func webSocketCloser(ws *websocket.Conn, code int, reason string, logger *zerolog.Logger) {
	wsErr := ws.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
		return
	}
	wsErr = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to write close message")
	}
}
