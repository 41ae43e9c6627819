package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/pkg/config"
	pkglog "voicemesh/pkg/logger"
	"voicemesh/pkg/tracing"
	"voicemesh/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin allow-list is enforced by the HTTP layer
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// connection is one participant's signaling link. Writes are serialized by mu
// because broadcasts and relays target the same *websocket.Conn from several
// handler goroutines.
type connection struct {
	conn     *websocket.Conn
	connID   domain.ConnectionID
	identity domain.Identity
	limiter  *rate.Limiter

	writeMu sync.Mutex // serializes writes to conn

	mu   sync.Mutex
	room domain.RoomID // current voice room, empty if none
}

func (c *connection) currentRoom() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *connection) setRoom(room domain.RoomID) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

// Server is the signaling relay: the authoritative voice-room registry plus
// an opaque forwarder for session descriptions and connectivity candidates.
type Server struct {
	rooms      ports.RoomService
	membership ports.MembershipService
	metrics    *monitoring.PrometheusCollector

	mu          sync.RWMutex
	connections map[domain.UserID]*connection

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	catchUpDelay time.Duration
	maxMsgSize   int64
	newLimiter   func() *rate.Limiter

	logger *zap.SugaredLogger
	ctxLog *pkglog.ContextLogger
}

func NewServer(
	cfg *config.Config,
	rooms ports.RoomService,
	membership ports.MembershipService,
	metrics *monitoring.PrometheusCollector,
	logger *zap.Logger,
) *Server {
	return &Server{
		rooms:        rooms,
		membership:   membership,
		metrics:      metrics,
		connections:  make(map[domain.UserID]*connection),
		pingInterval: cfg.Signal.PingInterval,
		pongTimeout:  cfg.Signal.PongTimeout,
		writeTimeout: cfg.Signal.WriteTimeout,
		catchUpDelay: cfg.Signal.CatchUpDelay,
		maxMsgSize:   cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		newLimiter:   middleware.NewSignalMessageLimiter(cfg),
		logger:       logger.Sugar(),
		ctxLog:       pkglog.NewContextLogger(logger),
	}
}

// HandleWebSocket upgrades an authenticated request and runs the connection's
// read loop until disconnect.
func (s *Server) HandleWebSocket(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err, "user_id", identity.UserID)
		return
	}
	defer conn.Close()

	cl := &connection{
		conn:     conn,
		connID:   domain.ConnectionID(utils.GenerateConnectionID()),
		identity: identity,
		limiter:  s.newLimiter(),
	}

	s.mu.Lock()
	old, reconnect := s.connections[identity.UserID]
	if reconnect && old != nil {
		// The previous connection is no longer on record; its read loop will
		// exit and must not tear down the user's registration.
		old.conn.Close()
	}
	s.connections[identity.UserID] = cl
	s.mu.Unlock()

	s.metrics.RecordConnection(reconnect)
	s.logger.Infow("participant connected", "user_id", identity.UserID, "reconnect", reconnect)

	if s.maxMsgSize > 0 {
		conn.SetReadLimit(s.maxMsgSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Envelope, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var msg Envelope
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			// The select below can exit on a ping failure while a parsed
			// message is still in hand; done releases the reader then.
			select {
			case messageChan <- msg:
			case <-done:
				return
			}
		}
	}()

loop:
	for {
		select {
		case msg := <-messageChan:
			s.handleMessage(c.Request.Context(), cl, msg)

		case <-pingTicker.C:
			cl.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			cl.writeMu.Unlock()
			if err != nil {
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debugw("read error", "user_id", identity.UserID, "error", err)
			}
			break loop
		}
	}

	s.disconnect(cl)
}

// disconnect performs the implicit leave, but only when the disconnecting
// connection is still the one on record: the user may have migrated to a new
// connection without an explicit leave.
func (s *Server) disconnect(cl *connection) {
	s.mu.Lock()
	current, ok := s.connections[cl.identity.UserID]
	stillCurrent := ok && current.connID == cl.connID
	if stillCurrent {
		delete(s.connections, cl.identity.UserID)
	}
	s.mu.Unlock()

	if !stillCurrent {
		return
	}

	if room := cl.currentRoom(); room != "" {
		s.handleLeave(context.Background(), cl, room)
	}
	s.logger.Infow("participant disconnected", "user_id", cl.identity.UserID)
}

// handleMessage dispatches one inbound envelope. Malformed messages are
// dropped without a reply; only authorization failures earn an explicit
// rejection, and only toward the caller.
func (s *Server) handleMessage(ctx context.Context, cl *connection, msg Envelope) {
	if cl.limiter != nil && !cl.limiter.Allow() {
		s.drop(cl, "rate_limited")
		return
	}

	ctx = pkglog.WithUserID(ctx, string(cl.identity.UserID))
	ctx, span := tracing.TraceSignalMessage(ctx, string(msg.Type), string(cl.identity.UserID))
	defer span.End()

	switch msg.Type {
	case TypeJoin:
		s.handleJoin(ctx, cl, msg)
	case TypeLeave:
		room := domain.RoomID(msg.Room)
		if room == "" {
			room = cl.currentRoom()
		}
		if room == "" {
			return // leave outside any room is a no-op
		}
		s.handleLeave(ctx, cl, room)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		s.handleRelay(ctx, cl, msg)
	case TypeScreenShareStarted:
		s.handleShareStarted(ctx, cl, msg)
	case TypeScreenShareStopped:
		s.handleShareStopped(ctx, cl)
	default:
		s.drop(cl, "unknown_type")
	}
}

func (s *Server) handleJoin(ctx context.Context, cl *connection, msg Envelope) {
	start := time.Now()
	roomID := domain.RoomID(msg.Room)
	userID := cl.identity.UserID

	if roomID == "" {
		s.drop(cl, "missing_room")
		return
	}
	if !s.membership.IsChannelMember(ctx, userID, roomID) {
		s.reject(cl, RejectCodeJoin, "not a channel member")
		return
	}

	snapshot, err := s.rooms.Join(ctx, roomID, domain.VoiceParticipant{
		ID:           userID,
		DisplayName:  cl.identity.DisplayName,
		ConnectionID: cl.connID,
		JoinedAt:     time.Now(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			s.reject(cl, RejectCodeJoin, "room is full")
			return
		}
		tracing.RecordError(ctx, err)
		s.ctxLog.LogError(ctx, err, "join failed", zap.String("room", string(roomID)))
		s.drop(cl, "invalid_join")
		return
	}
	cl.setRoom(roomID)

	users := make([]UserInfo, 0, len(snapshot))
	for _, p := range snapshot {
		users = append(users, UserInfo{ID: string(p.ID), Name: p.DisplayName})
	}
	s.sendToConnection(cl, Envelope{
		Type:    TypeExistingUsers,
		Room:    string(roomID),
		Payload: mustMarshal(ExistingUsersPayload{Users: users}),
	})

	// Pre-existing participants only learn the newcomer's identity; the
	// newcomer initiates toward each of them, never the other way round.
	joined := Envelope{
		Type:    TypeUserJoined,
		Room:    string(roomID),
		Payload: mustMarshal(UserInfo{ID: string(userID), Name: cl.identity.DisplayName}),
	}
	for _, p := range snapshot {
		s.sendToUser(p.ID, joined)
	}

	s.broadcastRoster(ctx, roomID)
	s.metrics.RecordJoin(roomID, len(snapshot)+1, time.Since(start))

	s.notifyActiveSharers(ctx, cl, roomID)
}

// notifyActiveSharers tells a late joiner who is sharing, then, after the
// catch-up delay lets the base sessions establish, instructs each sharer to
// push one extra renegotiation aimed only at the newcomer.
func (s *Server) notifyActiveSharers(ctx context.Context, cl *connection, roomID domain.RoomID) {
	sharers, err := s.rooms.Sharers(ctx, roomID)
	if err != nil || len(sharers) == 0 {
		return
	}

	infos := make([]SharerInfo, 0, len(sharers))
	for _, sh := range sharers {
		if sh.UserID == cl.identity.UserID {
			continue
		}
		infos = append(infos, SharerInfo{ID: string(sh.UserID), HasAudio: sh.HasAudio})
	}
	if len(infos) == 0 {
		return
	}

	s.sendToConnection(cl, Envelope{
		Type:    TypeActiveScreenSharers,
		Room:    string(roomID),
		Payload: mustMarshal(ActiveScreenSharersPayload{Sharers: infos}),
	})

	joinerID := cl.identity.UserID
	time.AfterFunc(s.catchUpDelay, func() {
		bg := context.Background()
		if !s.rooms.IsMember(bg, roomID, joinerID) {
			return // joiner already gone
		}
		current, err := s.rooms.Sharers(bg, roomID)
		if err != nil {
			return
		}
		for _, sh := range current {
			if sh.UserID == joinerID {
				continue
			}
			s.sendToUser(sh.UserID, Envelope{
				Type:   TypeRenegotiateScreen,
				Room:   string(roomID),
				Target: string(joinerID),
			})
			s.metrics.RecordCatchUp()
		}
	})
}

func (s *Server) handleLeave(ctx context.Context, cl *connection, roomID domain.RoomID) {
	userID := cl.identity.UserID

	wasSharing := false
	if sharers, err := s.rooms.Sharers(ctx, roomID); err == nil {
		for _, sh := range sharers {
			if sh.UserID == userID {
				wasSharing = true
			}
		}
	}

	remaining, left, err := s.rooms.Leave(ctx, roomID, userID)
	if err != nil || !left {
		return
	}
	cl.setRoom("")
	if wasSharing {
		s.metrics.RecordShareStopped()
	}

	leftMsg := Envelope{
		Type:    TypeUserLeft,
		Room:    string(roomID),
		Payload: mustMarshal(UserInfo{ID: string(userID), Name: cl.identity.DisplayName}),
	}
	for _, p := range remaining {
		s.sendToUser(p.ID, leftMsg)
	}

	s.broadcastRoster(ctx, roomID)
	s.metrics.RecordLeave(roomID, len(remaining))
}

// handleRelay forwards an offer, answer or candidate to its target without
// inspecting the payload. Both ends must be members of the sender's room.
func (s *Server) handleRelay(ctx context.Context, cl *connection, msg Envelope) {
	roomID := cl.currentRoom()
	if roomID == "" || msg.Target == "" || len(msg.Payload) == 0 {
		s.drop(cl, "malformed_relay")
		return
	}

	targetID := domain.UserID(msg.Target)
	if !s.rooms.IsMember(ctx, roomID, cl.identity.UserID) || !s.rooms.IsMember(ctx, roomID, targetID) {
		s.drop(cl, "not_in_room")
		return
	}

	delivered := s.sendToUser(targetID, Envelope{
		Type:    msg.Type,
		Room:    string(roomID),
		From:    string(cl.identity.UserID),
		Payload: msg.Payload,
	})
	if delivered {
		s.metrics.RecordRelay(msg.Type)
	} else {
		s.drop(cl, "target_not_connected")
	}
}

func (s *Server) handleShareStarted(ctx context.Context, cl *connection, msg Envelope) {
	roomID := cl.currentRoom()
	if roomID == "" {
		s.drop(cl, "not_in_room")
		return
	}

	var payload ScreenSharePayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			s.drop(cl, "malformed_share")
			return
		}
	}

	err := s.rooms.StartShare(ctx, roomID, cl.identity.UserID, payload.HasAudio)
	switch {
	case errors.Is(err, domain.ErrScreenShareDisabled):
		s.reject(cl, RejectCodeShare, "screen sharing is disabled for this channel")
		return
	case errors.Is(err, domain.ErrAlreadySharing):
		s.reject(cl, RejectCodeShare, "already sharing")
		return
	case err != nil:
		s.drop(cl, "invalid_share")
		return
	}
	s.metrics.RecordShareStarted()

	s.broadcastToOthers(ctx, roomID, cl.identity.UserID, Envelope{
		Type:    TypeScreenShareStarted,
		Room:    string(roomID),
		From:    string(cl.identity.UserID),
		Payload: mustMarshal(payload),
	})
}

func (s *Server) handleShareStopped(ctx context.Context, cl *connection) {
	roomID := cl.currentRoom()
	if roomID == "" {
		s.drop(cl, "not_in_room")
		return
	}
	if err := s.rooms.StopShare(ctx, roomID, cl.identity.UserID); err != nil {
		s.drop(cl, "invalid_share_stop")
		return
	}
	s.metrics.RecordShareStopped()

	s.broadcastToOthers(ctx, roomID, cl.identity.UserID, Envelope{
		Type: TypeScreenShareStopped,
		Room: string(roomID),
		From: string(cl.identity.UserID),
	})
}

func (s *Server) broadcastRoster(ctx context.Context, roomID domain.RoomID) {
	roster, err := s.rooms.Roster(ctx, roomID)
	if err != nil {
		return // room destroyed; nobody left to notify
	}

	users := make([]UserInfo, 0, len(roster))
	for _, p := range roster {
		users = append(users, UserInfo{ID: string(p.ID), Name: p.DisplayName})
	}
	rosterMsg := Envelope{
		Type:    TypeRoomRosterUpdate,
		Room:    string(roomID),
		Payload: mustMarshal(RoomRosterPayload{Users: users}),
	}
	countMsg := Envelope{
		Type:    TypeRoomCount,
		Room:    string(roomID),
		Payload: mustMarshal(RoomCountPayload{Count: len(roster)}),
	}
	for _, p := range roster {
		s.sendToUser(p.ID, rosterMsg)
		s.sendToUser(p.ID, countMsg)
	}
}

func (s *Server) broadcastToOthers(ctx context.Context, roomID domain.RoomID, except domain.UserID, msg Envelope) {
	roster, err := s.rooms.Roster(ctx, roomID)
	if err != nil {
		return
	}
	for _, p := range roster {
		if p.ID != except {
			s.sendToUser(p.ID, msg)
		}
	}
}

func (s *Server) sendToUser(userID domain.UserID, msg Envelope) bool {
	s.mu.RLock()
	cl, ok := s.connections[userID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.sendToConnection(cl, msg)
}

func (s *Server) sendToConnection(cl *connection, msg Envelope) bool {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	cl.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := cl.conn.WriteJSON(msg); err != nil {
		s.logger.Debugw("write failed", "user_id", cl.identity.UserID, "type", msg.Type, "error", err)
		return false
	}
	return true
}

// reject returns an explicit error to the caller only; it is never broadcast.
func (s *Server) reject(cl *connection, code, reason string) {
	s.metrics.RecordRejection(reason)
	s.sendToConnection(cl, Envelope{
		Type:    TypeError,
		Payload: mustMarshal(ErrorPayload{Code: code, Reason: reason}),
	})
}

// drop records a silently discarded message. No reply is sent so probing
// requests learn nothing about rooms or membership.
func (s *Server) drop(cl *connection, reason string) {
	s.metrics.RecordDrop(reason)
	s.logger.Debugw("dropped signal", "user_id", cl.identity.UserID, "reason", reason)
}

// ConnectedUsers returns the users currently holding a signaling connection.
func (s *Server) ConnectedUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserID, 0, len(s.connections))
	for id := range s.connections {
		out = append(out, id)
	}
	return out
}
