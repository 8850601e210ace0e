package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/UttU28/voldermotDiary/internal/db"
	"github.com/UttU28/voldermotDiary/internal/metrics"
	"github.com/UttU28/voldermotDiary/internal/registry"
)

type inboundEvent struct {
	client *Client
	event  string
	data   json.RawMessage
}

// Hub owns every live connection and processes all session events on a
// single loop, so the handlers below never run concurrently with each
// other. Only the delayed replay timers fire off-loop; they go through
// sendToSession, which checks liveness under the clients lock.
type Hub struct {
	database *db.Database
	registry *registry.Registry

	mu      sync.RWMutex
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *inboundEvent
	done       chan struct{}

	replayDelay       time.Duration
	messagesPerSecond float64
	messageBurst      int

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

type Options struct {
	ReplayDelay       time.Duration
	MessagesPerSecond float64
	MessageBurst      int
}

func NewHub(database *db.Database, opts Options) *Hub {
	if opts.ReplayDelay <= 0 {
		opts.ReplayDelay = 3500 * time.Millisecond
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 100
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 200
	}
	return &Hub{
		database:          database,
		registry:          registry.New(),
		clients:           make(map[string]*Client),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		inbound:           make(chan *inboundEvent, 256),
		done:              make(chan struct{}),
		replayDelay:       opts.ReplayDelay,
		messagesPerSecond: opts.MessagesPerSecond,
		messageBurst:      opts.MessageBurst,
		timers:            make(map[string]*time.Timer),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case client := <-h.register:
			h.handleConnect(client)
		case client := <-h.unregister:
			h.handleDisconnect(client)
		case ev := <-h.inbound:
			h.dispatch(ev)
		}
	}
}

// Shutdown stops the event loop and discards pending replay timers.
func (h *Hub) Shutdown() {
	close(h.done)

	h.timersMu.Lock()
	for id, timer := range h.timers {
		timer.Stop()
		delete(h.timers, id)
	}
	h.timersMu.Unlock()
}

// Counts reports joined sessions and non-empty rooms for the liveness
// and stats surfaces.
func (h *Hub) Counts() (sessions, rooms int) {
	return h.registry.Counts()
}

// PageDeleted tells every member of a room that its page is gone. Called
// from the REST surface after the durable delete.
func (h *Hub) PageDeleted(roomID string) {
	h.broadcastRoom(roomID, "", envelope(EventPageDeleted, PageDeletedPayload{PageID: roomID}))
}

func (h *Hub) dispatch(ev *inboundEvent) {
	if len(ev.data) == 0 {
		ev.data = json.RawMessage("{}")
	}
	switch ev.event {
	case EventJoinRoom:
		h.handleJoin(ev.client, ev.data)
	case EventRequestStrokes:
		h.handleRequestStrokes(ev.client, ev.data)
	case EventStroke:
		h.handleStroke(ev.client, ev.data)
	case EventClearCanvas:
		h.handleClearCanvas(ev.client, ev.data)
	case EventDeleteStroke:
		h.handleDeleteStroke(ev.client, ev.data)
	default:
		log.Debug().Str("event", ev.event).Str("session", ev.client.sessionID).
			Msg("ignoring unknown event")
	}
}

func (h *Hub) handleConnect(c *Client) {
	h.mu.Lock()
	h.clients[c.sessionID] = c
	h.mu.Unlock()

	metrics.WsConnections.Inc()
	log.Info().Str("session", c.sessionID).Msg("client connected")

	h.sendTo(c, envelope(EventConnectionStatus, ConnectionStatusPayload{
		Status:    "connected",
		SessionID: c.sessionID,
		Message:   "Successfully connected to server",
	}))
}

func (h *Hub) handleDisconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.sessionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.sessionID)
	close(c.send)
	h.mu.Unlock()

	metrics.WsConnections.Dec()
	log.Info().Str("session", c.sessionID).Msg("client disconnected")

	sess, ok := h.registry.Detach(c.sessionID)
	if !ok || sess.RoomID == "" {
		return
	}

	h.broadcastRoom(sess.RoomID, "", envelope(EventUserLeft, PresencePayload{
		UserID:      sess.UserID,
		UsersInRoom: h.registry.MemberCount(sess.RoomID),
	}))
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var payload JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
		h.sendTo(c, envelope(EventError, ErrorPayload{Message: "Room ID is required"}))
		return
	}

	userID := payload.UserID
	if userID == "" {
		userID = c.sessionID
	}

	prev, switched := h.registry.Attach(c.sessionID, userID, payload.RoomID)
	if switched {
		log.Info().Str("session", c.sessionID).Str("room", prev.RoomID).Msg("left room")
		// The old room is told who it knew, not the identity the join
		// may have just changed to.
		h.broadcastRoom(prev.RoomID, "", envelope(EventUserLeft, PresencePayload{
			UserID:      prev.UserID,
			UsersInRoom: h.registry.MemberCount(prev.RoomID),
		}))
	}

	if err := h.database.EnsureRoom(payload.RoomID, "Page "+payload.RoomID); err != nil {
		log.Error().Str("room", payload.RoomID).Err(err).Msg("failed to ensure room")
	}
	if err := h.database.TouchRoom(payload.RoomID); err != nil {
		log.Error().Str("room", payload.RoomID).Err(err).Msg("failed to update room activity")
	}

	usersInRoom := h.registry.MemberCount(payload.RoomID)
	log.Info().Str("session", c.sessionID).Str("room", payload.RoomID).
		Int("users", usersInRoom).Msg("joined room")

	h.sendTo(c, envelope(EventRoomJoined, RoomJoinedPayload{
		RoomID:      payload.RoomID,
		UserID:      userID,
		UsersInRoom: usersInRoom,
	}))

	h.scheduleReplay(c.sessionID, payload.RoomID)

	h.broadcastRoom(payload.RoomID, c.sessionID, envelope(EventUserJoined, PresencePayload{
		UserID:      userID,
		UsersInRoom: usersInRoom,
	}))
}

// scheduleReplay snapshots the room history now and delivers it to the
// joining session after the readiness delay. The delivery target is
// looked up by session id when the timer fires; a session that is gone
// by then is simply dropped.
func (h *Hub) scheduleReplay(sessionID, roomID string) {
	strokes, err := h.database.StrokesForRoom(roomID)
	if err != nil {
		log.Error().Str("room", roomID).Err(err).Msg("failed to load strokes for replay")
		strokes = []db.Stroke{}
	}

	frame := envelope(EventLoadStrokes, LoadStrokesPayload{RoomID: roomID, Strokes: strokes})

	h.timersMu.Lock()
	if existing, ok := h.timers[sessionID]; ok {
		existing.Stop()
	}
	h.timers[sessionID] = time.AfterFunc(h.replayDelay, func() {
		h.timersMu.Lock()
		delete(h.timers, sessionID)
		h.timersMu.Unlock()

		if h.sendToSession(sessionID, frame) {
			metrics.ReplaysTotal.Inc()
			log.Info().Str("session", sessionID).Str("room", roomID).
				Int("strokes", len(strokes)).Msg("delivered stroke history")
		}
	})
	h.timersMu.Unlock()
}

func (h *Hub) handleRequestStrokes(c *Client, data json.RawMessage) {
	var payload RequestStrokesPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Str("session", c.sessionID).Err(err).Msg("malformed request-strokes payload")
		return
	}

	roomID := payload.RoomID
	if roomID == "" {
		if sess, ok := h.registry.SessionOf(c.sessionID); ok {
			roomID = sess.RoomID
		}
	}
	if roomID == "" {
		return
	}

	strokes, err := h.database.StrokesForRoom(roomID)
	if err != nil {
		log.Error().Str("room", roomID).Err(err).Msg("failed to load strokes")
		strokes = []db.Stroke{}
	}

	h.sendTo(c, envelope(EventLoadStrokes, LoadStrokesPayload{RoomID: roomID, Strokes: strokes}))
}

func (h *Hub) handleStroke(c *Client, data json.RawMessage) {
	sess, ok := h.registry.SessionOf(c.sessionID)
	if !ok || sess.RoomID == "" {
		return
	}

	var payload StrokePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Str("session", c.sessionID).Err(err).Msg("malformed stroke payload")
		return
	}

	if payload.CreatedAt == 0 {
		payload.CreatedAt = time.Now().UnixMilli()
	}
	userID := payload.UserID
	if userID == "" {
		userID = sess.UserID
	}

	// Persistence is best effort; a storage fault must not stop the relay.
	if _, err := h.database.SaveStroke(&db.Stroke{
		RoomID:    sess.RoomID,
		UserID:    userID,
		SessionID: c.sessionID,
		Points:    payload.Points,
		Color:     payload.Color,
		Width:     payload.Width,
		CreatedAt: payload.CreatedAt,
	}); err != nil {
		log.Error().Str("room", sess.RoomID).Err(err).Msg("failed to save stroke")
	} else if err := h.database.TouchRoom(sess.RoomID); err != nil {
		log.Error().Str("room", sess.RoomID).Err(err).Msg("failed to update room activity")
	}

	metrics.StrokesTotal.Inc()

	// Relay the payload as the client sent it, so fields outside the
	// persisted set (client-local stroke handles and the like) survive
	// the hop. Only the identity and timing fields are stamped on top.
	var relay map[string]any
	if err := json.Unmarshal(data, &relay); err != nil || relay == nil {
		relay = map[string]any{}
	}
	relay["createdAt"] = payload.CreatedAt
	relay["userId"] = userID
	relay["sessionId"] = c.sessionID
	h.broadcastRoom(sess.RoomID, c.sessionID, envelope(EventStroke, relay))
}

func (h *Hub) handleClearCanvas(c *Client, data json.RawMessage) {
	sess, ok := h.registry.SessionOf(c.sessionID)
	if !ok || sess.RoomID == "" {
		return
	}

	var payload ClearCanvasPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Str("session", c.sessionID).Err(err).Msg("malformed clear-canvas payload")
		return
	}

	roomID := payload.RoomID
	if roomID == "" {
		roomID = sess.RoomID
	}

	if _, err := h.database.ClearRoom(roomID); err != nil {
		log.Error().Str("room", roomID).Err(err).Msg("failed to clear room")
	}

	h.broadcastRoom(roomID, "", envelope(EventCanvasCleared, CanvasClearedPayload{
		RoomID:    roomID,
		ClearedBy: sess.UserID,
	}))
}

func (h *Hub) handleDeleteStroke(c *Client, data json.RawMessage) {
	sess, ok := h.registry.SessionOf(c.sessionID)
	if !ok || sess.RoomID == "" {
		return
	}

	var payload DeleteStrokePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Warn().Str("session", c.sessionID).Err(err).Msg("malformed delete-stroke payload")
		return
	}

	roomID := payload.RoomID
	if roomID == "" {
		roomID = sess.RoomID
	}

	// Peers only hear about the delete once it actually happened.
	deleted, err := h.database.DeleteStroke(roomID, payload.UserID, payload.CreatedAt)
	if err != nil {
		log.Error().Str("room", roomID).Err(err).Msg("failed to delete stroke")
		return
	}
	log.Info().Str("room", roomID).Str("stroke", payload.StrokeID).
		Int64("rows", deleted).Msg("deleted stroke")

	h.broadcastRoom(roomID, "", envelope(EventStrokeDeleted, StrokeDeletedPayload{
		RoomID:    roomID,
		StrokeID:  payload.StrokeID,
		UserID:    payload.UserID,
		CreatedAt: payload.CreatedAt,
		DeletedBy: sess.UserID,
	}))
}

// sendTo queues a frame for one client, dropping it when the client's
// buffer is full. A nil frame (encode failure) is a no-op.
func (h *Hub) sendTo(c *Client, frame []byte) bool {
	if frame == nil {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Warn().Str("session", c.sessionID).Msg("dropping frame for slow client")
		return false
	}
}

// sendToSession delivers to a session if it is still connected. A gone
// session is a dropped send, not an error. The lock is held across the
// send so a concurrent disconnect cannot close the channel under us;
// the send itself never blocks.
func (h *Hub) sendToSession(sessionID string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	if !ok {
		return false
	}
	return h.sendTo(c, frame)
}

// broadcastRoom fans a frame out to every member of a room, skipping
// excludeSession when non-empty. Delivery is fire-and-forget per
// recipient; a slow member never stalls the rest.
func (h *Hub) broadcastRoom(roomID, excludeSession string, frame []byte) {
	if frame == nil {
		return
	}
	for _, sessionID := range h.registry.MembersOf(roomID) {
		if sessionID == excludeSession {
			continue
		}
		h.sendToSession(sessionID, frame)
	}
}
