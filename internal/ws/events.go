package ws

import (
	"encoding/json"

	"github.com/UttU28/voldermotDiary/internal/db"
	"github.com/rs/zerolog/log"
)

// Inbound event names.
const (
	EventJoinRoom       = "join-room"
	EventRequestStrokes = "request-strokes"
	EventStroke         = "stroke"
	EventClearCanvas    = "clear-canvas"
	EventDeleteStroke   = "delete-stroke"
)

// Outbound event names.
const (
	EventConnectionStatus = "connection-status"
	EventRoomJoined       = "room-joined"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventLoadStrokes      = "load-strokes"
	EventCanvasCleared    = "canvas-cleared"
	EventStrokeDeleted    = "stroke-deleted"
	EventPageDeleted      = "page-deleted"
	EventError            = "error"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads.

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type RequestStrokesPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type StrokePayload struct {
	Points    []db.Point `json:"points"`
	Color     string     `json:"color"`
	Width     float64    `json:"width"`
	CreatedAt int64      `json:"createdAt,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	// Stamped onto relayed frames by the server; anything the client
	// sends here is overwritten.
	SessionID string `json:"sessionId,omitempty"`
}

type ClearCanvasPayload struct {
	RoomID string `json:"roomId,omitempty"`
}

type DeleteStrokePayload struct {
	RoomID    string `json:"roomId,omitempty"`
	StrokeID  string `json:"strokeId"`
	UserID    string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
}

// Outbound payloads.

type ConnectionStatusPayload struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type RoomJoinedPayload struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	UsersInRoom int    `json:"usersInRoom"`
}

type PresencePayload struct {
	UserID      string `json:"userId"`
	UsersInRoom int    `json:"usersInRoom"`
}

type LoadStrokesPayload struct {
	RoomID  string      `json:"roomId"`
	Strokes []db.Stroke `json:"strokes"`
}

type CanvasClearedPayload struct {
	RoomID    string `json:"roomId"`
	ClearedBy string `json:"clearedBy"`
}

type StrokeDeletedPayload struct {
	RoomID    string `json:"roomId"`
	StrokeID  string `json:"strokeId"`
	UserID    string `json:"userId"`
	CreatedAt int64  `json:"createdAt"`
	DeletedBy string `json:"deletedBy"`
}

type PageDeletedPayload struct {
	PageID string `json:"pageId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// envelope marshals an event frame, returning nil on encode failure so
// callers can treat the send as a dropped delivery.
func envelope(event string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Str("event", event).Err(err).Msg("failed to encode event payload")
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		log.Error().Str("event", event).Err(err).Msg("failed to encode event frame")
		return nil
	}
	return frame
}
