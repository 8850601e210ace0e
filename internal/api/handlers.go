package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/UttU28/voldermotDiary/internal/db"
	"github.com/UttU28/voldermotDiary/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
}

func New(hub *ws.Hub, database *db.Database) *API {
	return &API{
		hub:      hub,
		database: database,
	}
}

// Router wires the REST surface plus the websocket and metrics
// endpoints.
func (a *API) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(a.hub, w, req)
	})

	r.HandleFunc("/", a.RootHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/pages", a.ListPagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/pages", a.CreatePageHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/pages/latest", a.LatestPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/pages/{pageId}", a.DeletePageHandler).Methods(http.MethodDelete)

	return corsMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]any{"success": false, "error": message})
}

func (a *API) RootHandler(w http.ResponseWriter, r *http.Request) {
	sessions, rooms := a.hub.Counts()
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "Voldermot Diary Backend",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"connectedUsers": sessions,
		"activeRooms":    rooms,
		"endpoints": map[string]string{
			"health":     "/health",
			"pages":      "/api/pages",
			"latestPage": "/api/pages/latest",
		},
	})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	sessions, rooms := a.hub.Counts()
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"connectedUsers": sessions,
		"activeRooms":    rooms,
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, rooms := a.hub.Counts()
	stats := map[string]any{
		"active_sessions": sessions,
		"active_rooms":    rooms,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if dbStats, err := a.database.Stats(); err == nil {
		stats["total_rooms"] = dbStats["room_count"]
		stats["total_strokes"] = dbStats["stroke_count"]
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Page handlers

type CreatePageRequest struct {
	PageName string `json:"pageName"`
}

func (a *API) ListPagesHandler(w http.ResponseWriter, r *http.Request) {
	pages, err := a.database.ListRooms()
	if err != nil {
		log.Error().Err(err).Msg("failed to list pages")
		errorResponse(w, http.StatusInternalServerError, "Failed to list pages")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"success": true, "pages": pages})
}

func (a *API) CreatePageHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PageName == "" {
		errorResponse(w, http.StatusBadRequest, "Page name is required")
		return
	}

	pageID := fmt.Sprintf("page-%d-%s", time.Now().UnixMilli(), ksuid.New().String())
	if err := a.database.EnsureRoom(pageID, req.PageName); err != nil {
		log.Error().Err(err).Msg("failed to create page")
		errorResponse(w, http.StatusInternalServerError, "Failed to create page")
		return
	}

	page, err := a.database.GetRoom(pageID)
	if err != nil || page == nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get page")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"success": true, "page": page})
}

func (a *API) LatestPageHandler(w http.ResponseWriter, r *http.Request) {
	page, err := a.database.LatestRoom()
	if err != nil {
		log.Error().Err(err).Msg("failed to get latest page")
		errorResponse(w, http.StatusInternalServerError, "Failed to get latest page")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"success": true, "page": page})
}

func (a *API) DeletePageHandler(w http.ResponseWriter, r *http.Request) {
	pageID := mux.Vars(r)["pageId"]
	if pageID == "" {
		errorResponse(w, http.StatusBadRequest, "Page ID is required")
		return
	}

	strokesDeleted, roomDeleted, err := a.database.DeleteRoom(pageID)
	if err != nil {
		log.Error().Str("page", pageID).Err(err).Msg("failed to delete page")
		errorResponse(w, http.StatusInternalServerError, "Failed to delete page")
		return
	}

	if !roomDeleted {
		errorResponse(w, http.StatusNotFound, "Page not found")
		return
	}

	// Anyone still drawing on this page gets told it is gone.
	a.hub.PageDeleted(pageID)

	jsonResponse(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        "Page deleted successfully",
		"strokesDeleted": strokesDeleted,
	})
}
