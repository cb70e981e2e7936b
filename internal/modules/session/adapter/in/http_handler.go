package in

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	sessiondto "biomon/internal/modules/session/dto"
	sessionin "biomon/internal/modules/session/port/in"
	apperrors "biomon/internal/platform/errors"
)

const writeWait = 5 * time.Second

// HTTPHandler serves the live display and export surface over HTTP, with a
// websocket stream of session snapshots at /ws.
type HTTPHandler struct {
	usecase  sessionin.Usecase
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func NewHTTPHandler(usecase sessionin.Usecase, logger hclog.Logger) *HTTPHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPHandler{
		usecase: usecase,
		logger:  logger.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Get("/ports", h.handlePorts)
		api.Post("/sessions", h.handleStart)
		api.Get("/sessions/current", h.handleCurrent)
		api.Delete("/sessions/current", h.handleStop)
		api.Post("/sessions/current/clear", h.handleClear)
		api.Get("/sessions/current/export/{kind}", h.handleExport)
		api.Get("/sessions/{sessionID}/export/{kind}", h.handleExport)
		api.Get("/history", h.handleHistory)
		api.Get("/history/{sessionID}", h.handleHistoryDetail)
	})
	r.Get("/ws", h.handleWebSocket)
}

type startRequest struct {
	Port    string `json:"port"`
	Replay  bool   `json:"replay"`
	Subject struct {
		Name   string `json:"name"`
		Age    int    `json:"age"`
		Gender string `json:"gender"`
	} `json:"subject"`
}

func (h *HTTPHandler) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.usecase.ListPorts(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ports)
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, fmt.Errorf("%w: decode request: %v", apperrors.ErrInvalidInput, err))
		return
	}
	out, err := h.usecase.Start(r.Context(), sessiondto.StartInput{
		Port:    req.Port,
		Replay:  req.Replay,
		Subject: sessiondto.SubjectInput{Name: req.Subject.Name, Age: req.Subject.Age, Gender: req.Subject.Gender},
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (h *HTTPHandler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	snap, err := h.usecase.Current(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := h.usecase.Stop(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.usecase.Clear(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	out, err := h.usecase.Export(r.Context(), sessiondto.ExportInput{
		SessionID: chi.URLParam(r, "sessionID"),
		Kind:      sessiondto.ExportKind(chi.URLParam(r, "kind")),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Content); err != nil {
		h.logger.Warn("write export", "error", err)
	}
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, fmt.Errorf("%w: limit must be a positive integer", apperrors.ErrInvalidInput))
			return
		}
		limit = parsed
	}
	items, err := h.usecase.History(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *HTTPHandler) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	item, err := h.usecase.GetHistory(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The client only listens; a read error means it went away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	updates, err := h.usecase.Subscribe(ctx)
	if err != nil {
		h.logger.Warn("subscribe", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debug("websocket write", "error", err)
				return
			}
		}
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNoPorts):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrDevice):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
