package messaging

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"shelfswap/cmd/internal/auth"
)

const (
	defaultMaxBodyBytes = 16 << 10 // 16 KiB

	defaultPageSize = 50
)

// Handler exposes the messaging REST surface. All routes assume
// auth.RequireUser ran upstream and a UserID is present in the context.
type Handler struct {
	log *slog.Logger
	svc *Service
	dir Directory

	maxBodyBytes int64
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithDirectory wires the identity directory used to enrich responses with
// participant names.
func WithDirectory(dir Directory) HandlerOption {
	return func(h *Handler) {
		if dir != nil {
			h.dir = dir
		}
	}
}

// NewHandler constructs a messaging Handler.
func NewHandler(log *slog.Logger, svc *Service, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:          log,
		svc:          svc,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

// Register wires messaging routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /messages/conversations", h.handleStartConversation)
	mux.HandleFunc("GET /messages/conversations", h.handleListConversations)
	mux.HandleFunc("GET /messages/check-conversation/{otherUserID}", h.handleCheckConversation)
	mux.HandleFunc("GET /messages/requests/received", h.handleReceivedRequests)
	mux.HandleFunc("GET /messages/requests/sent", h.handleSentRequests)
	mux.HandleFunc("POST /messages/requests/{id}/accept", h.handleAcceptRequest)
	mux.HandleFunc("POST /messages/requests/{id}/reject", h.handleRejectRequest)
	mux.HandleFunc("POST /messages/conversations/{id}", h.handleSendMessage)
	mux.HandleFunc("GET /messages/conversations/{id}", h.handleGetMessages)
	mux.HandleFunc("POST /messages/conversations/{id}/read", h.handleMarkRead)
}

// ---- handlers ----

func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	var req startConversationRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	conv, err := h.svc.StartConversation(r.Context(), userID, req.RecipientID, req.InitialMessage)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationResponse(r.Context(), h.dir, conv, userID))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	convs, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponses(r.Context(), h.dir, convs, userID))
}

func (h *Handler) handleCheckConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}
	otherUserID := strings.TrimSpace(r.PathValue("otherUserID"))
	if otherUserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "missing user id")
		return
	}

	conv, err := h.svc.CheckExistingConversation(r.Context(), userID, otherUserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(r.Context(), h.dir, conv, userID))
}

func (h *Handler) handleReceivedRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	convs, err := h.svc.ListReceivedRequests(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponses(r.Context(), h.dir, convs, userID))
}

func (h *Handler) handleSentRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	convs, err := h.svc.ListSentRequests(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponses(r.Context(), h.dir, convs, userID))
}

func (h *Handler) handleAcceptRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	conv, err := h.svc.AcceptRequest(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(r.Context(), h.dir, conv, userID))
}

func (h *Handler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	conv, err := h.svc.RejectRequest(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponse(r.Context(), h.dir, conv, userID))
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), r.PathValue("id"), userID, req.Content)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(r.Context(), h.dir, msg))
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)

	msgs, err := h.svc.GetConversationMessages(r.Context(), r.PathValue("id"), userID, page, size)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(r.Context(), h.dir, m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no user identity")
		return
	}

	if err := h.svc.MarkMessagesRead(r.Context(), r.PathValue("id"), userID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- error mapping ----

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, "conversation_exists", err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, http.StatusConflict, "request_resolved", err.Error())
	default:
		h.log.Error("messaging.handler.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
