// Package chatapi exposes the chat service over HTTP/JSON.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/cmd/identity"
	"courier/cmd/internal/chat"
)

// SendObserver is told the outcome of every send request.
type SendObserver interface {
	ObserveSend(outcome string)
}

// Send outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeDuplicate   = "duplicate"
	OutcomePartial     = "partial"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Handler wires the chat routes to a chat.Service.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     *chat.Service
	limiter *senderLimiter
	obs     SendObserver
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithSendObserver records send outcomes (metrics).
func WithSendObserver(obs SendObserver) HandlerOption {
	return func(h *Handler) {
		if obs != nil {
			h.obs = obs
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *chat.Service, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("chatapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		svc:     svc,
		limiter: newSenderLimiter(cfg.SendRateEvents, cfg.SendRateWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires chat routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /api/messages", h.handleSendMessage)
	mux.HandleFunc("GET /api/messages/conversation/{conversation_id}", h.handleListMessages)
	mux.HandleFunc("GET /api/messages/conversation/{conversation_id}/before", h.handleListMessages)
	mux.HandleFunc("POST /api/conversations", h.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/user/{user_id}", h.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{conversation_id}", h.handleGetConversation)
}

// ---- handlers ----

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.observe(OutcomeInvalid)
		writeDecodeError(w, err)
		return
	}

	senderKey := strings.ToLower(strings.TrimSpace(req.SenderID))
	if ok, retryAfter := h.limiter.Allow(senderKey, h.now()); !ok {
		h.log.Info("chat.send.rate_limited", "sender_id", senderKey)
		h.observe(OutcomeRateLimited)
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.svc.SendMessage(r.Context(), chat.SendMessageInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		MessageID:  req.MessageID,
	})
	if err != nil {
		// The message is stored; a retry with the same message_id replays the derived rows.
		if _, ok := chat.IsPartialWrite(err); ok {
			h.observe(OutcomePartial)
			w.Header().Set("X-Partial-Write", "true")
			status := http.StatusCreated
			if res.Duplicated {
				status = http.StatusOK
			}
			writeJSON(w, status, toMessageResponse(res.Message))
			return
		}
		if chat.IsInvalidArgument(err) {
			h.observe(OutcomeInvalid)
		} else {
			h.observe(OutcomeError)
		}
		h.writeServiceError(w, "chat.send", err)
		return
	}

	if res.Duplicated {
		h.observe(OutcomeDuplicate)
		writeJSON(w, http.StatusOK, toMessageResponse(res.Message))
		return
	}

	h.observe(OutcomeOK)
	writeJSON(w, http.StatusCreated, toMessageResponse(res.Message))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	page, err := h.svc.ListMessages(r.Context(),
		r.PathValue("conversation_id"),
		limit,
		r.URL.Query().Get("before_message_id"),
	)
	if err != nil {
		h.writeServiceError(w, "chat.list_messages", err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(page, toMessageResponse))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	page, err := h.svc.ListConversations(r.Context(),
		r.PathValue("user_id"),
		limit,
		r.URL.Query().Get("before_conversation_id"),
	)
	if err != nil {
		h.writeServiceError(w, "chat.list_conversations", err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(page, toViewResponse))
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	enrich := false
	if raw := strings.TrimSpace(r.URL.Query().Get("enrich_users")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "enrich_users must be a boolean")
			return
		}
		enrich = b
	}

	detail, err := h.svc.GetConversation(r.Context(), r.PathValue("conversation_id"), enrich)
	if err != nil {
		h.writeServiceError(w, "chat.get_conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, toDetailResponse(detail))
}

func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	conv, err := h.svc.GetOrCreateConversation(r.Context(), req.User1ID, req.User2ID)
	if err != nil {
		h.writeServiceError(w, "chat.create_conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, toDetailResponse(chat.ConversationDetail{Conversation: conv}))
}

// ---- helpers ----

func (h *Handler) observe(outcome string) {
	if h.obs != nil {
		h.obs.ObserveSend(outcome)
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be an integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, event string, err error) {
	switch {
	case chat.IsInvalidArgument(err):
		writeError(w, http.StatusBadRequest, "invalid_argument", errorMessage(err))
	case chat.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
	case chat.IsStoreUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please retry later")
	case errors.Is(err, context.Canceled):
		h.log.Info(event+".canceled", "err", err)
		writeError(w, http.StatusServiceUnavailable, "canceled", "request canceled")
	default:
		h.log.Error(event+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// errorMessage exposes the validation detail of an OpError, never a backend cause.
func errorMessage(err error) string {
	var oe chat.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	var ie identity.OpError
	if errors.As(err, &ie) && ie.Msg != "" {
		return ie.Msg
	}
	return "invalid argument"
}
