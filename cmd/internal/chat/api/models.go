package chatapi

import (
	"time"

	"courier/cmd/internal/chat"
)

type sendMessageRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	// MessageID makes retries idempotent (ULID, optional).
	MessageID string `json:"message_id,omitempty"`
}

type createConversationRequest struct {
	User1ID string `json:"user1_id"`
	User2ID string `json:"user2_id"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type conversationResponse struct {
	ID                 string     `json:"id"`
	User1ID            *string    `json:"user1_id"`
	User2ID            *string    `json:"user2_id"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	LastMessageContent *string    `json:"last_message_content"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

type pageResponse[T any] struct {
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Data       []T     `json:"data"`
	NextCursor *string `json:"next_cursor"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		ReceiverID:     m.ReceiverID.String(),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

// toViewResponse renders a per-user view: user1 is the viewing user.
func toViewResponse(v chat.ConversationView) conversationResponse {
	user, other := v.UserID.String(), v.OtherUserID.String()
	return conversationResponse{
		ID:                 v.ConversationID.String(),
		User1ID:            &user,
		User2ID:            &other,
		LastMessageAt:      v.LastUpdated,
		LastMessageContent: v.LastMessage,
	}
}

func toDetailResponse(d chat.ConversationDetail) conversationResponse {
	createdAt := d.CreatedAt
	out := conversationResponse{
		ID:            d.ID.String(),
		LastMessageAt: d.CreatedAt,
		CreatedAt:     &createdAt,
	}
	if d.User1ID != nil {
		s := d.User1ID.String()
		out.User1ID = &s
	}
	if d.User2ID != nil {
		s := d.User2ID.String()
		out.User2ID = &s
	}
	return out
}

func toPageResponse[T, R any](p chat.Page[T], conv func(T) R) pageResponse[R] {
	data := make([]R, 0, len(p.Items))
	for _, it := range p.Items {
		data = append(data, conv(it))
	}
	return pageResponse[R]{
		Total:      p.Total,
		Limit:      p.Limit,
		Data:       data,
		NextCursor: p.NextCursor,
	}
}
