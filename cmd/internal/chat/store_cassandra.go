package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier/cmd/identity/ids"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// CassandraStore is a Store backed by Cassandra, using the tables of the original
// deployment (messages_by_conversation, conversations_by_user, conversation_metadata).
//
// Ownership model:
// - CassandraStore does NOT own the gocql session. The caller must close it.
//
// Ordering model:
//   - message_id is a blob holding the ULID bytes; blob comparison is bytewise, so
//     the clustering order agrees with id generation order.
//   - conversation_id is a uuid column; its clustering order is Cassandra's uuid
//     comparator. It is opaque and total, and ORDER BY and the "<" cursor bound
//     use the same comparator, so paging stays gap-free and duplicate-free.
//   - Timestamps are stored with millisecond precision.
type CassandraStore struct {
	session *gocql.Session
	ids     *ids.Generator
}

// NewCassandraStore constructs a Cassandra-backed Store on an open session whose
// keyspace is already selected.
func NewCassandraStore(session *gocql.Session, gen *ids.Generator) (*CassandraStore, error) {
	if session == nil {
		return nil, errors.New("chat: nil cassandra session")
	}
	if gen == nil {
		gen = ids.NewGenerator()
	}
	return &CassandraStore{session: session, ids: gen}, nil
}

// Close is a no-op because the session is owned by the caller.
func (s *CassandraStore) Close() error { return nil }

// CassandraSchemaCQL lists the CREATE TABLE statements of the store.
var CassandraSchemaCQL = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_conversation (
		conversation_id uuid,
		message_id blob,
		sender_id uuid,
		receiver_id uuid,
		content text,
		created_at timestamp,
		PRIMARY KEY ((conversation_id), message_id)
	) WITH CLUSTERING ORDER BY (message_id DESC)`,
	`CREATE TABLE IF NOT EXISTS conversations_by_user (
		user_id uuid,
		conversation_id uuid,
		other_user_id uuid,
		last_message text,
		last_updated timestamp,
		PRIMARY KEY ((user_id), conversation_id)
	) WITH CLUSTERING ORDER BY (conversation_id DESC)`,
	`CREATE TABLE IF NOT EXISTS conversation_metadata (
		conversation_id uuid PRIMARY KEY,
		created_at timestamp
	)`,
}

// Migrate creates the tables in the session keyspace if they do not exist.
func (s *CassandraStore) Migrate(ctx context.Context) error {
	for _, stmt := range CassandraSchemaCQL {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("chat: migrate: %w", err)
		}
	}
	return nil
}

// AppendMessage writes a message row. With a caller-supplied id it is a
// lightweight-transaction insert (IF NOT EXISTS); generated ids use a plain insert.
func (s *CassandraStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "chat.CassandraStore.AppendMessage"

	if in.ConversationID == uuid.Nil {
		return AppendMessageResult{}, invalidArgument(op, "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	now = now.Truncate(time.Millisecond)

	msg := Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      now,
	}

	const insert = `INSERT INTO messages_by_conversation
		(conversation_id, message_id, sender_id, receiver_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	if in.MessageID == nil {
		id, err := s.ids.New(now)
		if err != nil {
			return AppendMessageResult{}, storeError(op, err)
		}
		msg.ID = id

		if err := s.session.Query(insert,
			gocql.UUID(msg.ConversationID), msg.ID.Bytes(), gocql.UUID(msg.SenderID),
			gocql.UUID(msg.ReceiverID), msg.Content, msg.CreatedAt,
		).WithContext(ctx).Exec(); err != nil {
			return AppendMessageResult{}, storeError(op, err)
		}
		return AppendMessageResult{Stored: msg}, nil
	}

	msg.ID = *in.MessageID
	existing := make(map[string]interface{})
	applied, err := s.session.Query(insert+` IF NOT EXISTS`,
		gocql.UUID(msg.ConversationID), msg.ID.Bytes(), gocql.UUID(msg.SenderID),
		gocql.UUID(msg.ReceiverID), msg.Content, msg.CreatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return AppendMessageResult{}, storeError(op, err)
	}
	if applied {
		return AppendMessageResult{Stored: msg}, nil
	}

	stored, err := messageFromMap(existing)
	if err != nil {
		return AppendMessageResult{}, storeError(op, err)
	}
	return AppendMessageResult{Stored: stored, Duplicated: true}, nil
}

// ListMessages returns messages ordered by id DESC, strictly below BeforeID when set.
func (s *CassandraStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	const op = "chat.CassandraStore.ListMessages"

	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	var q *gocql.Query
	if in.BeforeID == nil {
		q = s.session.Query(
			`SELECT conversation_id, message_id, sender_id, receiver_id, content, created_at
			   FROM messages_by_conversation
			  WHERE conversation_id = ?
			  ORDER BY message_id DESC
			  LIMIT ?`,
			gocql.UUID(in.ConversationID), fetch,
		)
	} else {
		q = s.session.Query(
			`SELECT conversation_id, message_id, sender_id, receiver_id, content, created_at
			   FROM messages_by_conversation
			  WHERE conversation_id = ? AND message_id < ?
			  ORDER BY message_id DESC
			  LIMIT ?`,
			gocql.UUID(in.ConversationID), in.BeforeID.Bytes(), fetch,
		)
	}

	iter := q.WithContext(ctx).Iter()

	var (
		convID, senderID, receiverID gocql.UUID
		rawID                        []byte
		content                      string
		createdAt                    time.Time
	)
	msgs := make([]Message, 0, fetch)
	for iter.Scan(&convID, &rawID, &senderID, &receiverID, &content, &createdAt) {
		var id ulid.ULID
		if err := id.UnmarshalBinary(rawID); err != nil {
			_ = iter.Close()
			return ListMessagesResult{}, storeError(op, err)
		}
		msgs = append(msgs, Message{
			ID:             id,
			ConversationID: uuid.UUID(convID),
			SenderID:       uuid.UUID(senderID),
			ReceiverID:     uuid.UUID(receiverID),
			Content:        content,
			CreatedAt:      createdAt,
		})
	}
	if err := iter.Close(); err != nil {
		return ListMessagesResult{}, storeError(op, err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return ListMessagesResult{Messages: msgs, HasMore: hasMore}, nil
}

// UpsertConversationView overwrites the (user_id, conversation_id) row unless the
// stored row is newer. The write timestamp is the view's last_updated, so Cassandra's
// own cell reconciliation keeps the newest message's snippet.
func (s *CassandraStore) UpsertConversationView(ctx context.Context, v ConversationView) error {
	const op = "chat.CassandraStore.UpsertConversationView"

	if v.UserID == uuid.Nil || v.ConversationID == uuid.Nil {
		return invalidArgument(op, "missing key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.session.Query(
		`INSERT INTO conversations_by_user (user_id, conversation_id, other_user_id, last_message, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 USING TIMESTAMP ?`,
		gocql.UUID(v.UserID), gocql.UUID(v.ConversationID), gocql.UUID(v.OtherUserID),
		v.LastMessage, v.LastUpdated.Truncate(time.Millisecond), v.LastUpdated.UnixMicro(),
	).WithContext(ctx).Exec()
	return storeError(op, err)
}

// ListConversationViews returns a user's views ordered by conversation_id DESC.
func (s *CassandraStore) ListConversationViews(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	const op = "chat.CassandraStore.ListConversationViews"

	if err := ctx.Err(); err != nil {
		return ListConversationsResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	var q *gocql.Query
	if in.BeforeID == nil {
		q = s.session.Query(
			`SELECT user_id, conversation_id, other_user_id, last_message, last_updated
			   FROM conversations_by_user
			  WHERE user_id = ?
			  ORDER BY conversation_id DESC
			  LIMIT ?`,
			gocql.UUID(in.UserID), fetch,
		)
	} else {
		q = s.session.Query(
			`SELECT user_id, conversation_id, other_user_id, last_message, last_updated
			   FROM conversations_by_user
			  WHERE user_id = ? AND conversation_id < ?
			  ORDER BY conversation_id DESC
			  LIMIT ?`,
			gocql.UUID(in.UserID), gocql.UUID(*in.BeforeID), fetch,
		)
	}

	iter := q.WithContext(ctx).Iter()

	var (
		userID, convID, otherID gocql.UUID
		lastMessage             *string
		lastUpdated             time.Time
	)
	out := make([]ConversationView, 0, fetch)
	for iter.Scan(&userID, &convID, &otherID, &lastMessage, &lastUpdated) {
		out = append(out, ConversationView{
			UserID:         uuid.UUID(userID),
			ConversationID: uuid.UUID(convID),
			OtherUserID:    uuid.UUID(otherID),
			LastMessage:    lastMessage,
			LastUpdated:    lastUpdated,
		})
		lastMessage = nil
	}
	if err := iter.Close(); err != nil {
		return ListConversationsResult{}, storeError(op, err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return ListConversationsResult{Views: out, HasMore: hasMore}, nil
}

// EnsureConversation is INSERT ... IF NOT EXISTS: Paxos picks exactly one winner
// and losers read back the winner's created_at.
func (s *CassandraStore) EnsureConversation(ctx context.Context, id uuid.UUID, createdAt time.Time) (Conversation, error) {
	const op = "chat.CassandraStore.EnsureConversation"

	if id == uuid.Nil {
		return Conversation{}, invalidArgument(op, "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.Truncate(time.Millisecond)

	var (
		existingID        gocql.UUID
		existingCreatedAt time.Time
	)
	applied, err := s.session.Query(
		`INSERT INTO conversation_metadata (conversation_id, created_at) VALUES (?, ?) IF NOT EXISTS`,
		gocql.UUID(id), createdAt,
	).WithContext(ctx).ScanCAS(&existingID, &existingCreatedAt)
	if err != nil {
		return Conversation{}, storeError(op, err)
	}
	if applied {
		return Conversation{ID: id, CreatedAt: createdAt}, nil
	}
	return Conversation{ID: uuid.UUID(existingID), CreatedAt: existingCreatedAt}, nil
}

// GetConversation returns the metadata row, found=false when it was never created.
func (s *CassandraStore) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, bool, error) {
	const op = "chat.CassandraStore.GetConversation"

	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	var (
		convID    gocql.UUID
		createdAt time.Time
	)
	err := s.session.Query(
		`SELECT conversation_id, created_at FROM conversation_metadata WHERE conversation_id = ?`,
		gocql.UUID(id),
	).WithContext(ctx).Scan(&convID, &createdAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, storeError(op, err)
	}
	return Conversation{ID: uuid.UUID(convID), CreatedAt: createdAt}, true, nil
}

func messageFromMap(row map[string]interface{}) (Message, error) {
	var m Message

	raw, ok := row["message_id"].([]byte)
	if !ok {
		return Message{}, errors.New("chat: cas row without message_id")
	}
	if err := m.ID.UnmarshalBinary(raw); err != nil {
		return Message{}, err
	}
	if v, ok := row["conversation_id"].(gocql.UUID); ok {
		m.ConversationID = uuid.UUID(v)
	}
	if v, ok := row["sender_id"].(gocql.UUID); ok {
		m.SenderID = uuid.UUID(v)
	}
	if v, ok := row["receiver_id"].(gocql.UUID); ok {
		m.ReceiverID = uuid.UUID(v)
	}
	if v, ok := row["content"].(string); ok {
		m.Content = v
	}
	if v, ok := row["created_at"].(time.Time); ok {
		m.CreatedAt = v
	}
	return m, nil
}
