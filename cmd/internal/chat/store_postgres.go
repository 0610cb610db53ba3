package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"courier/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Partitioning model:
//   - Every statement touches one partition key (conversation_id or user_id) and is
//     atomic on its own. No statement or transaction spans the message log and
//     the per-user views.
//   - message_id is stored as uuid holding the ULID bytes; uuid comparison is
//     bytewise, so ORDER BY message_id agrees with id generation order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	ids    *ids.Generator
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "courier").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithIDGenerator sets the message id generator (default: a new ids.Generator).
func WithIDGenerator(gen *ids.Generator) PostgresOption {
	return func(s *PostgresStore) error {
		if gen == nil {
			return errors.New("chat: nil id generator")
		}
		s.ids = gen
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "courier",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	if st.ids == nil {
		st.ids = ids.NewGenerator()
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema and tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("chat: migrate: %w", err)
	}
	return nil
}

// PostgresSchemaSQL returns the DDL of the three tables in schema.
func PostgresSchemaSQL(schema string) string {
	messages := pgIdent(schema, "messages_by_conversation")
	views := pgIdent(schema, "conversations_by_user")
	metadata := pgIdent(schema, "conversation_metadata")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  conversation_id UUID        NOT NULL,
  message_id      UUID        NOT NULL,
  sender_id       UUID        NOT NULL,
  receiver_id     UUID        NOT NULL,
  content         TEXT        NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (conversation_id, message_id)
);

CREATE TABLE IF NOT EXISTS %s (
  user_id         UUID        NOT NULL,
  conversation_id UUID        NOT NULL,
  other_user_id   UUID        NOT NULL,
  last_message    TEXT,
  last_updated    TIMESTAMPTZ NOT NULL,

  PRIMARY KEY (user_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id UUID        PRIMARY KEY,
  created_at      TIMESTAMPTZ NOT NULL
);
`, pgx.Identifier{schema}.Sanitize(), messages, views, metadata)
}

// AppendMessage writes a message row. With a caller-supplied id it is insert-if-absent.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "chat.PostgresStore.AppendMessage"

	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errors.New("chat: nil store")
	}
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

	var id ulid.ULID
	if in.MessageID != nil {
		id = *in.MessageID
	} else {
		next, err := s.ids.New(now)
		if err != nil {
			return AppendMessageResult{}, storeError(op, err)
		}
		id = next
	}

	messages := pgIdent(s.schema, "messages_by_conversation")

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_id, message_id, sender_id, receiver_id, content, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (conversation_id, message_id) DO NOTHING`,
		in.ConversationID, uuid.UUID(id), in.SenderID, in.ReceiverID, in.Content, now,
	)
	if err != nil {
		return AppendMessageResult{}, storeError(op, err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := s.readMessage(ctx, in.ConversationID, id)
		if err != nil {
			return AppendMessageResult{}, storeError(op, err)
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}

	return AppendMessageResult{Stored: Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		CreatedAt:      now,
	}}, nil
}

// ListMessages returns messages ordered by id DESC, strictly below BeforeID when set.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	const op = "chat.PostgresStore.ListMessages"

	if s == nil || s.pool == nil {
		return ListMessagesResult{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	messages := pgIdent(s.schema, "messages_by_conversation")

	var (
		rows pgx.Rows
		err  error
	)

	if in.BeforeID == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT conversation_id, message_id, sender_id, receiver_id, content, created_at
			   FROM `+messages+`
			  WHERE conversation_id = $1
			  ORDER BY message_id DESC
			  LIMIT $2`,
			in.ConversationID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT conversation_id, message_id, sender_id, receiver_id, content, created_at
			   FROM `+messages+`
			  WHERE conversation_id = $1 AND message_id < $2
			  ORDER BY message_id DESC
			  LIMIT $3`,
			in.ConversationID, uuid.UUID(*in.BeforeID), fetch,
		)
	}
	if err != nil {
		return ListMessagesResult{}, storeError(op, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return ListMessagesResult{}, storeError(op, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListMessagesResult{}, storeError(op, err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	return ListMessagesResult{Messages: msgs, HasMore: hasMore}, nil
}

// UpsertConversationView overwrites the (user_id, conversation_id) row unless the
// stored row has a newer last_updated.
func (s *PostgresStore) UpsertConversationView(ctx context.Context, v ConversationView) error {
	const op = "chat.PostgresStore.UpsertConversationView"

	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if v.UserID == uuid.Nil || v.ConversationID == uuid.Nil {
		return invalidArgument(op, "missing key")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	views := pgIdent(s.schema, "conversations_by_user")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+views+` AS v (user_id, conversation_id, other_user_id, last_message, last_updated)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, conversation_id) DO UPDATE
		    SET other_user_id = EXCLUDED.other_user_id,
		        last_message  = EXCLUDED.last_message,
		        last_updated  = EXCLUDED.last_updated
		  WHERE v.last_updated <= EXCLUDED.last_updated`,
		v.UserID, v.ConversationID, v.OtherUserID, v.LastMessage, v.LastUpdated,
	)
	return storeError(op, err)
}

// ListConversationViews returns a user's views ordered by conversation_id DESC.
func (s *PostgresStore) ListConversationViews(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	const op = "chat.PostgresStore.ListConversationViews"

	if s == nil || s.pool == nil {
		return ListConversationsResult{}, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return ListConversationsResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	views := pgIdent(s.schema, "conversations_by_user")

	var (
		rows pgx.Rows
		err  error
	)

	if in.BeforeID == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT user_id, conversation_id, other_user_id, last_message, last_updated
			   FROM `+views+`
			  WHERE user_id = $1
			  ORDER BY conversation_id DESC
			  LIMIT $2`,
			in.UserID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT user_id, conversation_id, other_user_id, last_message, last_updated
			   FROM `+views+`
			  WHERE user_id = $1 AND conversation_id < $2
			  ORDER BY conversation_id DESC
			  LIMIT $3`,
			in.UserID, *in.BeforeID, fetch,
		)
	}
	if err != nil {
		return ListConversationsResult{}, storeError(op, err)
	}
	defer rows.Close()

	out := make([]ConversationView, 0, fetch)
	for rows.Next() {
		var v ConversationView
		if err := rows.Scan(&v.UserID, &v.ConversationID, &v.OtherUserID, &v.LastMessage, &v.LastUpdated); err != nil {
			return ListConversationsResult{}, storeError(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return ListConversationsResult{}, storeError(op, err)
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return ListConversationsResult{Views: out, HasMore: hasMore}, nil
}

// EnsureConversation inserts the metadata row if absent and returns the stored row.
//
// ON CONFLICT DO NOTHING waits for a concurrent inserter to commit, so the
// follow-up read (a new snapshot under READ COMMITTED) sees the winning row.
func (s *PostgresStore) EnsureConversation(ctx context.Context, id uuid.UUID, createdAt time.Time) (Conversation, error) {
	const op = "chat.PostgresStore.EnsureConversation"

	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}
	if id == uuid.Nil {
		return Conversation{}, invalidArgument(op, "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	metadata := pgIdent(s.schema, "conversation_metadata")

	var c Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+metadata+` (conversation_id, created_at)
		 VALUES ($1, $2)
		 ON CONFLICT (conversation_id) DO NOTHING
		 RETURNING conversation_id, created_at`,
		id, createdAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, storeError(op, err)
	}

	c, found, err := s.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !found {
		return Conversation{}, OpError{Op: op, Kind: ErrStoreUnavailable, Msg: "conflicting row not visible"}
	}
	return c, nil
}

// GetConversation returns the metadata row, found=false when it was never created.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, bool, error) {
	const op = "chat.PostgresStore.GetConversation"

	if s == nil || s.pool == nil {
		return Conversation{}, false, errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}

	metadata := pgIdent(s.schema, "conversation_metadata")

	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT conversation_id, created_at FROM `+metadata+` WHERE conversation_id = $1`,
		id,
	).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, storeError(op, err)
	}
	return c, true, nil
}

func (s *PostgresStore) readMessage(ctx context.Context, conversationID uuid.UUID, id ulid.ULID) (Message, error) {
	messages := pgIdent(s.schema, "messages_by_conversation")
	row := s.pool.QueryRow(ctx,
		`SELECT conversation_id, message_id, sender_id, receiver_id, content, created_at
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, uuid.UUID(id),
	)
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m     Message
		msgID uuid.UUID
	)
	if err := row.Scan(&m.ConversationID, &msgID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.ID = ulid.ULID(msgID)
	return m, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
