package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"courier/cmd/identity"
	"courier/cmd/identity/ids"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// MaxMessageIDSkew bounds how far the timestamp of a caller-supplied message id may
// be from the server clock. Ids outside the window would sort away from the messages
// sent around them.
const MaxMessageIDSkew = time.Minute

// Notifier is told about every durably stored message. It must not block.
type Notifier interface {
	NotifyMessage(ctx context.Context, m Message)
}

// Service orchestrates the message write path and the two paged read patterns
// over a single Store.
//
// Write path (SendMessage):
//  1. resolve the conversation id from the participant pair
//  2. append the message (the commit point)
//  3. upsert both participants' conversation views
//  4. ensure the conversation metadata row
//
// Steps 3 and 4 are best-effort after step 2: a failure there is reported as a
// *PartialWriteError carrying the stored message. A retry with the same message id
// replays them, so the derived rows converge once a retry succeeds.
type Service struct {
	store    Store
	log      *slog.Logger
	notifier Notifier
	now      func() time.Time

	defaultLimit int
	maxLimit     int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger (defaults to slog.Default()).
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNotifier registers a Notifier called after each successful append.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPageLimits overrides the default and maximum page sizes.
// Non-positive values keep the built-in defaults.
func WithPageLimits(def, max int) ServiceOption {
	return func(s *Service) {
		if def > 0 {
			s.defaultLimit = def
		}
		if max > 0 {
			s.maxLimit = max
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// NewService constructs a Service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		log:          slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		defaultLimit: DefaultPageLimit,
		maxLimit:     MaxPageLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SendMessageInput is a send request in external (string) form.
// MessageID is optional; when set, retries with the same id are idempotent. Its
// timestamp must be within MaxMessageIDSkew of the server clock.
type SendMessageInput struct {
	SenderID   string
	ReceiverID string
	Content    string
	MessageID  string
}

// SendResult is the outcome of SendMessage.
// Duplicated reports that MessageID had already been stored by an earlier attempt.
type SendResult struct {
	Message    Message
	Duplicated bool
}

// SendMessage stores a message and updates the derived rows.
//
// Errors:
//   - ErrInvalidArgument for malformed ids or a message id outside the skew window
//     (nothing is written)
//   - the append error unchanged when step 2 fails (nothing is stored)
//   - *PartialWriteError when the message is stored but index or metadata writes failed
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (SendResult, error) {
	const op = "chat.SendMessage"

	sender, err := identity.ParseUserID(in.SenderID)
	if err != nil {
		return SendResult{}, err
	}
	receiver, err := identity.ParseUserID(in.ReceiverID)
	if err != nil {
		return SendResult{}, err
	}

	req := AppendMessageInput{
		ConversationID: identity.ResolveConversationID(sender, receiver),
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        in.Content,
		Now:            s.now(),
	}
	if in.MessageID != "" {
		id, err := ids.Parse(in.MessageID)
		if err != nil {
			return SendResult{}, invalidArgument(op, "malformed message_id")
		}
		if skew := ulid.Time(id.Time()).Sub(req.Now); skew > MaxMessageIDSkew || skew < -MaxMessageIDSkew {
			return SendResult{}, invalidArgument(op, "message_id timestamp too far from server time")
		}
		req.MessageID = &id
	}

	res, err := s.store.AppendMessage(ctx, req)
	if err != nil {
		s.log.Warn("chat.send.fail",
			"conversation_id", req.ConversationID.String(),
			"err", err,
		)
		return SendResult{}, err
	}

	msg := res.Stored
	if res.Duplicated {
		s.log.Info("chat.send.duplicate",
			"conversation_id", msg.ConversationID.String(),
			"message_id", msg.ID.String(),
		)
		// The first attempt may have stopped after the append. Views only move
		// forward in last_updated, so replaying them is safe. No second push.
		if err := s.writeDerived(ctx, msg); err != nil {
			s.log.Error("chat.send.partial",
				"conversation_id", msg.ConversationID.String(),
				"message_id", msg.ID.String(),
				"duplicate", true,
				"err", err,
			)
			return SendResult{Message: msg, Duplicated: true}, &PartialWriteError{Message: msg, Err: err}
		}
		return SendResult{Message: msg, Duplicated: true}, nil
	}

	if err := s.writeDerived(ctx, msg); err != nil {
		s.log.Error("chat.send.partial",
			"conversation_id", msg.ConversationID.String(),
			"message_id", msg.ID.String(),
			"err", err,
		)
		s.notify(ctx, msg)
		return SendResult{Message: msg}, &PartialWriteError{Message: msg, Err: err}
	}

	s.notify(ctx, msg)
	return SendResult{Message: msg}, nil
}

// writeDerived runs the view upserts concurrently, then ensures the metadata row.
// Every step runs regardless of the others; all failures are joined.
func (s *Service) writeDerived(ctx context.Context, msg Message) error {
	content := msg.Content
	views := []ConversationView{{
		UserID:         msg.SenderID,
		ConversationID: msg.ConversationID,
		OtherUserID:    msg.ReceiverID,
		LastMessage:    &content,
		LastUpdated:    msg.CreatedAt,
	}}
	// A self-conversation has a single view row.
	if msg.ReceiverID != msg.SenderID {
		views = append(views, ConversationView{
			UserID:         msg.ReceiverID,
			ConversationID: msg.ConversationID,
			OtherUserID:    msg.SenderID,
			LastMessage:    &content,
			LastUpdated:    msg.CreatedAt,
		})
	}

	errs := make([]error, len(views)+1)

	var wg sync.WaitGroup
	for i, v := range views {
		wg.Go(func() {
			errs[i] = s.store.UpsertConversationView(ctx, v)
		})
	}
	wg.Wait()

	_, errs[len(views)] = s.store.EnsureConversation(ctx, msg.ConversationID, msg.CreatedAt)

	return errors.Join(errs...)
}

func (s *Service) notify(ctx context.Context, msg Message) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyMessage(ctx, msg)
}

// ListMessages returns one page of a conversation's messages, newest first.
// before is the previous page's NextCursor ("" for the first page).
// A conversation that was never written yields an empty page.
func (s *Service) ListMessages(ctx context.Context, conversationID string, limit int, before string) (Page[Message], error) {
	const op = "chat.ListMessages"

	convID, err := identity.ParseConversationID(conversationID)
	if err != nil {
		return Page[Message]{}, err
	}
	limit, err = normalizeLimit(op, limit, s.defaultLimit, s.maxLimit)
	if err != nil {
		return Page[Message]{}, err
	}
	cursor, err := ParseMessageCursor(before)
	if err != nil {
		return Page[Message]{}, err
	}

	res, err := s.store.ListMessages(ctx, ListMessagesInput{
		ConversationID: convID,
		BeforeID:       cursor,
		Limit:          limit,
	})
	if err != nil {
		return Page[Message]{}, err
	}

	return newPage(res.Messages, limit, res.HasMore, func(m Message) string {
		return MessageCursor(m.ID)
	}), nil
}

// ListConversations returns one page of a user's conversation views,
// ordered by conversation id descending.
func (s *Service) ListConversations(ctx context.Context, userID string, limit int, before string) (Page[ConversationView], error) {
	const op = "chat.ListConversations"

	uid, err := identity.ParseUserID(userID)
	if err != nil {
		return Page[ConversationView]{}, err
	}
	limit, err = normalizeLimit(op, limit, s.defaultLimit, s.maxLimit)
	if err != nil {
		return Page[ConversationView]{}, err
	}
	cursor, err := ParseConversationCursor(before)
	if err != nil {
		return Page[ConversationView]{}, err
	}

	res, err := s.store.ListConversationViews(ctx, ListConversationsInput{
		UserID:   uid,
		BeforeID: cursor,
		Limit:    limit,
	})
	if err != nil {
		return Page[ConversationView]{}, err
	}

	return newPage(res.Views, limit, res.HasMore, func(v ConversationView) string {
		return ConversationCursor(v.ConversationID)
	}), nil
}

// GetConversation looks up a conversation's metadata row.
// With enrichUsers, the newest message supplies the two participant ids.
func (s *Service) GetConversation(ctx context.Context, conversationID string, enrichUsers bool) (ConversationDetail, error) {
	const op = "chat.GetConversation"

	convID, err := identity.ParseConversationID(conversationID)
	if err != nil {
		return ConversationDetail{}, err
	}

	if !enrichUsers {
		conv, found, err := s.store.GetConversation(ctx, convID)
		if err != nil {
			return ConversationDetail{}, err
		}
		if !found {
			return ConversationDetail{}, notFound(op, convID)
		}
		return ConversationDetail{Conversation: conv}, nil
	}

	// Metadata and the newest message live in different partitions; read both at
	// once and abandon the other read on the first failure.
	var (
		conv  Conversation
		found bool
		res   ListMessagesResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conv, found, err = s.store.GetConversation(gctx, convID)
		return err
	})
	g.Go(func() error {
		var err error
		res, err = s.store.ListMessages(gctx, ListMessagesInput{ConversationID: convID, Limit: 1})
		return err
	})
	if err := g.Wait(); err != nil {
		return ConversationDetail{}, err
	}
	if !found {
		return ConversationDetail{}, notFound(op, convID)
	}

	detail := ConversationDetail{Conversation: conv}
	if len(res.Messages) > 0 {
		m := res.Messages[0]
		u1, u2 := m.SenderID, m.ReceiverID
		detail.User1ID = &u1
		detail.User2ID = &u2
	}
	return detail, nil
}

// GetOrCreateConversation ensures the metadata row for the pair (a, b) exists.
// An existing row is returned unchanged.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	ua, err := identity.ParseUserID(a)
	if err != nil {
		return Conversation{}, err
	}
	ub, err := identity.ParseUserID(b)
	if err != nil {
		return Conversation{}, err
	}

	return s.store.EnsureConversation(ctx, identity.ResolveConversationID(ua, ub), s.now())
}

func notFound(op string, id uuid.UUID) error {
	return OpError{Op: op, Kind: ErrNotFound, Msg: "conversation " + id.String()}
}
