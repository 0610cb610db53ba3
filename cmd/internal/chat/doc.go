// Package chat is Courier's direct-message core.
//
// Data model (one logical fact, three physical views):
//   - messages_by_conversation: append-only log partitioned by conversation_id,
//     clustered by message_id (ULID) descending.
//   - conversations_by_user: one row per (user_id, conversation_id), clustered by
//     conversation_id descending, overwritten on every message.
//   - conversation_metadata: one row per conversation, created at most once.
//
// A send appends to the log, then upserts both per-user rows, then ensures the
// metadata row. The steps are NOT transactional: readers must tolerate a durable
// message whose per-user rows or metadata have not landed yet.
//
// Listing is cursor based. The cursor is the external form of the last returned
// row's clustering key and is an exclusive upper bound for the next page.
// Conversations are ordered by conversation_id (opaque, unrelated to time), not by
// last_updated; last_updated is a display field only.
package chat
