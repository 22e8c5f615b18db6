package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huddle/session-core/internal/protocol"
	"github.com/huddle/session-core/internal/storage"
	"github.com/huddle/session-core/internal/transport"
)

// ErrBlankMessage is reported when SendLocal is called with text that is
// empty after trimming.
var ErrBlankMessage = errors.New("history: message is blank")

// persistTimeout bounds each storage write; a slow or dead backend must not
// wedge the event flow.
const persistTimeout = 5 * time.Second

// Session is the slice of the session manager the store consumes.
type Session interface {
	ActiveRoom() string
	Identity() string
}

// StorageKey returns the persistence key for a room's history.
func StorageKey(room string) string {
	return "messages:" + room
}

// Store is the per-room message history. The in-memory sequence always
// reflects the active room; switching rooms replaces it via LoadForRoom.
type Store struct {
	tr      transport.Transport
	sess    Session
	storage storage.Store

	mu          sync.Mutex
	messages    []Message // newest-first
	lastLocalMs int64
}

// NewStore creates a Store bound to the given transport, session and
// persistence backend.
func NewStore(tr transport.Transport, sess Session, st storage.Store) *Store {
	return &Store{tr: tr, sess: sess, storage: st}
}

// ApplyIncoming ingests a chat:new event. Events for a room other than the
// active one, and events whose text is blank after trimming, are silently
// dropped. Returns whether the event was merged into the history.
func (s *Store) ApplyIncoming(ev protocol.ChatNewEvent) bool {
	room := s.sess.ActiveRoom()
	if ev.Room != room {
		log.Printf("[history] dropping message for room=%s (active=%s)", ev.Room, room)
		return false
	}
	if blank(ev.Text) {
		return false
	}

	msg := Message{
		ID:        ev.ID,
		AuthorID:  ev.AuthorID,
		CreatedAt: ev.CreatedAt,
		Text:      ev.Text,
	}
	if msg.ID == "" {
		// Provider sent no canonical id; synthesize one.
		msg.ID = uuid.NewString()
	}
	if msg.AuthorID == "" {
		msg.AuthorID = "peer"
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}

	s.Merge(room, msg)
	return true
}

// Merge applies a message to the history. A message whose id is already
// present replaces that entry in place — incoming values win — so a server
// echo carrying the canonical timestamp overwrites the optimistic local
// copy. Unknown ids are prepended and the history is truncated to
// MaxMessages. The resulting sequence is persisted under the room's key.
func (s *Store) Merge(room string, msg Message) {
	s.mu.Lock()
	replaced := false
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		s.messages = append([]Message{msg}, s.messages...)
		if len(s.messages) > MaxMessages {
			s.messages = s.messages[:MaxMessages]
		}
	}
	snapshot := make([]Message, len(s.messages))
	copy(snapshot, s.messages)
	s.mu.Unlock()

	s.persist(room, snapshot)
}

// SendLocal validates and sends a message authored by the local user: it is
// merged optimistically before any network acknowledgment, persisted, then
// emitted tagged with the active room. There is no rollback if the transport
// later fails — reconciliation is keyed on id equality when the echo
// arrives.
func (s *Store) SendLocal(text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, ErrBlankMessage
	}
	if err := ValidateText(trimmed); err != nil {
		return Message{}, err
	}

	room := s.sess.ActiveRoom()
	msg := Message{
		ID:        s.nextLocalID(),
		AuthorID:  s.sess.Identity(),
		CreatedAt: time.Now().UnixMilli(),
		Text:      trimmed,
	}
	s.Merge(room, msg)

	if err := s.tr.Emit(protocol.EventChatSend, protocol.ChatSendEvent{
		ID:        msg.ID,
		AuthorID:  msg.AuthorID,
		CreatedAt: msg.CreatedAt,
		Text:      msg.Text,
		Room:      room,
	}); err != nil {
		// Fire-and-forget: the local copy stays, the send is not retried.
		log.Printf("[history] send failed (keeping local copy): %v", err)
	}
	return msg, nil
}

// LoadForRoom replaces the in-memory history with the persisted sequence for
// the given room. Duplicate ids collapse to one entry — the last occurrence
// per id wins, in the relative order of each id's first occurrence. Missing
// or corrupt data yields an empty history, never an error.
func (s *Store) LoadForRoom(ctx context.Context, room string) {
	var loaded []Message

	data, err := s.storage.Get(ctx, StorageKey(room))
	if err != nil {
		log.Printf("[history] load room=%s failed: %v", room, err)
	} else if len(data) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			log.Printf("[history] corrupt history for room=%s: %v", room, err)
			loaded = nil
		}
	}

	deduped := dedupeByID(loaded)
	if len(deduped) > MaxMessages {
		// An oversized blob written by an older or external writer still
		// loads, but the cap holds from the start, not from the next merge.
		deduped = deduped[:MaxMessages]
	}

	s.mu.Lock()
	s.messages = deduped
	s.mu.Unlock()
	log.Printf("[history] loaded %d messages for room=%s", len(deduped), room)
}

// dedupeByID collapses duplicate ids: order of first occurrence, value of
// last occurrence.
func dedupeByID(msgs []Message) []Message {
	order := make([]string, 0, len(msgs))
	byID := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		if _, seen := byID[m.ID]; !seen {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}
	out := make([]Message, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// Messages returns a snapshot of the history, newest-first.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the current history length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// persist writes the full sequence under the room's key, overwriting prior
// content. Persistence is at-least-once, not transactional: failures are
// logged and the in-memory state stands.
func (s *Store) persist(room string, msgs []Message) {
	data, err := json.Marshal(msgs)
	if err != nil {
		log.Printf("[history] marshal for room=%s failed: %v", room, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.storage.Set(ctx, StorageKey(room), data); err != nil {
		log.Printf("[history] persist room=%s failed: %v", room, err)
	}
}

// nextLocalID synthesizes a message id from the send time. Ids stay strictly
// increasing even when two sends land on the same millisecond.
func (s *Store) nextLocalID() string {
	s.mu.Lock()
	now := time.Now().UnixMilli()
	if now <= s.lastLocalMs {
		now = s.lastLocalMs + 1
	}
	s.lastLocalMs = now
	s.mu.Unlock()
	return fmt.Sprintf("m_%d", now)
}
