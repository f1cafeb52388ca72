package service

import (
	"sync"

	"github.com/mbeoliero/ecommunity/internal/entity"
)

// MessageStore holds the messages of one conversation in arrival order; the id is the dedup key
type MessageStore struct {
	conversationId string

	mu       sync.RWMutex
	messages []*entity.Message
	ids      map[string]struct{}
}

func NewMessageStore(conversationId string) *MessageStore {
	return &MessageStore{
		conversationId: conversationId,
		ids:            make(map[string]struct{}),
	}
}

func (s *MessageStore) ConversationId() string {
	return s.conversationId
}

// Replace installs a freshly fetched window. Pending optimistic entries survive, as do
// confirmed entries older than the window (pages loaded with LoadOlder).
// An empty window drops every confirmed entry.
func (s *MessageStore) Replace(fetched []*entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := make([]*entity.Message, 0, len(fetched))
	windowIds := make(map[string]struct{}, len(fetched))
	var oldest int64
	for _, m := range fetched {
		if _, dup := windowIds[m.Id]; dup {
			continue
		}
		windowIds[m.Id] = struct{}{}
		window = append(window, m)
		if len(window) == 1 || m.CreatedAt < oldest {
			oldest = m.CreatedAt
		}
	}

	next := make([]*entity.Message, 0, len(s.messages)+len(window))
	var pending []*entity.Message
	for _, m := range s.messages {
		if m.Optimistic {
			pending = append(pending, m)
			continue
		}
		if len(window) == 0 {
			continue
		}
		if _, inWindow := windowIds[m.Id]; inWindow {
			continue
		}
		// ties with the window's oldest entry belong to an older page
		if m.CreatedAt <= oldest {
			next = append(next, m)
		}
	}
	next = append(next, window...)
	next = append(next, pending...)

	s.messages = next
	s.ids = make(map[string]struct{}, len(next))
	for _, m := range next {
		s.ids[m.Id] = struct{}{}
	}
}

// Insert appends m unless its id is already present
func (s *MessageStore) Insert(m *entity.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[m.Id]; ok {
		return false
	}
	s.ids[m.Id] = struct{}{}
	s.messages = append(s.messages, m)
	return true
}

// Prepend adds an older page in front, skipping ids already present; returns how many were added
func (s *MessageStore) Prepend(older []*entity.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := make([]*entity.Message, 0, len(older))
	for _, m := range older {
		if _, ok := s.ids[m.Id]; ok {
			continue
		}
		s.ids[m.Id] = struct{}{}
		added = append(added, m)
	}
	if len(added) > 0 {
		s.messages = append(added, s.messages...)
	}
	return len(added)
}

// Remove deletes the message with id
func (s *MessageStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	for i, m := range s.messages {
		if m.Id == id {
			s.messages = append(s.messages[:i:i], s.messages[i+1:]...)
			break
		}
	}
	return true
}

// Update applies fn to the message with id
func (s *MessageStore) Update(id string, fn func(m *entity.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.Id == id {
			fn(m)
			return true
		}
	}
	return false
}

func (s *MessageStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Get returns a copy of the message with id
func (s *MessageStore) Get(id string) (*entity.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.Id == id {
			return m.Clone(), true
		}
	}
	return nil, false
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot returns copies ordered by creation time
func (s *MessageStore) Snapshot() []*entity.Message {
	s.mu.RLock()
	out := make([]*entity.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	entity.SortMessages(out)
	return out
}
