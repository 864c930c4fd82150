package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plf1996/simFocus/internal/models"
)

// MemoryStore implements Store with in-process maps. Used when PostgreSQL is
// not available (standalone/testing mode). All accessors return copies so
// callers never share mutable state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	topics       map[uuid.UUID]*models.Topic
	personas     map[uuid.UUID]*models.Persona
	discussions  map[uuid.UUID]*models.Discussion
	participants map[uuid.UUID]*models.Participant
	messages     map[uuid.UUID]*models.Message
	reports      map[uuid.UUID]*models.Report
	seq          int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics:       make(map[uuid.UUID]*models.Topic),
		personas:     make(map[uuid.UUID]*models.Persona),
		discussions:  make(map[uuid.UUID]*models.Discussion),
		participants: make(map[uuid.UUID]*models.Participant),
		messages:     make(map[uuid.UUID]*models.Message),
		reports:      make(map[uuid.UUID]*models.Report),
	}
}

// nextTime produces strictly increasing timestamps so creation-order sorting
// is stable even when inserts land within one clock tick.
func (m *MemoryStore) nextTime() time.Time {
	m.seq++
	return time.Now().Add(time.Duration(m.seq) * time.Microsecond)
}

func (m *MemoryStore) CreateTopic(ctx context.Context, topic *models.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if topic.ID == uuid.Nil {
		topic.ID = uuid.New()
	}
	now := m.nextTime()
	topic.CreatedAt = now
	topic.UpdatedAt = now
	cp := *topic
	m.topics[topic.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTopic(ctx context.Context, id uuid.UUID) (*models.Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	topic, ok := m.topics[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *topic
	return &cp, nil
}

func (m *MemoryStore) UpdateTopicStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic, ok := m.topics[id]
	if !ok {
		return ErrNotFound
	}
	topic.Status = status
	topic.UpdatedAt = m.nextTime()
	return nil
}

func (m *MemoryStore) CreatePersona(ctx context.Context, persona *models.Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if persona.ID == uuid.Nil {
		persona.ID = uuid.New()
	}
	now := m.nextTime()
	persona.CreatedAt = now
	persona.UpdatedAt = now
	cp := *persona
	m.personas[persona.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	persona, ok := m.personas[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *persona
	return &cp, nil
}

func (m *MemoryStore) CreateDiscussion(ctx context.Context, discussion *models.Discussion, participants []*models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if discussion.ID == uuid.Nil {
		discussion.ID = uuid.New()
	}
	now := m.nextTime()
	discussion.CreatedAt = now
	discussion.UpdatedAt = now
	cp := *discussion
	m.discussions[discussion.ID] = &cp

	for _, p := range participants {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.DiscussionID = discussion.ID
		p.CreatedAt = m.nextTime()
		pcp := *p
		m.participants[p.ID] = &pcp
	}
	return nil
}

func (m *MemoryStore) GetDiscussion(ctx context.Context, id uuid.UUID) (*models.Discussion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	discussion, ok := m.discussions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *discussion
	return &cp, nil
}

func (m *MemoryStore) GetUserDiscussion(ctx context.Context, id, userID uuid.UUID) (*models.Discussion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	discussion, ok := m.discussions[id]
	if !ok || discussion.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *discussion
	return &cp, nil
}

func (m *MemoryStore) UpdateDiscussion(ctx context.Context, discussion *models.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discussions[discussion.ID]; !ok {
		return ErrNotFound
	}
	discussion.UpdatedAt = m.nextTime()
	cp := *discussion
	m.discussions[discussion.ID] = &cp
	return nil
}

func (m *MemoryStore) AddDiscussionTokens(ctx context.Context, id uuid.UUID, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.discussions[id]
	if !ok {
		return ErrNotFound
	}
	d.TotalTokensUsed += tokens
	d.UpdatedAt = m.nextTime()
	return nil
}

func (m *MemoryStore) ListDiscussions(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Discussion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Discussion
	for _, d := range m.discussions {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, offset, limit), nil
}

func (m *MemoryStore) DeleteDiscussion(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discussions[id]; !ok {
		return ErrNotFound
	}
	delete(m.discussions, id)
	// Cascade, mirroring the FK behavior of the Postgres schema.
	for pid, p := range m.participants {
		if p.DiscussionID == id {
			delete(m.participants, pid)
		}
	}
	for mid, msg := range m.messages {
		if msg.DiscussionID == id {
			delete(m.messages, mid)
		}
	}
	for rid, r := range m.reports {
		if r.DiscussionID == id {
			delete(m.reports, rid)
		}
	}
	return nil
}

func (m *MemoryStore) ListParticipants(ctx context.Context, discussionID uuid.UUID) ([]*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Participant
	for _, p := range m.participants {
		if p.DiscussionID == discussionID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *MemoryStore) AddParticipantUsage(ctx context.Context, participantID uuid.UUID, messages, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantID]
	if !ok {
		return ErrNotFound
	}
	p.MessageCount += messages
	p.TotalTokens += tokens
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = m.nextTime()
	cp := *msg
	m.messages[msg.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, tokenCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Content = content
	msg.TokenCount = tokenCount
	return nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, discussionID uuid.UUID, offset, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.messagesFor(discussionID, func(*models.Message) bool { return true })
	return paginate(out, offset, limit), nil
}

func (m *MemoryStore) ListMessagesInRounds(ctx context.Context, discussionID uuid.UUID, fromRound, toRound int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.messagesFor(discussionID, func(msg *models.Message) bool {
		return msg.Round >= fromRound && msg.Round <= toRound
	}), nil
}

func (m *MemoryStore) messagesFor(discussionID uuid.UUID, keep func(*models.Message) bool) []*models.Message {
	var out []*models.Message
	for _, msg := range m.messages {
		if msg.DiscussionID == discussionID && keep(msg) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) CreateReport(ctx context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	report.CreatedAt = m.nextTime()
	cp := *report
	m.reports[report.ID] = &cp
	return nil
}

func (m *MemoryStore) GetReportByDiscussion(ctx context.Context, discussionID uuid.UUID) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.reports {
		if r.DiscussionID == discussionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
