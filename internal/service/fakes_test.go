package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/repository"
	"github.com/onurcolak/inbox-delivery-service/internal/worker"
)

//
// In-memory store with the same uniqueness and status guards as MySQL.
//

type memDB struct {
	mu            sync.Mutex
	nextConvID    int64
	nextMsgID     int64
	conversations map[int64]*domain.Conversation
	messages      map[int64]*domain.Message

	// saveErrs are returned by SaveInbound, one per call, before touching data.
	saveErrs []error
	// existsAlwaysFalse simulates retries racing past the advisory check.
	existsAlwaysFalse bool
	// beforeSave runs once, ahead of the next SaveInbound, to stage a
	// concurrent writer.
	beforeSave func()
}

func newMemDB() *memDB {
	return &memDB{
		conversations: map[int64]*domain.Conversation{},
		messages:      map[int64]*domain.Message{},
	}
}

func (db *memDB) convs() *memConversations { return &memConversations{db: db} }
func (db *memDB) msgs() *memMessages       { return &memMessages{db: db} }

func (db *memDB) seedConversation(conv *domain.Conversation) *domain.Conversation {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextConvID++
	c := *conv
	c.ID = db.nextConvID
	db.conversations[c.ID] = &c
	out := c
	return &out
}

func (db *memDB) seedMessage(msg *domain.Message) *domain.Message {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextMsgID++
	m := *msg
	m.ID = db.nextMsgID
	db.messages[m.ID] = &m
	out := m
	return &out
}

func (db *memDB) conversation(id int64) *domain.Conversation {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.conversations[id]
	if !ok {
		return nil
	}
	out := *c
	return &out
}

func (db *memDB) message(id int64) *domain.Message {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.messages[id]
	if !ok {
		return nil
	}
	out := *m
	return &out
}

func (db *memDB) messageCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.messages)
}

func (db *memDB) conversationCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.conversations)
}

func (db *memDB) insertConversationLocked(conv *domain.Conversation) (int64, error) {
	for _, c := range db.conversations {
		if c.DeletedAt == nil && c.BusinessID == conv.BusinessID && c.Channel == conv.Channel && c.CustomerKey == conv.CustomerKey {
			return 0, domain.ErrConversationExists
		}
	}

	db.nextConvID++
	c := *conv
	c.ID = db.nextConvID
	db.conversations[c.ID] = &c
	return c.ID, nil
}

func (db *memDB) insertMessageLocked(msg *domain.Message) (int64, error) {
	if msg.ProviderMessageID != nil {
		for _, m := range db.messages {
			if m.ConversationID == msg.ConversationID && m.ProviderMessageID != nil &&
				*m.ProviderMessageID == *msg.ProviderMessageID {
				return 0, domain.ErrDuplicateMessage
			}
		}
	}

	db.nextMsgID++
	m := *msg
	m.ID = db.nextMsgID
	m.CreatedAt = time.Now()
	db.messages[m.ID] = &m
	return m.ID, nil
}

type memConversations struct {
	db *memDB
}

func (r *memConversations) FindByCustomer(
	ctx context.Context,
	businessID string,
	channel domain.Channel,
	customerKey string,
) (*domain.Conversation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, c := range r.db.conversations {
		if c.DeletedAt == nil && c.BusinessID == businessID && c.Channel == channel && c.CustomerKey == customerKey {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memConversations) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	return r.db.conversation(id), nil
}

func (r *memConversations) Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	r.db.mu.Lock()
	id, err := r.db.insertConversationLocked(conv)
	r.db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.db.conversation(id), nil
}

func (r *memConversations) TouchOutbound(ctx context.Context, id int64, at time.Time, unreadDelta int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if c, ok := r.db.conversations[id]; ok {
		c.LastMessageAt = &at
		c.UnreadCount += unreadDelta
	}
	return nil
}

type memMessages struct {
	db *memDB
}

func (r *memMessages) SaveInbound(ctx context.Context, w repository.InboundWrite) (repository.InboundResult, error) {
	if hook := r.db.beforeSave; hook != nil {
		r.db.beforeSave = nil
		hook()
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if len(r.db.saveErrs) > 0 {
		err := r.db.saveErrs[0]
		r.db.saveErrs = r.db.saveErrs[1:]
		if err != nil {
			return repository.InboundResult{}, err
		}
	}

	convID := w.ConversationID
	if w.NewConversation != nil {
		id, err := r.db.insertConversationLocked(w.NewConversation)
		if err != nil {
			return repository.InboundResult{}, err
		}
		convID = id
	}

	msg := *w.Message
	msg.ConversationID = convID

	msgID, err := r.db.insertMessageLocked(&msg)
	if err != nil {
		if w.NewConversation != nil {
			delete(r.db.conversations, convID)
		}
		return repository.InboundResult{}, err
	}

	if w.NewConversation == nil {
		c := r.db.conversations[convID]
		at := w.ActivityAt
		c.LastMessageAt = &at
		c.Status = domain.ConversationOpen
		c.ArchiveType = nil
		c.UnreadCount += w.UnreadDelta
	}

	return repository.InboundResult{ConversationID: convID, MessageID: msgID}, nil
}

func (r *memMessages) ExistsByProviderMessageID(ctx context.Context, conversationID int64, providerMessageID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.db.existsAlwaysFalse {
		return false, nil
	}

	for _, m := range r.db.messages {
		if m.ConversationID == conversationID && m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memMessages) Create(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	r.db.mu.Lock()
	id, err := r.db.insertMessageLocked(msg)
	r.db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.db.message(id), nil
}

func (r *memMessages) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	return r.db.message(id), nil
}

func (r *memMessages) FindByProviderMessageID(
	ctx context.Context,
	channel domain.Channel,
	providerMessageID string,
) (*domain.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var found *domain.Message
	for _, m := range r.db.messages {
		if m.Channel == channel && m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			if found == nil || m.ID > found.ID {
				found = m
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	out := *found
	return &out, nil
}

func (r *memMessages) ListByConversation(
	ctx context.Context,
	conversationID int64,
	page, pageSize int,
) ([]domain.Message, int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var all []domain.Message
	for _, m := range r.db.messages {
		if m.ConversationID == conversationID {
			all = append(all, *m)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	start := (page - 1) * pageSize
	if start >= len(all) {
		return []domain.Message{}, int64(len(all)), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

// transition mirrors the repository's conditional UPDATE.
func (r *memMessages) transition(id int64, next domain.MessageStatus, retry bool, apply func(m *domain.Message)) bool {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.messages[id]
	if !ok {
		return false
	}

	for _, from := range domain.StatusesAllowing(next, retry) {
		if m.CurrentStatus() == from {
			apply(m)
			m.Status = domain.StatusPtr(next)
			return true
		}
	}
	return false
}

func (r *memMessages) MarkSent(
	ctx context.Context,
	id int64,
	sentAt time.Time,
	providerMessageID string,
	metadata domain.JSONMap,
	retry bool,
) (bool, error) {
	return r.transition(id, domain.StatusSent, retry, func(m *domain.Message) {
		m.SentAt = &sentAt
		if providerMessageID != "" {
			pid := providerMessageID
			m.ProviderMessageID = &pid
		}
		m.Metadata = m.Metadata.Merge(metadata)
		m.ErrorMessage = nil
	}), nil
}

func (r *memMessages) MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (bool, error) {
	return r.transition(id, domain.StatusFailed, false, func(m *domain.Message) {
		m.FailedAt = &failedAt
		m.ErrorMessage = &reason
	}), nil
}

func (r *memMessages) MarkDelivered(ctx context.Context, id int64, deliveredAt time.Time) (bool, error) {
	return r.transition(id, domain.StatusDelivered, false, func(m *domain.Message) {
		m.DeliveredAt = &deliveredAt
	}), nil
}

func (r *memMessages) MarkRead(ctx context.Context, id int64, readAt time.Time) (bool, error) {
	return r.transition(id, domain.StatusRead, false, func(m *domain.Message) {
		m.ReadAt = &readAt
		if m.DeliveredAt == nil {
			m.DeliveredAt = &readAt
		}
	}), nil
}

//
// Collaborators.
//

type fakeUsage struct {
	mu         sync.Mutex
	denied     bool
	checkErr   error
	increments int
}

func (u *fakeUsage) CanCreateConversation(ctx context.Context, businessID string) (bool, error) {
	if u.checkErr != nil {
		return false, u.checkErr
	}
	return !u.denied, nil
}

func (u *fakeUsage) IncrementConversationUsage(ctx context.Context, businessID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.increments++
	return nil
}

// syncSubmitter runs tasks inline so tests observe their effects directly.
type syncSubmitter struct {
	mu     sync.Mutex
	names  []string
	reject bool
}

func (s *syncSubmitter) Submit(name string, fn worker.TaskFunc) bool {
	if s.reject {
		return false
	}
	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()

	_ = fn(context.Background())
	return true
}

func (s *syncSubmitter) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

type fakeNotes struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (n *fakeNotes) TriggerAutoNote(ctx context.Context, businessID string, conversationID, messageID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, conversationID)
	return n.err
}

type fakeConnectionFinder struct {
	byPlatformUserID map[string]*domain.Connection
}

func (f *fakeConnectionFinder) FindActiveByPlatformUserID(
	ctx context.Context,
	platform domain.Channel,
	platformUserID string,
) (*domain.Connection, error) {
	conn, ok := f.byPlatformUserID[string(platform)+":"+platformUserID]
	if !ok {
		return nil, nil
	}
	return conn, nil
}

// fakeConnectionStore backs a real credentials.TokenService.
type fakeConnectionStore struct {
	active map[domain.Channel]*domain.Connection
}

func (f *fakeConnectionStore) FindActive(ctx context.Context, businessID string, platform domain.Channel) (*domain.Connection, error) {
	conn, ok := f.active[platform]
	if !ok || !conn.IsActive || conn.BusinessID != businessID {
		return nil, nil
	}
	out := *conn
	return &out, nil
}

func (f *fakeConnectionStore) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	return nil
}

type fakeWhatsAppClient struct {
	wamid string
	err   error
	calls int
	to    string
}

func (c *fakeWhatsAppClient) SendWhatsAppMessage(ctx context.Context, accessToken, phoneNumberID, to, text string) (string, error) {
	c.calls++
	c.to = to
	return c.wamid, c.err
}

type fakeInstagramClient struct {
	id    string
	err   error
	calls int
}

func (c *fakeInstagramClient) SendInstagramMessage(ctx context.Context, accessToken, igUserID, recipientID, text string) (string, error) {
	c.calls++
	return c.id, c.err
}
