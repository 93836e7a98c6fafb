package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront-chat/internal/models"
	"storefront-chat/internal/repositories"
)

type participantKey struct {
	threadID int
	role     models.Role
}

type memThreads struct {
	mu      sync.Mutex
	nextID  int
	clock   time.Time
	threads map[int]models.Thread
	parts   map[participantKey]models.ParticipantState
	msgs    *memMessages
}

func newMemThreads() *memThreads {
	return &memThreads{
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		threads: make(map[int]models.Thread),
		parts:   make(map[participantKey]models.ParticipantState),
	}
}

func (r *memThreads) findLocked(userA, userB int) (models.Thread, bool) {
	for _, t := range r.threads {
		if (t.SellerID == userA && t.BuyerID == userB) || (t.SellerID == userB && t.BuyerID == userA) {
			return t, true
		}
	}
	return models.Thread{}, false
}

func (r *memThreads) FindBetween(_ context.Context, userA, userB int) (models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.findLocked(userA, userB); ok {
		return t, nil
	}
	return models.Thread{}, repositories.ErrThreadNotFound
}

func (r *memThreads) CreateOrGet(_ context.Context, sellerID, buyerID int) (models.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.findLocked(sellerID, buyerID); ok {
		return t, false, nil
	}
	r.nextID++
	r.clock = r.clock.Add(time.Second)
	now := r.clock
	t := models.Thread{ID: r.nextID, SellerID: sellerID, BuyerID: buyerID, CreatedAt: now, UpdatedAt: now}
	r.threads[t.ID] = t
	r.parts[participantKey{t.ID, models.RoleSeller}] = models.ParticipantState{ThreadID: t.ID, Role: models.RoleSeller, UserID: sellerID}
	r.parts[participantKey{t.ID, models.RoleBuyer}] = models.ParticipantState{ThreadID: t.ID, Role: models.RoleBuyer, UserID: buyerID}
	return t, true, nil
}

func (r *memThreads) Get(_ context.Context, threadID int) (models.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[threadID]
	if !ok {
		return models.Thread{}, repositories.ErrThreadNotFound
	}
	return t, nil
}

func (r *memThreads) ListForUser(ctx context.Context, userID int, filter models.ThreadFilter) ([]models.ThreadSummary, error) {
	r.mu.Lock()
	var out []models.ThreadSummary
	for _, t := range r.threads {
		role, ok := t.RoleOf(userID)
		if !ok {
			continue
		}
		if filter.Role != models.RoleFilterAll && string(role) != filter.Role {
			continue
		}
		own := r.parts[participantKey{t.ID, role}]
		if filter.Archived == models.ArchivedExclude && own.Archived || filter.Archived == models.ArchivedOnly && !own.Archived {
			continue
		}
		out = append(out, models.ThreadSummary{
			ID:            t.ID,
			SellerID:      t.SellerID,
			BuyerID:       t.BuyerID,
			CreatedAt:     t.CreatedAt,
			UpdatedAt:     t.UpdatedAt,
			Role:          role,
			CounterpartID: t.Counterpart(userID),
			Archived:      own.Archived,
			Muted:         own.Muted,
			Blocked:       own.Blocked,
			MutedUnread:   own.MutedUnread,
		})
	}
	r.mu.Unlock()

	for i := range out {
		n, err := r.msgs.CountUnreadInThread(ctx, out[i].ID, userID)
		if err != nil {
			return nil, err
		}
		out[i].Unread = n
		out[i].LastAt = r.msgs.lastAt(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := lastActivity(out[i]), lastActivity(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func lastActivity(s models.ThreadSummary) time.Time {
	if s.LastAt != nil {
		return *s.LastAt
	}
	return s.UpdatedAt
}

func (r *memThreads) Delete(_ context.Context, threadID int) error {
	r.mu.Lock()
	if _, ok := r.threads[threadID]; !ok {
		r.mu.Unlock()
		return repositories.ErrThreadNotFound
	}
	delete(r.threads, threadID)
	delete(r.parts, participantKey{threadID, models.RoleSeller})
	delete(r.parts, participantKey{threadID, models.RoleBuyer})
	r.mu.Unlock()

	if r.msgs != nil {
		r.msgs.dropThread(threadID)
	}
	return nil
}

func (r *memThreads) Participant(_ context.Context, threadID int, role models.Role) (models.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.parts[participantKey{threadID, role}]
	if !ok {
		return models.ParticipantState{}, repositories.ErrThreadNotFound
	}
	return p, nil
}

func (r *memThreads) SetFlags(_ context.Context, threadID int, role models.Role, flags models.ParticipantFlags) (models.ParticipantState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{threadID, role}
	p, ok := r.parts[key]
	if !ok {
		return models.ParticipantState{}, repositories.ErrThreadNotFound
	}
	if flags.Archived != nil {
		p.Archived = *flags.Archived
	}
	if flags.Muted != nil {
		p.Muted = *flags.Muted
	}
	if flags.Blocked != nil {
		p.Blocked = *flags.Blocked
	}
	r.parts[key] = p
	return p, nil
}

func (r *memThreads) IncrementMutedUnread(_ context.Context, threadID int, role models.Role, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{threadID, role}
	p := r.parts[key]
	p.MutedUnread += n
	r.parts[key] = p
	return nil
}

func (r *memThreads) ResetMutedUnread(_ context.Context, threadID int, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := participantKey{threadID, role}
	if p, ok := r.parts[key]; ok {
		p.MutedUnread = 0
		r.parts[key] = p
	}
	return nil
}

func (r *memThreads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

type memMessages struct {
	mu      sync.Mutex
	nextID  int
	clock   time.Time
	rows    map[int]models.Message
	threads *memThreads
	// afterCount runs once, after CountUnread has counted and before it returns.
	afterCount func()
}

func newMemMessages(threads *memThreads) *memMessages {
	m := &memMessages{
		clock:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		rows:    make(map[int]models.Message),
		threads: threads,
	}
	threads.msgs = m
	return m
}

func (m *memMessages) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memMessages) CreateBatch(ctx context.Context, threadID, senderID int, msgs []models.NewMessage) ([]models.Message, error) {
	if _, err := m.threads.Get(ctx, threadID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, 0, len(msgs))
	for _, nm := range msgs {
		m.nextID++
		msg := models.Message{
			ID:         m.nextID,
			ThreadID:   threadID,
			SenderID:   senderID,
			Body:       nm.Body,
			Attachment: nm.Attachment,
			CreatedAt:  m.tick(),
		}
		m.rows[msg.ID] = msg
		out = append(out, msg)
	}
	return out, nil
}

func (m *memMessages) Get(_ context.Context, messageID int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return msg, nil
}

func (m *memMessages) ListByThread(_ context.Context, threadID int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.rows {
		if msg.ThreadID == threadID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memMessages) UpdateBody(_ context.Context, messageID int, body string) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if msg.IsDeleted() {
		return models.Message{}, repositories.ErrMessageDeleted
	}
	now := m.tick()
	msg.Body = body
	msg.EditedAt = &now
	m.rows[messageID] = msg
	return msg, nil
}

func (m *memMessages) SoftDelete(_ context.Context, messageID int) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	if !msg.IsDeleted() {
		now := m.tick()
		msg.DeletedAt = &now
		m.rows[messageID] = msg
	}
	return msg, nil
}

func (m *memMessages) MarkThreadRead(_ context.Context, threadID, readerID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marked := 0
	now := m.tick()
	for id, msg := range m.rows {
		if msg.ThreadID == threadID && msg.SenderID != readerID && msg.ReadAt == nil {
			readAt := now
			msg.ReadAt = &readAt
			m.rows[id] = msg
			marked++
		}
	}
	return marked, nil
}

func (m *memMessages) CountUnread(ctx context.Context, userID int) (int, error) {
	m.mu.Lock()
	hook := m.afterCount
	m.afterCount = nil
	candidates := make([]models.Message, 0, len(m.rows))
	for _, msg := range m.rows {
		if msg.SenderID != userID && msg.ReadAt == nil {
			candidates = append(candidates, msg)
		}
	}
	m.mu.Unlock()

	count := 0
	for _, msg := range candidates {
		t, err := m.threads.Get(ctx, msg.ThreadID)
		if err != nil {
			continue
		}
		if _, ok := t.RoleOf(userID); ok {
			count++
		}
	}
	if hook != nil {
		hook()
	}
	return count, nil
}

func (m *memMessages) CountUnreadInThread(_ context.Context, threadID, userID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.rows {
		if msg.ThreadID == threadID && msg.SenderID != userID && msg.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *memMessages) lastAt(threadID int) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, msg := range m.rows {
		if msg.ThreadID == threadID && (last == nil || msg.CreatedAt.After(*last)) {
			at := msg.CreatedAt
			last = &at
		}
	}
	return last
}

func (m *memMessages) dropThread(threadID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.rows {
		if msg.ThreadID == threadID {
			delete(m.rows, id)
		}
	}
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memUsers map[int]models.User

func (u memUsers) Exists(_ context.Context, userID int) (bool, error) {
	_, ok := u[userID]
	return ok, nil
}

func (u memUsers) BulkUsers(_ context.Context, ids []int) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if user, ok := u[id]; ok {
			out = append(out, user)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	pushes  map[int][]models.Event
	dropped []int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{pushes: make(map[int][]models.Event)}
}

func (n *recordingNotifier) SendToUser(userID int, event models.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes[userID] = append(n.pushes[userID], event)
	return 1
}

func (n *recordingNotifier) DropThread(threadID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropped = append(n.dropped, threadID)
}

func (n *recordingNotifier) droppedThreads() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int(nil), n.dropped...)
}

func (n *recordingNotifier) typesFor(userID int) []models.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.EventType
	for _, ev := range n.pushes[userID] {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = make(map[int][]models.Event)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) countOf(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}

type cachedTotal struct {
	count int
	gen   int64
}

type mapCache struct {
	mu     sync.Mutex
	totals map[int]cachedTotal
	gens   map[int]int64
}

func newMapCache() *mapCache {
	return &mapCache{totals: make(map[int]cachedTotal), gens: make(map[int]int64)}
}

func (c *mapCache) Get(_ context.Context, userID int) (int, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen := c.gens[userID]
	t, ok := c.totals[userID]
	if !ok || t.gen != gen {
		return 0, gen, false
	}
	return t.count, gen, true
}

func (c *mapCache) Set(_ context.Context, userID int, gen int64, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[userID] = cachedTotal{count: count, gen: gen}
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userIDs ...int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.gens[id]++
		delete(c.totals, id)
	}
	return nil
}
