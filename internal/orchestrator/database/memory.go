package database

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// memTx marks calls made inside Memory.InTransaction. It never reaches pgx.
type memTx struct {
	pgx.Tx
	owner *Memory
}

type memState struct {
	bots     map[int64]models.Bot
	slots    map[string]models.PoolSlot
	queue    map[string]models.QueueEntry
	queueSeq map[string]int64
	nextBot  int64
	nextSeq  int64
}

func (s *memState) clone() memState {
	return memState{
		bots:     maps.Clone(s.bots),
		slots:    maps.Clone(s.slots),
		queue:    maps.Clone(s.queue),
		queueSeq: maps.Clone(s.queueSeq),
		nextBot:  s.nextBot,
		nextSeq:  s.nextSeq,
	}
}

// Memory is an in-process Database used for development (DATABASE_URL=memory) and tests.
// All operations are serialized; a failed transaction restores the state it started from.
type Memory struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

var _ database.Database = (*Memory)(nil)

// NewMemory creates an empty in-memory database
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			bots:     make(map[int64]models.Bot),
			slots:    make(map[string]models.PoolSlot),
			queue:    make(map[string]models.QueueEntry),
			queueSeq: make(map[string]int64),
		},
		now: time.Now,
	}
}

// lock takes the store mutex unless the caller already holds it through InTransaction
func (m *Memory) lock(tx pgx.Tx) func() {
	if t, ok := tx.(*memTx); ok && t.owner == m {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// InTransaction executes fn with exclusive access to the store
func (m *Memory) InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memTx{owner: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

func (m *Memory) CreateBot(_ context.Context, tx pgx.Tx, bot *models.Bot) error {
	if bot == nil || bot.MeetingURL == "" {
		return fmt.Errorf("%w: meeting url is required", database.ErrInvalidInput)
	}
	defer m.lock(tx)()

	if bot.Status == "" {
		bot.Status = models.BotStatusReadyToDeploy
	}
	m.state.nextBot++
	now := m.now().UTC()
	bot.ID = m.state.nextBot
	bot.CreatedAt = now
	bot.UpdatedAt = now
	m.state.bots[bot.ID] = *bot
	return nil
}

func (m *Memory) GetBot(_ context.Context, tx pgx.Tx, id int64) (*models.Bot, error) {
	defer m.lock(tx)()
	bot, ok := m.state.bots[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &bot, nil
}

func (m *Memory) ListBots(_ context.Context, tx pgx.Tx, filter *models.BotFilter) ([]*models.Bot, error) {
	defer m.lock(tx)()

	var bots []*models.Bot
	for _, b := range m.state.bots {
		if filter != nil {
			if filter.Platform != nil && b.DeploymentPlatform != *filter.Platform {
				continue
			}
			if filter.Status != nil && b.Status != *filter.Status {
				continue
			}
		}
		bot := b
		bots = append(bots, &bot)
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].ID > bots[j].ID })
	if filter != nil && filter.Limit > 0 && len(bots) > filter.Limit {
		bots = bots[:filter.Limit]
	}
	return bots, nil
}

func (m *Memory) UpdateBotStatus(_ context.Context, tx pgx.Tx, id int64, status models.BotStatus, errMsg string) error {
	defer m.lock(tx)()
	bot, ok := m.state.bots[id]
	if !ok {
		return database.ErrNotFound
	}
	bot.Status = status
	bot.ErrorMessage = errMsg
	bot.UpdatedAt = m.now().UTC()
	m.state.bots[id] = bot
	return nil
}

func (m *Memory) UpdateBotDeployment(_ context.Context, tx pgx.Tx, id int64, d database.BotDeployment) error {
	defer m.lock(tx)()
	bot, ok := m.state.bots[id]
	if !ok {
		return database.ErrNotFound
	}
	bot.DeploymentPlatform = d.Platform
	bot.PlatformIdentifier = d.PlatformIdentifier
	bot.Status = d.Status
	bot.ErrorMessage = d.ErrorMessage
	bot.UpdatedAt = m.now().UTC()
	m.state.bots[id] = bot
	return nil
}

func (m *Memory) RecordHeartbeat(_ context.Context, tx pgx.Tx, id int64, at time.Time) error {
	defer m.lock(tx)()
	bot, ok := m.state.bots[id]
	if !ok {
		return database.ErrNotFound
	}
	at = at.UTC()
	bot.HeartbeatAt = &at
	bot.UpdatedAt = m.now().UTC()
	m.state.bots[id] = bot
	return nil
}

func (m *Memory) ListStaleBots(_ context.Context, tx pgx.Tx, cutoff time.Time, statuses []models.BotStatus) ([]*models.Bot, error) {
	defer m.lock(tx)()

	want := make(map[models.BotStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var bots []*models.Bot
	for _, b := range m.state.bots {
		if !want[b.Status] {
			continue
		}
		last := b.UpdatedAt
		if b.HeartbeatAt != nil {
			last = *b.HeartbeatAt
		}
		if last.Before(cutoff) {
			bot := b
			bots = append(bots, &bot)
		}
	}
	sort.Slice(bots, func(i, j int) bool { return bots[i].ID < bots[j].ID })
	return bots, nil
}

func (m *Memory) CreateSlot(_ context.Context, tx pgx.Tx, slot *models.PoolSlot) error {
	if slot == nil || slot.ID == "" || slot.WorkloadID == "" || slot.SlotName == "" {
		return fmt.Errorf("%w: slot id, workload id and name are required", database.ErrInvalidInput)
	}
	defer m.lock(tx)()

	for _, existing := range m.state.slots {
		if existing.ID == slot.ID || existing.WorkloadID == slot.WorkloadID || existing.SlotName == slot.SlotName {
			return database.ErrAlreadyExists
		}
	}
	if slot.Status == "" {
		slot.Status = models.SlotStatusIdle
	}
	now := m.now().UTC()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	m.state.slots[slot.ID] = *slot
	return nil
}

func (m *Memory) GetSlot(_ context.Context, tx pgx.Tx, id string) (*models.PoolSlot, error) {
	defer m.lock(tx)()
	slot, ok := m.state.slots[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &slot, nil
}

func (m *Memory) GetSlotByBot(_ context.Context, tx pgx.Tx, botID int64) (*models.PoolSlot, error) {
	defer m.lock(tx)()
	for _, s := range m.state.slots {
		if s.AssignedBotID != nil && *s.AssignedBotID == botID {
			slot := s
			return &slot, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *Memory) ListSlots(_ context.Context, tx pgx.Tx, filter *database.SlotFilter) ([]*models.PoolSlot, error) {
	defer m.lock(tx)()

	var slots []*models.PoolSlot
	for _, s := range m.state.slots {
		if filter != nil {
			if filter.Status != nil && s.Status != *filter.Status {
				continue
			}
			if filter.Platform != nil && s.Platform != *filter.Platform {
				continue
			}
		}
		slot := s
		slots = append(slots, &slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].SlotName < slots[j].SlotName })
	return slots, nil
}

func (m *Memory) ClaimIdleSlot(_ context.Context, tx pgx.Tx, platform models.PlatformType, botID int64) (*models.PoolSlot, error) {
	defer m.lock(tx)()

	var candidate *models.PoolSlot
	for _, s := range m.state.slots {
		if s.AssignedBotID != nil && *s.AssignedBotID == botID {
			return nil, database.ErrAlreadyExists
		}
		if s.Platform != platform || s.Status != models.SlotStatusIdle {
			continue
		}
		if candidate == nil || lessRecentlyUsed(&s, candidate) {
			slot := s
			candidate = &slot
		}
	}
	if candidate == nil {
		return nil, database.ErrNotFound
	}

	id := botID
	candidate.Status = models.SlotStatusDeploying
	candidate.AssignedBotID = &id
	candidate.ErrorMessage = ""
	candidate.UpdatedAt = m.now().UTC()
	m.state.slots[candidate.ID] = *candidate
	return candidate, nil
}

// lessRecentlyUsed orders never-used slots first, then by last use, then by name
func lessRecentlyUsed(a, b *models.PoolSlot) bool {
	switch {
	case a.LastUsedAt == nil && b.LastUsedAt != nil:
		return true
	case a.LastUsedAt != nil && b.LastUsedAt == nil:
		return false
	case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
		return a.LastUsedAt.Before(*b.LastUsedAt)
	}
	return a.SlotName < b.SlotName
}

func (m *Memory) UpdateSlot(_ context.Context, tx pgx.Tx, slot *models.PoolSlot) error {
	if slot.Status.IsAssigned() != (slot.AssignedBotID != nil) {
		return fmt.Errorf("%w: slot %s status %s inconsistent with assignment", database.ErrInvalidInput, slot.ID, slot.Status)
	}
	defer m.lock(tx)()

	existing, ok := m.state.slots[slot.ID]
	if !ok {
		return database.ErrNotFound
	}
	if slot.AssignedBotID != nil {
		for id, s := range m.state.slots {
			if id != slot.ID && s.AssignedBotID != nil && *s.AssignedBotID == *slot.AssignedBotID {
				return database.ErrAlreadyExists
			}
		}
	}
	existing.WorkloadID = slot.WorkloadID
	existing.Status = slot.Status
	existing.AssignedBotID = slot.AssignedBotID
	existing.LastUsedAt = slot.LastUsedAt
	existing.ErrorMessage = slot.ErrorMessage
	existing.RecoveryAttempts = slot.RecoveryAttempts
	existing.UpdatedAt = m.now().UTC()
	m.state.slots[slot.ID] = existing
	slot.UpdatedAt = existing.UpdatedAt
	return nil
}

func (m *Memory) DeleteSlot(_ context.Context, tx pgx.Tx, id string) error {
	defer m.lock(tx)()
	if _, ok := m.state.slots[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.state.slots, id)
	return nil
}

func (m *Memory) EnqueueBot(_ context.Context, tx pgx.Tx, entry *models.QueueEntry) error {
	if entry == nil || entry.ID == "" || entry.BotID == 0 {
		return fmt.Errorf("%w: queue entry id and bot id are required", database.ErrInvalidInput)
	}
	defer m.lock(tx)()

	for _, e := range m.state.queue {
		if e.BotID == entry.BotID || e.ID == entry.ID {
			return database.ErrAlreadyExists
		}
	}
	if entry.Status == "" {
		entry.Status = models.QueueEntryWaiting
	}
	m.state.nextSeq++
	m.state.queue[entry.ID] = *entry
	m.state.queueSeq[entry.ID] = m.state.nextSeq
	return nil
}

func (m *Memory) GetQueueEntryByBot(_ context.Context, tx pgx.Tx, botID int64) (*models.QueueEntry, error) {
	defer m.lock(tx)()
	for _, e := range m.state.queue {
		if e.BotID == botID {
			entry := e
			return &entry, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *Memory) ListQueueEntries(_ context.Context, tx pgx.Tx) ([]*models.QueueEntry, error) {
	defer m.lock(tx)()

	entries := make([]*models.QueueEntry, 0, len(m.state.queue))
	for _, e := range m.state.queue {
		entry := e
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.QueuedAt.Equal(b.QueuedAt) {
			return a.QueuedAt.Before(b.QueuedAt)
		}
		return m.state.queueSeq[a.ID] < m.state.queueSeq[b.ID]
	})
	return entries, nil
}

func (m *Memory) DeleteQueueEntry(_ context.Context, tx pgx.Tx, id string) error {
	defer m.lock(tx)()
	if _, ok := m.state.queue[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.state.queue, id)
	delete(m.state.queueSeq, id)
	return nil
}
