package pool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	internaldb "github.com/meetbot-dev/meetbot/internal/orchestrator/database"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/pool"
	"github.com/meetbot-dev/meetbot/internal/platform"
	platformtesting "github.com/meetbot-dev/meetbot/internal/platform/testing"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

type fixture struct {
	db      *internaldb.Memory
	fake    *platformtesting.FakePlatform
	clock   *testclock.FakeClock
	manager *pool.Manager
}

func newFixture(t *testing.T, cfg pool.Config) *fixture {
	t.Helper()
	f := &fixture{
		db:    internaldb.NewMemory(),
		fake:  platformtesting.NewFakePlatform(),
		clock: testclock.NewFakeClock(time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)),
	}
	if cfg.Image == "" {
		cfg.Image = "ghcr.io/meetbot-dev/meeting-bot:v1"
	}
	f.manager = pool.NewManager(f.db, f.fake, cfg, pool.WithClock(f.clock))
	return f
}

func (f *fixture) addSlot(t *testing.T, name string, status models.SlotStatus) *models.PoolSlot {
	t.Helper()
	slot := &models.PoolSlot{
		ID:         uuid.NewString(),
		WorkloadID: f.fake.AddWorkload(name),
		SlotName:   name,
		Platform:   f.fake.Name(),
		Status:     status,
	}
	require.NoError(t, f.db.CreateSlot(context.Background(), nil, slot))
	return slot
}

func (f *fixture) addBot(t *testing.T, priority int) *models.Bot {
	t.Helper()
	bot := &models.Bot{
		MeetingPlatform: models.MeetingPlatformZoom,
		MeetingURL:      "https://zoom.us/j/123",
		BotName:         "Notetaker",
		Priority:        priority,
	}
	require.NoError(t, f.db.CreateBot(context.Background(), nil, bot))
	return bot
}

func (f *fixture) slot(t *testing.T, id string) *models.PoolSlot {
	t.Helper()
	slot, err := f.db.GetSlot(context.Background(), nil, id)
	require.NoError(t, err)
	return slot
}

func (f *fixture) bot(t *testing.T, id int64) *models.Bot {
	t.Helper()
	bot, err := f.db.GetBot(context.Background(), nil, id)
	require.NoError(t, err)
	return bot
}

func TestSlotName(t *testing.T) {
	assert.Equal(t, "meetbot-slot-1", pool.SlotName("meetbot", 1))
	assert.Equal(t, "team-bots-slot-12", pool.SlotName("TeamBots", 12))
}

func TestAssignSlotClaimsIdleSlot(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	slot := f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)
	bot := f.addBot(t, 0)

	res, err := f.manager.AssignSlot(ctx, bot)
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.NotNil(t, res.Slot)
	assert.Equal(t, slot.ID, res.Slot.ID)
	assert.Equal(t, models.SlotStatusDeploying, res.Slot.Status)
	assert.Equal(t, bot.ID, *res.Slot.AssignedBotID)

	again, err := f.manager.AssignSlot(ctx, bot)
	require.NoError(t, err)
	assert.Equal(t, slot.ID, again.Slot.ID)
}

func TestAssignSlotConcurrentNeverDoubleAssigns(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		f.addSlot(t, pool.SlotName("meetbot", i), models.SlotStatusIdle)
	}
	bots := make([]*models.Bot, 10)
	for i := range bots {
		bots[i] = f.addBot(t, 0)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[string]int64{}
		queued  int
	)
	for _, bot := range bots {
		wg.Add(1)
		go func(bot *models.Bot) {
			defer wg.Done()
			res, err := f.manager.AssignSlot(ctx, bot)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Queued {
				queued++
				return
			}
			_, dup := claimed[res.Slot.ID]
			assert.False(t, dup, "slot %s assigned twice", res.Slot.SlotName)
			claimed[res.Slot.ID] = bot.ID
		}(bot)
	}
	wg.Wait()

	assert.Len(t, claimed, 3)
	assert.Equal(t, 7, queued)

	stats, err := f.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Deploying)
	assert.Equal(t, 0, stats.Idle)
}

func TestAssignSlotQueuesWhenNoSlotIsIdle(t *testing.T) {
	f := newFixture(t, pool.Config{QueueTimeout: 5 * time.Minute})
	ctx := context.Background()
	bot := f.addBot(t, 2)

	res, err := f.manager.AssignSlot(ctx, bot)
	require.NoError(t, err)
	require.True(t, res.Queued)
	assert.Nil(t, res.Slot)
	assert.Equal(t, f.clock.Now().UTC().Add(5*time.Minute), res.Entry.TimeoutAt)
	assert.Equal(t, 2, res.Entry.Priority)
	assert.Equal(t, models.BotStatusQueued, f.bot(t, bot.ID).Status)

	again, err := f.manager.AssignSlot(ctx, bot)
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, again.Entry.ID)

	stats, err := f.manager.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)

	f.clock.Step(90 * time.Second)
	stats, err = f.manager.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), stats.LongestWaitMs)
}

func TestReleaseSlot(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)
	f.addSlot(t, "meetbot-slot-2", models.SlotStatusIdle)

	botA, botB := f.addBot(t, 0), f.addBot(t, 0)
	resA, err := f.manager.AssignSlot(ctx, botA)
	require.NoError(t, err)
	resB, err := f.manager.AssignSlot(ctx, botB)
	require.NoError(t, err)

	require.NoError(t, f.manager.ReleaseSlot(ctx, resA.Slot.ID, pool.Outcome{Success: true}))
	healthy := f.slot(t, resA.Slot.ID)
	assert.Equal(t, models.SlotStatusHealthy, healthy.Status)
	require.NotNil(t, healthy.LastUsedAt)
	assert.Equal(t, botA.ID, *healthy.AssignedBotID)

	require.NoError(t, f.manager.ReleaseSlot(ctx, resB.Slot.ID, pool.Outcome{Err: errors.New("image pull failed")}))
	failed := f.slot(t, resB.Slot.ID)
	assert.Equal(t, models.SlotStatusError, failed.Status)
	assert.Nil(t, failed.AssignedBotID)
	assert.Equal(t, 1, failed.RecoveryAttempts)
	assert.Equal(t, "image pull failed", failed.ErrorMessage)

	assert.ErrorIs(t, f.manager.ReleaseSlot(ctx, "missing", pool.Outcome{Success: true}), database.ErrNotFound)
}

func TestDrainQueueOrder(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()

	bots := []*models.Bot{f.addBot(t, 5), f.addBot(t, 1), f.addBot(t, 1)}
	for _, bot := range bots {
		res, err := f.manager.AssignSlot(ctx, bot)
		require.NoError(t, err)
		require.True(t, res.Queued)
	}

	var assigned []int64
	f.manager.SetAssignHandler(func(_ context.Context, bot *models.Bot, slot *models.PoolSlot) {
		assigned = append(assigned, bot.ID)
		assert.Equal(t, models.BotStatusDeploying, bot.Status)
		assert.Equal(t, bot.ID, *slot.AssignedBotID)
	})

	for i := 1; i <= 3; i++ {
		f.addSlot(t, pool.SlotName("meetbot", i), models.SlotStatusIdle)
	}
	res, err := f.manager.DrainQueue(ctx)
	require.NoError(t, err)

	want := []int64{bots[1].ID, bots[2].ID, bots[0].ID}
	assert.Equal(t, want, res.Assigned)
	assert.Equal(t, want, assigned)
	assert.Empty(t, res.TimedOut)

	stats, err := f.manager.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
}

func TestDrainQueueStopsWhenSlotsRunOut(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()

	low, high := f.addBot(t, 1), f.addBot(t, 9)
	for _, bot := range []*models.Bot{low, high} {
		_, err := f.manager.AssignSlot(ctx, bot)
		require.NoError(t, err)
	}
	f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)

	res, err := f.manager.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{low.ID}, res.Assigned)

	_, err = f.db.GetQueueEntryByBot(ctx, nil, high.ID)
	assert.NoError(t, err)
	_, err = f.db.GetQueueEntryByBot(ctx, nil, low.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDrainQueueReapsExpiredEntries(t *testing.T) {
	f := newFixture(t, pool.Config{QueueTimeout: time.Minute})
	ctx := context.Background()

	stale := f.addBot(t, 0)
	_, err := f.manager.AssignSlot(ctx, stale)
	require.NoError(t, err)

	f.clock.Step(30 * time.Second)
	fresh := f.addBot(t, 1)
	_, err = f.manager.AssignSlot(ctx, fresh)
	require.NoError(t, err)

	var timeouts []*pool.QueueTimeoutError
	f.manager.SetTimeoutHandler(func(_ context.Context, _ *models.QueueEntry, err *pool.QueueTimeoutError) {
		timeouts = append(timeouts, err)
	})
	var assigned []int64
	f.manager.SetAssignHandler(func(_ context.Context, bot *models.Bot, _ *models.PoolSlot) {
		assigned = append(assigned, bot.ID)
	})

	f.clock.Step(45 * time.Second)
	f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)

	res, err := f.manager.DrainQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{stale.ID}, res.TimedOut)
	assert.Equal(t, []int64{fresh.ID}, res.Assigned)
	assert.Equal(t, []int64{fresh.ID}, assigned)

	require.Len(t, timeouts, 1)
	assert.Equal(t, stale.ID, timeouts[0].BotID)
	assert.Equal(t, time.Minute, timeouts[0].Timeout)

	reaped := f.bot(t, stale.ID)
	assert.Equal(t, models.BotStatusFatal, reaped.Status)
	assert.Contains(t, reaped.ErrorMessage, "timed out waiting for a pool slot")
	_, err = f.db.GetQueueEntryByBot(ctx, nil, stale.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCompleteSlotServesQueue(t *testing.T) {
	f := newFixture(t, pool.Config{QueueTimeout: 10 * time.Minute})
	ctx := context.Background()
	slot := f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)

	first, second := f.addBot(t, 0), f.addBot(t, 0)
	res, err := f.manager.AssignSlot(ctx, first)
	require.NoError(t, err)
	require.False(t, res.Queued)

	res, err = f.manager.AssignSlot(ctx, second)
	require.NoError(t, err)
	require.True(t, res.Queued)
	assert.Equal(t, f.clock.Now().UTC().Add(10*time.Minute), res.Entry.TimeoutAt)

	var handed *models.PoolSlot
	f.manager.SetAssignHandler(func(_ context.Context, bot *models.Bot, s *models.PoolSlot) {
		assert.Equal(t, second.ID, bot.ID)
		handed = s
	})

	require.NoError(t, f.manager.ReleaseSlot(ctx, slot.ID, pool.Outcome{Success: true}))
	require.NoError(t, f.manager.CompleteSlot(ctx, slot.ID))

	assert.Equal(t, 1, f.fake.CallCount("stop"))
	require.NotNil(t, handed)
	assert.Equal(t, slot.ID, handed.ID)

	current := f.slot(t, slot.ID)
	assert.Equal(t, models.SlotStatusDeploying, current.Status)
	assert.Equal(t, second.ID, *current.AssignedBotID)
	_, err = f.db.GetQueueEntryByBot(ctx, nil, second.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCompleteSlotStopFailureMarksError(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	slot := f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)
	_, err := f.manager.AssignSlot(ctx, f.addBot(t, 0))
	require.NoError(t, err)

	f.fake.StopFn = func(context.Context, string) error { return errors.New("api unavailable") }
	require.NoError(t, f.manager.CompleteSlot(ctx, slot.ID))

	current := f.slot(t, slot.ID)
	assert.Equal(t, models.SlotStatusError, current.Status)
	assert.Nil(t, current.AssignedBotID)
	assert.Contains(t, current.ErrorMessage, "api unavailable")
}

func TestRecoverErroredSlots(t *testing.T) {
	f := newFixture(t, pool.Config{RecoveryMaxAttempts: 3})
	ctx := context.Background()

	healthy := f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)
	broken := f.addSlot(t, "meetbot-slot-2", models.SlotStatusError)
	exhausted := f.addSlot(t, "meetbot-slot-3", models.SlotStatusError)
	exhausted.RecoveryAttempts = 3
	require.NoError(t, f.db.UpdateSlot(ctx, nil, exhausted))
	oldWorkload := broken.WorkloadID

	res, err := f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-2"}, res.Recovered)
	assert.Equal(t, []string{"meetbot-slot-3"}, res.Exhausted)
	assert.Empty(t, res.Failed)

	recovered := f.slot(t, broken.ID)
	assert.Equal(t, models.SlotStatusIdle, recovered.Status)
	assert.NotEqual(t, oldWorkload, recovered.WorkloadID)
	assert.True(t, f.fake.HasWorkload(recovered.WorkloadID))
	assert.False(t, f.fake.HasWorkload(oldWorkload))
	assert.Equal(t, "meetbot-slot-2", f.fake.Env[recovered.WorkloadID]["SLOT_NAME"])

	// exhausted slots are reported, never deleted
	kept := f.slot(t, exhausted.ID)
	assert.Equal(t, models.SlotStatusError, kept.Status)
	assert.Equal(t, models.SlotStatusIdle, f.slot(t, healthy.ID).Status)
}

func TestRecoverErroredSlotsContinuesPastFailures(t *testing.T) {
	f := newFixture(t, pool.Config{RecoveryMaxAttempts: 2})
	ctx := context.Background()

	first := f.addSlot(t, "meetbot-slot-1", models.SlotStatusError)
	second := f.addSlot(t, "meetbot-slot-2", models.SlotStatusError)

	f.fake.CreateWorkloadFn = func(_ context.Context, spec platform.WorkloadSpec) (string, error) {
		if spec.Name == "meetbot-slot-1" {
			return "", errors.New("quota exceeded")
		}
		return f.fake.AddWorkload(spec.Name), nil
	}

	res, err := f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Failed)
	assert.Equal(t, []string{"meetbot-slot-2"}, res.Recovered)

	failed := f.slot(t, first.ID)
	assert.Equal(t, models.SlotStatusError, failed.Status)
	assert.Equal(t, 1, failed.RecoveryAttempts)
	assert.Contains(t, failed.ErrorMessage, "quota exceeded")
	assert.Equal(t, models.SlotStatusIdle, f.slot(t, second.ID).Status)

	res, err = f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Failed)

	res, err = f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Exhausted)
}

func TestSyncKeepsErroredSlotWhoseReplacementFailed(t *testing.T) {
	f := newFixture(t, pool.Config{RecoveryMaxAttempts: 1})
	ctx := context.Background()

	broken := f.addSlot(t, "meetbot-slot-1", models.SlotStatusError)
	f.fake.CreateWorkloadFn = func(context.Context, platform.WorkloadSpec) (string, error) {
		return "", errors.New("quota exceeded")
	}

	res, err := f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Failed)
	assert.False(t, f.fake.HasWorkload(broken.WorkloadID))

	res, err = f.manager.RecoverErroredSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Exhausted)

	synced, err := f.manager.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, synced.DatabaseOrphansDeleted)

	kept := f.slot(t, broken.ID)
	assert.Equal(t, models.SlotStatusError, kept.Status)
	assert.Contains(t, kept.ErrorMessage, "quota exceeded")
}

func TestRecoveryIsNotUndoneByConcurrentSync(t *testing.T) {
	f := newFixture(t, pool.Config{})
	broken := f.addSlot(t, "meetbot-slot-1", models.SlotStatusError)

	synced := make(chan *models.SyncResult, 1)
	f.fake.CreateWorkloadFn = func(_ context.Context, spec platform.WorkloadSpec) (string, error) {
		id := f.fake.AddWorkload(spec.Name)
		go func() {
			res, err := f.manager.Sync(context.Background())
			assert.NoError(t, err)
			synced <- res
		}()
		// give Sync the chance to list the replacement before the slot points at it
		time.Sleep(20 * time.Millisecond)
		return id, nil
	}

	res, err := f.manager.RecoverErroredSlots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"meetbot-slot-1"}, res.Recovered)

	syncRes := <-synced
	require.NotNil(t, syncRes)
	assert.Zero(t, syncRes.PlatformOrphansDeleted)
	assert.Zero(t, syncRes.DatabaseOrphansDeleted)

	recovered := f.slot(t, broken.ID)
	assert.Equal(t, models.SlotStatusIdle, recovered.Status)
	assert.True(t, f.fake.HasWorkload(recovered.WorkloadID))
}

func TestSyncReconciles(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()

	a := f.fake.AddWorkload("meetbot-slot-a")
	b := f.addSlot(t, "meetbot-slot-b", models.SlotStatusIdle)
	c := f.addSlot(t, "meetbot-slot-c", models.SlotStatusIdle)
	d := f.addSlot(t, "meetbot-slot-d", models.SlotStatusIdle)
	require.NoError(t, f.fake.Delete(ctx, d.WorkloadID))

	res, err := f.manager.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PlatformOrphansDeleted)
	assert.Equal(t, 1, res.DatabaseOrphansDeleted)
	assert.Equal(t, 3, res.TotalPlatformWorkloads)
	assert.Equal(t, 3, res.TotalDatabaseSlots)
	assert.Empty(t, res.Errors)

	assert.False(t, f.fake.HasWorkload(a))
	assert.True(t, f.fake.HasWorkload(b.WorkloadID))
	assert.True(t, f.fake.HasWorkload(c.WorkloadID))

	slots, err := f.manager.ListSlots(ctx, nil)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, b.ID, slots[0].ID)
	assert.Equal(t, c.ID, slots[1].ID)
}

func TestSyncCollectsItemFailures(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()

	orphan := f.fake.AddWorkload("meetbot-slot-x")
	f.addSlot(t, "meetbot-slot-y", models.SlotStatusIdle)
	f.fake.DeleteFn = func(context.Context, string) error { return errors.New("forbidden") }

	res, err := f.manager.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "platform", res.Errors[0].Kind)
	assert.Equal(t, orphan, res.Errors[0].ID)
	assert.Equal(t, 0, res.PlatformOrphansDeleted)
}

func TestSyncListFailure(t *testing.T) {
	f := newFixture(t, pool.Config{})
	f.fake.ListWorkloadsFn = func(context.Context) ([]platform.Workload, error) {
		return nil, errors.New("unauthorized")
	}
	_, err := f.manager.Sync(context.Background())
	require.Error(t, err)
}

func TestEnsurePoolSize(t *testing.T) {
	f := newFixture(t, pool.Config{Size: 3, SlotPrefix: "meetbot", Env: map[string]string{"STORAGE_BUCKET": "recordings"}})
	ctx := context.Background()
	f.addSlot(t, "meetbot-slot-2", models.SlotStatusIdle)

	created, err := f.manager.EnsurePoolSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	slots, err := f.manager.ListSlots(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, s := range slots {
		names = append(names, s.SlotName)
		assert.Equal(t, models.SlotStatusIdle, s.Status)
	}
	assert.Equal(t, []string{"meetbot-slot-1", "meetbot-slot-2", "meetbot-slot-3"}, names)
	assert.Equal(t, "recordings", f.fake.Env[slots[0].WorkloadID]["STORAGE_BUCKET"])

	created, err = f.manager.EnsurePoolSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 2, f.fake.CallCount("create"))

	stats, err := f.manager.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PoolStats{Idle: 3, Total: 3, MaxSize: 3}, *stats)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	slot := f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)

	deleted, err := f.manager.DeleteSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, f.fake.HasWorkload(slot.WorkloadID))

	deleted, err = f.manager.DeleteSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListSlotsFiltersByStatus(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	f.addSlot(t, "meetbot-slot-1", models.SlotStatusIdle)
	f.addSlot(t, "meetbot-slot-2", models.SlotStatusError)

	status := models.SlotStatusError
	slots, err := f.manager.ListSlots(ctx, &status)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "meetbot-slot-2", slots[0].SlotName)
}

func TestSweepRunsExtraSteps(t *testing.T) {
	f := newFixture(t, pool.Config{})
	ctx := context.Background()
	broken := f.addSlot(t, "meetbot-slot-1", models.SlotStatusError)
	bot := f.addBot(t, 0)

	var order []string
	f.manager.SetAssignHandler(func(context.Context, *models.Bot, *models.PoolSlot) {
		order = append(order, "assign")
	})
	// queue the bot while the only slot is broken
	res, err := f.manager.AssignSlot(ctx, bot)
	require.NoError(t, err)
	require.True(t, res.Queued)

	f.manager.Sweep(ctx, func(context.Context) { order = append(order, "extra") })
	assert.Equal(t, []string{"assign", "extra"}, order)
	assert.Equal(t, bot.ID, *f.slot(t, broken.ID).AssignedBotID)
}

func TestErrorMessages(t *testing.T) {
	qe := &pool.QueueTimeoutError{BotID: 7, Timeout: time.Minute}
	assert.Equal(t, "bot 7 timed out waiting for a pool slot after 1m0s", qe.Error())

	cause := errors.New("forbidden")
	rc := &pool.ReconciliationConflictError{Kind: "platform", ID: "wl-1", Err: cause}
	assert.ErrorIs(t, rc, cause)

	re := &pool.RecoveryExhaustedError{SlotName: "meetbot-slot-1", Attempts: 3, MaxAttempts: 3}
	assert.Equal(t, fmt.Sprintf("slot %s exhausted recovery (3/3 attempts)", "meetbot-slot-1"), re.Error())
}
