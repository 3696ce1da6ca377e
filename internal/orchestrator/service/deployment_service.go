package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stoewer/go-strcase"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/internal/orchestrator/coordination"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/pool"
	"github.com/meetbot-dev/meetbot/internal/orchestrator/telemetry"
	"github.com/meetbot-dev/meetbot/internal/platform"
	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

// Defaults applied to zero Config fields
const (
	DefaultMaxRetries       = 3
	DefaultBackoffBase      = time.Second
	DefaultBackoffMax       = 30 * time.Second
	DefaultHeartbeatTimeout = 5 * time.Minute
	DefaultWorkloadPrefix   = "meetbot"
)

// Config configures the deployment service
type Config struct {
	// DefaultPlatform is used when a request names none; it must have a backend
	DefaultPlatform models.PlatformType
	Image           string
	// CallbackBaseURL is where bots reach the orchestrator API
	CallbackBaseURL string
	// Env is passed to every bot
	Env            map[string]string
	WorkloadPrefix string

	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	Wait             platform.WaitOptions
	HeartbeatTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.WorkloadPrefix == "" {
		c.WorkloadPrefix = DefaultWorkloadPrefix
	}
	return c
}

// Backend is a platform client and, for pooled platforms, its slot pool
type Backend struct {
	Client platform.Client
	Pool   *pool.Manager
}

// TokenIssuer signs the callback token handed to each bot
type TokenIssuer interface {
	IssueBotToken(botID int64) (string, error)
}

type deploymentServiceImpl struct {
	db       database.Database
	cfg      Config
	backends map[models.PlatformType]Backend
	gate     *coordination.Gate
	locks    *coordination.KeyedLock
	pulled   *coordination.PulledImages
	tokens   TokenIssuer
	metrics  *telemetry.Metrics
	clock    clock.Clock
	sleep    func(ctx context.Context, d time.Duration) error

	// async tracks deployments continuing in the background
	async sync.WaitGroup
}

// Option configures the deployment service
type Option func(*deploymentServiceImpl)

func WithGate(g *coordination.Gate) Option {
	return func(s *deploymentServiceImpl) { s.gate = g }
}

func WithLocks(l *coordination.KeyedLock) Option {
	return func(s *deploymentServiceImpl) { s.locks = l }
}

func WithTokenIssuer(t TokenIssuer) Option {
	return func(s *deploymentServiceImpl) { s.tokens = t }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *deploymentServiceImpl) { s.metrics = m }
}

func WithClock(c clock.Clock) Option {
	return func(s *deploymentServiceImpl) { s.clock = c }
}

// WithSleep replaces the wait between retries
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *deploymentServiceImpl) { s.sleep = fn }
}

// Service is the deployment service implementation. Wait blocks until background deployments finish.
type Service struct {
	*deploymentServiceImpl
}

var _ DeploymentService = Service{}

// NewDeploymentService creates the service and registers itself as the
// queue handler of every pool.
func NewDeploymentService(db database.Database, cfg Config, backends map[models.PlatformType]Backend, opts ...Option) (Service, error) {
	cfg = cfg.withDefaults()
	if _, ok := backends[cfg.DefaultPlatform]; !ok {
		return Service{}, fmt.Errorf("no backend for default platform %q", cfg.DefaultPlatform)
	}

	s := &deploymentServiceImpl{
		db:       db,
		cfg:      cfg,
		backends: backends,
		pulled:   coordination.NewPulledImages(),
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = coordination.NewGate(coordination.DefaultGateSize)
	}
	if s.locks == nil {
		s.locks = coordination.NewKeyedLock()
	}
	if s.sleep == nil {
		s.sleep = s.clockSleep
	}
	if s.cfg.Wait.Clock == nil {
		s.cfg.Wait.Clock = s.clock
	}

	for _, b := range backends {
		if b.Pool != nil {
			b.Pool.SetAssignHandler(s.handleQueuedAssignment)
			b.Pool.SetTimeoutHandler(s.handleQueueTimeout)
		}
	}
	return Service{s}, nil
}

func (s *deploymentServiceImpl) clockSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// Wait blocks until all background deployments have finished
func (s *deploymentServiceImpl) Wait() {
	s.async.Wait()
}

func (s *deploymentServiceImpl) Platform() models.PlatformType { return s.cfg.DefaultPlatform }

func (s *deploymentServiceImpl) backend(p models.PlatformType) (Backend, error) {
	if p == "" || p == models.PlatformAuto {
		p = s.cfg.DefaultPlatform
	}
	b, ok := s.backends[p]
	if !ok {
		return Backend{}, fmt.Errorf("%w: deployment platform %q is not configured", database.ErrInvalidInput, p)
	}
	return b, nil
}

func (s *deploymentServiceImpl) defaultPool() (*pool.Manager, error) {
	b := s.backends[s.cfg.DefaultPlatform]
	if b.Pool == nil {
		return nil, ErrNoPool
	}
	return b.Pool, nil
}

// prepareBot creates a new bot or loads one being redeployed, and fixes its platform
func (s *deploymentServiceImpl) prepareBot(ctx context.Context, req *models.DeployRequest) (*models.Bot, Backend, error) {
	if req == nil {
		return nil, Backend{}, fmt.Errorf("%w: request is required", database.ErrInvalidInput)
	}

	var bot *models.Bot
	if req.BotID != 0 {
		existing, err := s.db.GetBot(ctx, nil, req.BotID)
		if err != nil {
			return nil, Backend{}, err
		}
		if existing.Status == models.BotStatusDeploying || existing.Status.IsActive() {
			return nil, Backend{}, fmt.Errorf("%w: bot %d is already %s", database.ErrAlreadyExists, existing.ID, existing.Status)
		}
		bot = existing
	} else {
		if strings.TrimSpace(req.MeetingURL) == "" {
			return nil, Backend{}, fmt.Errorf("%w: meeting url is required", database.ErrInvalidInput)
		}
		if !req.MeetingPlatform.Valid() {
			return nil, Backend{}, fmt.Errorf("%w: unknown meeting platform %q", database.ErrInvalidInput, req.MeetingPlatform)
		}
		bot = &models.Bot{
			MeetingPlatform: req.MeetingPlatform,
			MeetingURL:      req.MeetingURL,
			BotName:         req.BotName,
			Priority:        req.Priority,
			Status:          models.BotStatusReadyToDeploy,
		}
	}

	requested := req.Platform
	if requested == "" || requested == models.PlatformAuto {
		requested = bot.DeploymentPlatform
	}
	b, err := s.backend(requested)
	if err != nil {
		return nil, Backend{}, err
	}
	bot.DeploymentPlatform = b.Client.Name()

	if bot.ID == 0 {
		if err := s.db.CreateBot(ctx, nil, bot); err != nil {
			return nil, Backend{}, fmt.Errorf("failed to create bot: %w", err)
		}
	}
	if err := s.db.UpdateBotDeployment(ctx, nil, bot.ID, database.BotDeployment{
		Platform: bot.DeploymentPlatform,
		Status:   models.BotStatusDeploying,
	}); err != nil {
		return nil, Backend{}, err
	}
	bot.Status = models.BotStatusDeploying
	bot.PlatformIdentifier = ""
	bot.ErrorMessage = ""
	return bot, b, nil
}

func (s *deploymentServiceImpl) DeployBot(ctx context.Context, req *models.DeployRequest) (*models.DeployResult, error) {
	bot, b, err := s.prepareBot(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.deploy(ctx, bot, b, req.Env)
}

func (s *deploymentServiceImpl) StartDeployBot(ctx context.Context, req *models.DeployRequest) (*models.Bot, error) {
	bot, b, err := s.prepareBot(ctx, req)
	if err != nil {
		return nil, err
	}
	env := maps.Clone(req.Env)
	s.goAsync(ctx, func(ctx context.Context) {
		_, _ = s.deploy(ctx, bot, b, env)
	})
	return bot, nil
}

// goAsync runs fn detached from the caller's cancellation, keeping its logger
func (s *deploymentServiceImpl) goAsync(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		fn(ctx)
	}()
}

func (s *deploymentServiceImpl) deploy(ctx context.Context, bot *models.Bot, b Backend, extraEnv map[string]string) (*models.DeployResult, error) {
	if b.Pool == nil {
		return s.deployWorkload(ctx, bot, b.Client, extraEnv)
	}

	assigned, err := b.Pool.AssignSlot(ctx, bot)
	if err != nil {
		return s.fail(ctx, bot, 0, fmt.Errorf("failed to assign slot: %w", err))
	}
	if assigned.Queued {
		s.metrics.RecordDeployment(ctx, bot.DeploymentPlatform, telemetry.OutcomeQueued)
		queuedBot, err := s.db.GetBot(ctx, nil, bot.ID)
		if err != nil {
			return nil, err
		}
		return &models.DeployResult{
			Bot:        queuedBot,
			Status:     models.BotStatusQueued,
			Queued:     true,
			QueueEntry: assigned.Entry,
		}, nil
	}
	return s.deployOnSlot(ctx, bot, b, assigned.Slot, extraEnv)
}

// deployOnSlot deploys a bot onto a claimed slot. A failure leaves the slot in ERROR for recovery.
func (s *deploymentServiceImpl) deployOnSlot(ctx context.Context, bot *models.Bot, b Backend, slot *models.PoolSlot, extraEnv map[string]string) (*models.DeployResult, error) {
	logger := log.FromContext(ctx).WithValues("botId", bot.ID, "slot", slot.SlotName)

	attempts, err := s.withRetries(ctx, bot, func(ctx context.Context, attempt int) error {
		if updater, ok := b.Client.(platform.EnvUpdater); ok {
			env, err := s.botEnv(bot, extraEnv)
			if err != nil {
				return err
			}
			if err := updater.UpdateEnv(ctx, slot.WorkloadID, env); err != nil {
				return fmt.Errorf("failed to set bot environment: %w", err)
			}
		}
		return s.deployAndWait(ctx, b.Client, slot.WorkloadID)
	})
	// the slot must leave DEPLOYING even when the caller has gone away
	bookkeeping := context.WithoutCancel(ctx)
	if err != nil {
		if releaseErr := b.Pool.ReleaseSlot(bookkeeping, slot.ID, pool.Outcome{Err: err}); releaseErr != nil {
			logger.Error(releaseErr, "Failed to release slot after failed deployment")
		}
		return s.fail(ctx, bot, attempts, err)
	}

	if err := b.Pool.ReleaseSlot(bookkeeping, slot.ID, pool.Outcome{Success: true}); err != nil {
		return nil, fmt.Errorf("failed to mark slot healthy: %w", err)
	}
	return s.succeed(bookkeeping, bot, slot.WorkloadID, attempts, slot.ID)
}

// deployWorkload creates a dedicated workload for the bot. Retries redeploy the same
// workload, or replace it on platforms that cannot start an ended workload again.
func (s *deploymentServiceImpl) deployWorkload(ctx context.Context, bot *models.Bot, client platform.Client, extraEnv map[string]string) (*models.DeployResult, error) {
	logger := log.FromContext(ctx).WithValues("botId", bot.ID)

	relauncher, ok := client.(platform.Relauncher)
	relaunch := ok && relauncher.RelaunchOnRetry()

	var workloadID string
	attempts, err := s.withRetries(ctx, bot, func(ctx context.Context, attempt int) error {
		if workloadID != "" && relaunch {
			if err := client.Delete(ctx, workloadID); err != nil {
				return fmt.Errorf("failed to remove ended workload %s: %w", workloadID, err)
			}
			logger.Info("Relaunching workload", "attempt", attempt+1, "previous", workloadID)
			workloadID = ""
		}
		if workloadID == "" {
			env, err := s.botEnv(bot, extraEnv)
			if err != nil {
				return err
			}
			id, err := client.CreateWorkload(ctx, platform.WorkloadSpec{
				Name:  s.workloadName(bot),
				Image: s.cfg.Image,
				Env:   env,
			})
			if err != nil {
				return fmt.Errorf("failed to create workload: %w", err)
			}
			workloadID = id
			if err := s.db.UpdateBotDeployment(ctx, nil, bot.ID, database.BotDeployment{
				Platform:           bot.DeploymentPlatform,
				PlatformIdentifier: workloadID,
				Status:             models.BotStatusDeploying,
			}); err != nil {
				return err
			}
		}
		return s.deployAndWait(ctx, client, workloadID)
	})
	if err != nil {
		if workloadID != "" {
			if delErr := client.Delete(context.WithoutCancel(ctx), workloadID); delErr != nil {
				logger.Error(delErr, "Failed to delete workload after failed deployment", "workloadId", workloadID)
			}
		}
		return s.fail(ctx, bot, attempts, err)
	}
	return s.succeed(context.WithoutCancel(ctx), bot, workloadID, attempts, "")
}

// withRetries runs attempt up to MaxRetries times with capped exponential backoff between tries
func (s *deploymentServiceImpl) withRetries(ctx context.Context, bot *models.Bot, attempt func(ctx context.Context, n int) error) (int, error) {
	logger := log.FromContext(ctx).WithValues("botId", bot.ID)
	backoff := wait.Backoff{
		Duration: s.cfg.BackoffBase,
		Factor:   2,
		Cap:      s.cfg.BackoffMax,
		Steps:    s.cfg.MaxRetries,
	}

	var last error
	for n := 0; n < s.cfg.MaxRetries; n++ {
		if n > 0 {
			delay := backoff.Step()
			logger.Info("Retrying deployment", "attempt", n+1, "maxAttempts", s.cfg.MaxRetries, "delay", delay, "lastError", last.Error())
			if err := s.sleep(ctx, delay); err != nil {
				return n, err
			}
		}
		last = attempt(ctx, n)
		if last == nil {
			return n + 1, nil
		}
		if ctx.Err() != nil {
			return n + 1, last
		}
	}
	return s.cfg.MaxRetries, last
}

// deployAndWait deploys the workload and waits for it. The first deployment of an
// image on a platform holds the image lock until it finishes; deployments that
// waited on it proceed normally once it is done.
func (s *deploymentServiceImpl) deployAndWait(ctx context.Context, client platform.Client, workloadID string) error {
	key := coordination.LockKey(client.Name(), s.cfg.Image)
	first := false
	if !s.pulled.Has(key) {
		lease, err := s.locks.Acquire(ctx, key)
		if err != nil {
			return err
		}
		if s.pulled.Has(key) {
			lease.Release()
		} else {
			first = true
			defer lease.Release()
			if lease.Forced() {
				log.FromContext(ctx).Info("Previous image pull holder was broken, pulling again", "lockKey", key)
			}
		}
	}

	if err := s.gate.Do(ctx, func(ctx context.Context) error {
		return client.Deploy(ctx, workloadID)
	}); err != nil {
		return fmt.Errorf("failed to deploy workload %s: %w", workloadID, err)
	}

	res := platform.WaitForDeployment(ctx, client, workloadID, s.cfg.Wait)
	if !res.Success {
		return res.Err
	}
	if first {
		s.pulled.Mark(key)
	}
	return nil
}

func (s *deploymentServiceImpl) succeed(ctx context.Context, bot *models.Bot, workloadID string, attempts int, slotID string) (*models.DeployResult, error) {
	if err := s.db.UpdateBotDeployment(ctx, nil, bot.ID, database.BotDeployment{
		Platform:           bot.DeploymentPlatform,
		PlatformIdentifier: workloadID,
		Status:             models.BotStatusJoiningCall,
	}); err != nil {
		return nil, err
	}
	s.metrics.RecordDeployment(ctx, bot.DeploymentPlatform, telemetry.OutcomeSuccess)
	log.FromContext(ctx).Info("Bot deployed", "botId", bot.ID, "workloadId", workloadID, "attempts", attempts)

	deployed, err := s.db.GetBot(ctx, nil, bot.ID)
	if err != nil {
		return nil, err
	}
	result := &models.DeployResult{
		Bot:        deployed,
		Status:     deployed.Status,
		WorkloadID: workloadID,
		Attempts:   attempts,
	}
	if slotID != "" {
		if slot, err := s.db.GetSlot(ctx, nil, slotID); err == nil {
			result.Slot = slot
		}
	}
	return result, nil
}

// fail marks the bot FATAL and returns the aggregated error. Bookkeeping errors are logged, never returned in its place.
func (s *deploymentServiceImpl) fail(ctx context.Context, bot *models.Bot, attempts int, cause error) (*models.DeployResult, error) {
	logger := log.FromContext(ctx).WithValues("botId", bot.ID)
	deployErr := &DeployError{BotID: bot.ID, Attempts: attempts, Last: cause}
	logger.Error(cause, "Bot deployment failed", "attempts", attempts)
	s.metrics.RecordDeployment(ctx, bot.DeploymentPlatform, telemetry.OutcomeFailure)

	bookkeeping := context.WithoutCancel(ctx)
	if err := s.db.UpdateBotStatus(bookkeeping, nil, bot.ID, models.BotStatusFatal, cause.Error()); err != nil {
		logger.Error(err, "Failed to mark bot as failed")
	}
	failed, err := s.db.GetBot(bookkeeping, nil, bot.ID)
	if err != nil {
		failed = bot
	}
	return &models.DeployResult{
		Bot:      failed,
		Status:   models.BotStatusFatal,
		Attempts: attempts,
		Error:    deployErr.Error(),
	}, deployErr
}

func (s *deploymentServiceImpl) workloadName(bot *models.Bot) string {
	return strcase.KebabCase(s.cfg.WorkloadPrefix) + "-bot-" + strconv.FormatInt(bot.ID, 10)
}

// botEnv is the environment a bot runs with; request values never override the orchestrator's
func (s *deploymentServiceImpl) botEnv(bot *models.Bot, extra map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(s.cfg.Env)+len(extra)+6)
	maps.Copy(env, extra)
	maps.Copy(env, s.cfg.Env)
	env["BOT_ID"] = strconv.FormatInt(bot.ID, 10)
	env["BOT_NAME"] = bot.BotName
	env["MEETING_URL"] = bot.MeetingURL
	env["MEETING_PLATFORM"] = string(bot.MeetingPlatform)
	if s.cfg.CallbackBaseURL != "" {
		env["CALLBACK_URL"] = strings.TrimSuffix(s.cfg.CallbackBaseURL, "/") + "/v0/bots/" + strconv.FormatInt(bot.ID, 10)
	}
	if s.tokens != nil {
		token, err := s.tokens.IssueBotToken(bot.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue bot token: %w", err)
		}
		env["BOT_TOKEN"] = token
	}
	return env, nil
}

// handleQueuedAssignment continues the deployment of a bot that was waiting for a slot
func (s *deploymentServiceImpl) handleQueuedAssignment(ctx context.Context, bot *models.Bot, slot *models.PoolSlot) {
	b, err := s.backend(bot.DeploymentPlatform)
	if err != nil {
		log.FromContext(ctx).Error(err, "No backend for queued bot", "botId", bot.ID)
		return
	}
	s.goAsync(ctx, func(ctx context.Context) {
		_, _ = s.deployOnSlot(ctx, bot, b, slot, nil)
	})
}

func (s *deploymentServiceImpl) handleQueueTimeout(ctx context.Context, entry *models.QueueEntry, err *pool.QueueTimeoutError) {
	s.metrics.RecordDeployment(ctx, s.cfg.DefaultPlatform, telemetry.OutcomeFailure)
	log.FromContext(ctx).Info("Bot gave up waiting for a slot", "botId", entry.BotID, "error", err.Error())
}

func (s *deploymentServiceImpl) GetPoolStats(ctx context.Context) (*models.PoolStats, error) {
	p, err := s.defaultPool()
	if errors.Is(err, ErrNoPool) {
		return &models.PoolStats{}, nil
	}
	return p.Stats(ctx)
}

func (s *deploymentServiceImpl) GetQueueStats(ctx context.Context) (*models.QueueStats, error) {
	p, err := s.defaultPool()
	if errors.Is(err, ErrNoPool) {
		return &models.QueueStats{}, nil
	}
	return p.QueueStats(ctx)
}

func (s *deploymentServiceImpl) ListSlots(ctx context.Context, status *models.SlotStatus) ([]*models.PoolSlot, error) {
	p, err := s.defaultPool()
	if errors.Is(err, ErrNoPool) {
		return []*models.PoolSlot{}, nil
	}
	return p.ListSlots(ctx, status)
}

func (s *deploymentServiceImpl) DeleteSlot(ctx context.Context, slotID string) (bool, error) {
	p, err := s.defaultPool()
	if err != nil {
		return false, err
	}
	return p.DeleteSlot(ctx, slotID)
}

func (s *deploymentServiceImpl) Sync(ctx context.Context) (*models.SyncResult, error) {
	p, err := s.defaultPool()
	if err != nil {
		return nil, err
	}
	return p.Sync(ctx)
}

func (s *deploymentServiceImpl) RecoverErroredSlots(ctx context.Context) (*models.RecoveryResult, error) {
	p, err := s.defaultPool()
	if err != nil {
		return nil, err
	}
	return p.RecoverErroredSlots(ctx)
}

func (s *deploymentServiceImpl) EnsurePoolSize(ctx context.Context) (int, error) {
	p, err := s.defaultPool()
	if err != nil {
		return 0, err
	}
	return p.EnsurePoolSize(ctx)
}

func (s *deploymentServiceImpl) GetBot(ctx context.Context, id int64) (*models.Bot, error) {
	return s.db.GetBot(ctx, nil, id)
}

func (s *deploymentServiceImpl) ListBots(ctx context.Context, filter *models.BotFilter) ([]*models.Bot, error) {
	return s.db.ListBots(ctx, nil, filter)
}

func (s *deploymentServiceImpl) RecordHeartbeat(ctx context.Context, botID int64) error {
	return s.db.RecordHeartbeat(ctx, nil, botID, s.clock.Now().UTC())
}

func (s *deploymentServiceImpl) UpdateBotStatus(ctx context.Context, botID int64, status models.BotStatus, errMsg string) (*models.Bot, error) {
	bot, err := s.db.GetBot(ctx, nil, botID)
	if err != nil {
		return nil, err
	}
	if bot.Status.IsTerminal() && bot.Status != status {
		return nil, fmt.Errorf("%w: bot %d already finished with status %s", database.ErrInvalidInput, botID, bot.Status)
	}
	if err := s.db.UpdateBotStatus(ctx, nil, botID, status, errMsg); err != nil {
		return nil, err
	}
	if status.IsTerminal() && !bot.Status.IsTerminal() {
		s.releaseResources(ctx, bot)
	}
	return s.db.GetBot(ctx, nil, botID)
}

// releaseResources frees whatever a finished bot held: its slot, its dedicated workload, or its place in the queue
func (s *deploymentServiceImpl) releaseResources(ctx context.Context, bot *models.Bot) {
	logger := log.FromContext(ctx).WithValues("botId", bot.ID)
	b, err := s.backend(bot.DeploymentPlatform)
	if err != nil {
		logger.V(1).Info("Bot has no configured backend, nothing to release", "platform", bot.DeploymentPlatform)
		return
	}

	if b.Pool == nil {
		if bot.PlatformIdentifier == "" {
			return
		}
		if err := b.Client.Delete(ctx, bot.PlatformIdentifier); err != nil {
			logger.Error(err, "Failed to delete bot workload", "workloadId", bot.PlatformIdentifier)
		}
		return
	}

	if entry, err := s.db.GetQueueEntryByBot(ctx, nil, bot.ID); err == nil {
		if err := s.db.DeleteQueueEntry(ctx, nil, entry.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			logger.Error(err, "Failed to remove queue entry")
		}
	}

	slot, err := s.db.GetSlotByBot(ctx, nil, bot.ID)
	if errors.Is(err, database.ErrNotFound) {
		return
	} else if err != nil {
		logger.Error(err, "Failed to look up bot slot")
		return
	}
	if err := b.Pool.CompleteSlot(ctx, slot.ID); err != nil {
		logger.Error(err, "Failed to return slot to pool", "slot", slot.SlotName)
	}
}

// ReapStaleHeartbeats marks active bots without a recent heartbeat as FATAL and frees their resources
func (s *deploymentServiceImpl) ReapStaleHeartbeats(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.HeartbeatTimeout)
	stale, err := s.db.ListStaleBots(ctx, nil, cutoff, []models.BotStatus{
		models.BotStatusJoiningCall,
		models.BotStatusInWaitingRoom,
		models.BotStatusInCall,
	})
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, bot := range stale {
		msg := fmt.Sprintf("no heartbeat for %s", s.cfg.HeartbeatTimeout)
		if err := s.db.UpdateBotStatus(ctx, nil, bot.ID, models.BotStatusFatal, msg); err != nil {
			log.FromContext(ctx).Error(err, "Failed to mark stale bot as failed", "botId", bot.ID)
			continue
		}
		s.releaseResources(ctx, bot)
		reaped++
	}
	if reaped > 0 {
		log.FromContext(ctx).Info("Reaped bots with stale heartbeats", "count", reaped)
	}
	return reaped, nil
}
