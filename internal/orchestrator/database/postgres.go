package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/meetbot-dev/meetbot/pkg/models"
	"github.com/meetbot-dev/meetbot/pkg/orchestrator/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultMigratorConfig returns the migrator configuration for the embedded schema
func DefaultMigratorConfig() database.MigratorConfig {
	return database.MigratorConfig{
		FS:      migrationsFS,
		Dir:     "migrations",
		Table:   "schema_migrations",
		LockKey: 0x6d626f74, // "mbot"
	}
}

// PostgreSQL is an implementation of the Database interface using PostgreSQL
type PostgreSQL struct {
	pool *pgxpool.Pool
}

var _ database.Database = (*PostgreSQL)(nil)

// Executor is an interface for executing queries (satisfied by both pgx.Tx and pgxpool.Pool)
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// getExecutor returns the appropriate executor (transaction or pool)
func (db *PostgreSQL) getExecutor(tx pgx.Tx) Executor {
	if tx != nil {
		return tx
	}
	return db.pool
}

// NewPostgreSQL creates a new instance of the PostgreSQL database
func NewPostgreSQL(ctx context.Context, connectionURI string) (*PostgreSQL, error) {
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnIdleTime = 30 * time.Minute
	config.MaxConnLifetime = 2 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// Run migrations using a single connection from the pool
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	migrator := database.NewMigrator(conn.Conn(), DefaultMigratorConfig())
	if err := migrator.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// InTransaction executes a function within a database transaction
func (db *PostgreSQL) InTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	//nolint:contextcheck // separate context so rollback runs even if the request is cancelled
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if rbErr := tx.Rollback(rollbackCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.FromContext(ctx).Error(rbErr, "failed to rollback transaction")
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const botColumns = `id, meeting_platform, meeting_url, bot_name, start_time, end_time, status,
	deployment_platform, platform_identifier, priority, heartbeat_at, error_message, created_at, updated_at`

func scanBot(row pgx.Row) (*models.Bot, error) {
	var b models.Bot
	err := row.Scan(
		&b.ID,
		&b.MeetingPlatform,
		&b.MeetingURL,
		&b.BotName,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.DeploymentPlatform,
		&b.PlatformIdentifier,
		&b.Priority,
		&b.HeartbeatAt,
		&b.ErrorMessage,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBot inserts a new bot record
func (db *PostgreSQL) CreateBot(ctx context.Context, tx pgx.Tx, bot *models.Bot) error {
	if bot == nil || bot.MeetingURL == "" {
		return fmt.Errorf("%w: meeting url is required", database.ErrInvalidInput)
	}
	if bot.Status == "" {
		bot.Status = models.BotStatusReadyToDeploy
	}

	executor := db.getExecutor(tx)
	query := `
		INSERT INTO bots (meeting_platform, meeting_url, bot_name, start_time, end_time, status,
			deployment_platform, platform_identifier, priority, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err := executor.QueryRow(ctx, query,
		bot.MeetingPlatform,
		bot.MeetingURL,
		bot.BotName,
		bot.StartTime,
		bot.EndTime,
		bot.Status,
		bot.DeploymentPlatform,
		bot.PlatformIdentifier,
		bot.Priority,
		bot.ErrorMessage,
	).Scan(&bot.ID, &bot.CreatedAt, &bot.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

// GetBot retrieves a bot by ID
func (db *PostgreSQL) GetBot(ctx context.Context, tx pgx.Tx, id int64) (*models.Bot, error) {
	executor := db.getExecutor(tx)
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`

	bot, err := scanBot(executor.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return bot, nil
}

// ListBots retrieves bots matching the filter
func (db *PostgreSQL) ListBots(ctx context.Context, tx pgx.Tx, filter *models.BotFilter) ([]*models.Bot, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var whereConditions []string
	args := []any{}
	argIndex := 1
	limit := 100

	if filter != nil {
		if filter.Platform != nil {
			whereConditions = append(whereConditions, fmt.Sprintf("deployment_platform = $%d", argIndex))
			args = append(args, *filter.Platform)
			argIndex++
		}
		if filter.Status != nil {
			whereConditions = append(whereConditions, fmt.Sprintf("status = $%d", argIndex))
			args = append(args, *filter.Status)
			argIndex++
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM bots %s ORDER BY created_at DESC, id DESC LIMIT $%d`, botColumns, whereClause, argIndex)
	args = append(args, limit)

	rows, err := db.getExecutor(tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bots: %w", err)
	}
	return bots, nil
}

// UpdateBotStatus sets the status and error text of a bot
func (db *PostgreSQL) UpdateBotStatus(ctx context.Context, tx pgx.Tx, id int64, status models.BotStatus, errMsg string) error {
	query := `UPDATE bots SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1`
	result, err := db.getExecutor(tx).Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update bot status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// UpdateBotDeployment records where a bot runs
func (db *PostgreSQL) UpdateBotDeployment(ctx context.Context, tx pgx.Tx, id int64, d database.BotDeployment) error {
	query := `
		UPDATE bots
		SET deployment_platform = $2, platform_identifier = $3, status = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := db.getExecutor(tx).Exec(ctx, query, id, d.Platform, d.PlatformIdentifier, d.Status, d.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update bot deployment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// RecordHeartbeat stamps the bot heartbeat
func (db *PostgreSQL) RecordHeartbeat(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	query := `UPDATE bots SET heartbeat_at = $2, updated_at = NOW() WHERE id = $1`
	result, err := db.getExecutor(tx).Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// ListStaleBots returns bots in the statuses whose last heartbeat (or creation, if none) is older than cutoff
func (db *PostgreSQL) ListStaleBots(ctx context.Context, tx pgx.Tx, cutoff time.Time, statuses []models.BotStatus) ([]*models.Bot, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT ` + botColumns + ` FROM bots
		WHERE status = ANY($1) AND COALESCE(heartbeat_at, updated_at) < $2
		ORDER BY id`
	rows, err := db.getExecutor(tx).Query(ctx, query, names, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot: %w", err)
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale bots: %w", err)
	}
	return bots, nil
}

const slotColumns = `id, workload_id, slot_name, platform, status, assigned_bot_id, last_used_at,
	error_message, recovery_attempts, created_at, updated_at`

func scanSlot(row pgx.Row) (*models.PoolSlot, error) {
	var s models.PoolSlot
	err := row.Scan(
		&s.ID,
		&s.WorkloadID,
		&s.SlotName,
		&s.Platform,
		&s.Status,
		&s.AssignedBotID,
		&s.LastUsedAt,
		&s.ErrorMessage,
		&s.RecoveryAttempts,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSlot inserts a new pool slot
func (db *PostgreSQL) CreateSlot(ctx context.Context, tx pgx.Tx, slot *models.PoolSlot) error {
	if slot == nil || slot.ID == "" || slot.WorkloadID == "" || slot.SlotName == "" {
		return fmt.Errorf("%w: slot id, workload id and name are required", database.ErrInvalidInput)
	}
	if slot.Status == "" {
		slot.Status = models.SlotStatusIdle
	}

	query := `
		INSERT INTO pool_slots (id, workload_id, slot_name, platform, status, assigned_bot_id,
			last_used_at, error_message, recovery_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := db.getExecutor(tx).QueryRow(ctx, query,
		slot.ID,
		slot.WorkloadID,
		slot.SlotName,
		slot.Platform,
		slot.Status,
		slot.AssignedBotID,
		slot.LastUsedAt,
		slot.ErrorMessage,
		slot.RecoveryAttempts,
	).Scan(&slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

// GetSlot retrieves a slot by ID
func (db *PostgreSQL) GetSlot(ctx context.Context, tx pgx.Tx, id string) (*models.PoolSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM pool_slots WHERE id = $1`
	slot, err := scanSlot(db.getExecutor(tx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" { // invalid_text_representation: not a uuid
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return slot, nil
}

// GetSlotByBot retrieves the slot assigned to a bot
func (db *PostgreSQL) GetSlotByBot(ctx context.Context, tx pgx.Tx, botID int64) (*models.PoolSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM pool_slots WHERE assigned_bot_id = $1`
	slot, err := scanSlot(db.getExecutor(tx).QueryRow(ctx, query, botID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get slot by bot: %w", err)
	}
	return slot, nil
}

// ListSlots retrieves slots matching the filter
func (db *PostgreSQL) ListSlots(ctx context.Context, tx pgx.Tx, filter *database.SlotFilter) ([]*models.PoolSlot, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var whereConditions []string
	args := []any{}
	argIndex := 1

	if filter != nil {
		if filter.Status != nil {
			whereConditions = append(whereConditions, fmt.Sprintf("status = $%d", argIndex))
			args = append(args, *filter.Status)
			argIndex++
		}
		if filter.Platform != nil {
			whereConditions = append(whereConditions, fmt.Sprintf("platform = $%d", argIndex))
			args = append(args, *filter.Platform)
		}
	}

	whereClause := ""
	if len(whereConditions) > 0 {
		whereClause = "WHERE " + strings.Join(whereConditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM pool_slots %s ORDER BY slot_name`, slotColumns, whereClause)

	rows, err := db.getExecutor(tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.PoolSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slots: %w", err)
	}
	return slots, nil
}

// ClaimIdleSlot atomically assigns one IDLE slot to the bot.
// SKIP LOCKED lets concurrent claimers each take a different row instead of queueing on the same one.
func (db *PostgreSQL) ClaimIdleSlot(ctx context.Context, tx pgx.Tx, platform models.PlatformType, botID int64) (*models.PoolSlot, error) {
	query := `
		UPDATE pool_slots
		SET status = 'DEPLOYING', assigned_bot_id = $2, error_message = '', updated_at = NOW()
		WHERE id = (
			SELECT id FROM pool_slots
			WHERE platform = $1 AND status = 'IDLE'
			ORDER BY last_used_at ASC NULLS FIRST, slot_name
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + slotColumns

	slot, err := scanSlot(db.getExecutor(tx).QueryRow(ctx, query, platform, botID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // bot already holds a slot
			return nil, database.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to claim slot: %w", err)
	}
	return slot, nil
}

// UpdateSlot writes the mutable fields of a slot
func (db *PostgreSQL) UpdateSlot(ctx context.Context, tx pgx.Tx, slot *models.PoolSlot) error {
	if slot.Status.IsAssigned() != (slot.AssignedBotID != nil) {
		return fmt.Errorf("%w: slot %s status %s inconsistent with assignment", database.ErrInvalidInput, slot.ID, slot.Status)
	}

	query := `
		UPDATE pool_slots
		SET workload_id = $2, status = $3, assigned_bot_id = $4, last_used_at = $5,
			error_message = $6, recovery_attempts = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := db.getExecutor(tx).QueryRow(ctx, query,
		slot.ID,
		slot.WorkloadID,
		slot.Status,
		slot.AssignedBotID,
		slot.LastUsedAt,
		slot.ErrorMessage,
		slot.RecoveryAttempts,
	).Scan(&slot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("failed to update slot: %w", err)
	}
	return nil
}

// DeleteSlot removes a slot
func (db *PostgreSQL) DeleteSlot(ctx context.Context, tx pgx.Tx, id string) error {
	result, err := db.getExecutor(tx).Exec(ctx, `DELETE FROM pool_slots WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

const queueColumns = `id, bot_id, priority, queued_at, timeout_at, status`

func scanQueueEntry(row pgx.Row) (*models.QueueEntry, error) {
	var e models.QueueEntry
	if err := row.Scan(&e.ID, &e.BotID, &e.Priority, &e.QueuedAt, &e.TimeoutAt, &e.Status); err != nil {
		return nil, err
	}
	return &e, nil
}

// EnqueueBot inserts a queue entry
func (db *PostgreSQL) EnqueueBot(ctx context.Context, tx pgx.Tx, entry *models.QueueEntry) error {
	if entry == nil || entry.ID == "" || entry.BotID == 0 {
		return fmt.Errorf("%w: queue entry id and bot id are required", database.ErrInvalidInput)
	}
	if entry.Status == "" {
		entry.Status = models.QueueEntryWaiting
	}

	query := `
		INSERT INTO queue_entries (id, bot_id, priority, queued_at, timeout_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.getExecutor(tx).Exec(ctx, query,
		entry.ID,
		entry.BotID,
		entry.Priority,
		entry.QueuedAt,
		entry.TimeoutAt,
		entry.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("failed to enqueue bot: %w", err)
	}
	return nil
}

// GetQueueEntryByBot retrieves the queue entry for a bot
func (db *PostgreSQL) GetQueueEntryByBot(ctx context.Context, tx pgx.Tx, botID int64) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE bot_id = $1`
	entry, err := scanQueueEntry(db.getExecutor(tx).QueryRow(ctx, query, botID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return entry, nil
}

// ListQueueEntries lists waiting entries ordered by priority then enqueue time
func (db *PostgreSQL) ListQueueEntries(ctx context.Context, tx pgx.Tx) ([]*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries ORDER BY priority ASC, queued_at ASC, id ASC`
	rows, err := db.getExecutor(tx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

// DeleteQueueEntry removes a queue entry
func (db *PostgreSQL) DeleteQueueEntry(ctx context.Context, tx pgx.Tx, id string) error {
	result, err := db.getExecutor(tx).Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (db *PostgreSQL) Close() error {
	db.pool.Close()
	return nil
}
