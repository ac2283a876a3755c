package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrSettingsMissing indicates the singleton settings row is absent.
	ErrSettingsMissing = errors.New("storage: settings row missing")
)

const (
	getSettingsSQL = `SELECT id, threshold, jump_threshold, interval_seconds, is_paused, last_api_key_alert_at, updated_at
    FROM monitor_settings
    LIMIT 1;`

	markAPIKeyAlertSQL = `UPDATE monitor_settings
    SET last_api_key_alert_at = $1, updated_at = now();`

	listActiveCredentialsSQL = `SELECT id, api_key, label, is_active, last_error, last_used_at
    FROM api_keys
    WHERE is_active = TRUE
    ORDER BY last_used_at ASC NULLS FIRST, created_at ASC;`

	updateCredentialSQL = `UPDATE api_keys
    SET last_used_at = COALESCE($2, last_used_at),
        last_error   = CASE WHEN $4 THEN NULL ELSE COALESCE($3, last_error) END,
        updated_at   = now()
    WHERE id = $1;`

	listActiveTargetsSQL = `SELECT id, name, url, threshold, is_active, subtract_from_total, last_item_count
    FROM monitor_categories
    WHERE is_active = TRUE
    ORDER BY created_at ASC;`

	updateTargetCountSQL = `UPDATE monitor_categories
    SET last_item_count = $2, updated_at = now()
    WHERE id = $1;`

	insertHistorySQL = `INSERT INTO monitor_history (
        id, item_count, threshold, exceeds_threshold, telegram_sent, telegram_error
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	latestHistorySQL = `SELECT id, item_count, threshold, exceeds_threshold, telegram_sent, telegram_error, created_at
    FROM monitor_history
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentHistorySQL = `SELECT id, item_count, threshold, exceeds_threshold, telegram_sent, telegram_error, created_at
    FROM monitor_history
    ORDER BY created_at DESC
    LIMIT $1;`

	listHistoryBetweenSQL = `SELECT id, item_count, threshold, exceeds_threshold, telegram_sent, telegram_error, created_at
    FROM monitor_history
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listActiveSubscribersSQL = `SELECT id, chat_id, username, first_name, is_active, subscribed_at, subscription_expires_at
    FROM telegram_subscribers
    WHERE is_active = TRUE;`

	listSubscribedSubscribersSQL = `SELECT id, chat_id, username, first_name, is_active, subscribed_at, subscription_expires_at
    FROM telegram_subscribers
    WHERE is_active = TRUE
      AND subscription_expires_at IS NOT NULL
      AND subscription_expires_at > now();`

	getSubscriberSQL = `SELECT id, chat_id, username, first_name, is_active, subscribed_at, subscription_expires_at
    FROM telegram_subscribers
    WHERE chat_id = $1;`

	upsertSubscriberSQL = `INSERT INTO telegram_subscribers (
        id, chat_id, username, first_name, is_active, subscribed_at
    ) VALUES ($1,$2,$3,$4,$5,now())
    ON CONFLICT (chat_id) DO UPDATE
    SET username   = EXCLUDED.username,
        first_name = EXCLUDED.first_name,
        is_active  = EXCLUDED.is_active;`

	setSubscriberActiveSQL = `UPDATE telegram_subscribers
    SET is_active = $2
    WHERE chat_id = $1;`

	insertBotMessageSQL = `INSERT INTO telegram_messages (
        id, chat_id, username, first_name, message_text
    ) VALUES ($1,$2,$3,$4,$5);`

	latestUTRMessageSQL = `SELECT message_text
    FROM telegram_messages
    WHERE chat_id = $1
      AND message_text LIKE 'UTR:%'
    ORDER BY created_at DESC
    LIMIT 1;`

	insertSubscriptionRequestSQL = `INSERT INTO telegram_subscriptions (
        id, chat_id, username, first_name, utr_id, plan_type, amount, status
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,'pending');`

	getPlanPricesSQL = `SELECT price_3_days, price_1_week, price_1_month
    FROM subscription_prices
    LIMIT 1;`
)

// SubscriberMode selects which subscribers a fan-out targets.
type SubscriberMode string

const (
	// ModeAllActive bypasses subscription-expiry filtering. Used for
	// operational alerts and admin broadcasts.
	ModeAllActive SubscriberMode = "all-active"
	// ModeActiveSubscription keeps only subscribers with an unexpired paid
	// subscription. Used for stock alerts.
	ModeActiveSubscription SubscriberMode = "active-subscription"
)

// SettingsStore reads and patches the singleton settings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (Settings, error)
	MarkAPIKeyAlert(ctx context.Context, at time.Time) error
}

// CredentialStore provides the scraper credential pool.
type CredentialStore interface {
	ListActiveCredentials(ctx context.Context) ([]Credential, error)
	UpdateCredential(ctx context.Context, id string, patch CredentialPatch) error
}

// TargetStore provides the monitored category pages.
type TargetStore interface {
	ListActiveTargets(ctx context.Context) ([]Target, error)
	UpdateTargetCount(ctx context.Context, id string, count int) error
}

// HistoryStore persists cycle outcomes.
type HistoryStore interface {
	InsertHistory(ctx context.Context, rec HistoryRecord) error
	LatestHistory(ctx context.Context) (*HistoryRecord, error)
	ListRecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error)
	ListHistoryBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error)
}

// SubscriberStore provides the alert audience and bot bookkeeping.
type SubscriberStore interface {
	ListSubscribers(ctx context.Context, mode SubscriberMode) ([]Subscriber, error)
	GetSubscriber(ctx context.Context, chatID string) (*Subscriber, error)
	UpsertSubscriber(ctx context.Context, sub Subscriber) error
	SetSubscriberActive(ctx context.Context, chatID string, active bool) error
	InsertBotMessage(ctx context.Context, msg BotMessage) error
	LatestUTRMessage(ctx context.Context, chatID string) (string, error)
	InsertSubscriptionRequest(ctx context.Context, req SubscriptionRequest) error
	GetPlanPrices(ctx context.Context) (PlanPrices, error)
}

// Store aggregates access to all monitor tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetSettings fetches the singleton settings row.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	pool, err := s.getPool()
	if err != nil {
		return Settings{}, err
	}

	var (
		settings Settings
		alertAt  sql.NullTime
	)
	row := pool.QueryRow(ctx, getSettingsSQL)
	if scanErr := row.Scan(
		&settings.ID,
		&settings.Threshold,
		&settings.JumpThreshold,
		&settings.IntervalSeconds,
		&settings.IsPaused,
		&alertAt,
		&settings.UpdatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Settings{}, ErrSettingsMissing
		}
		return Settings{}, fmt.Errorf("get settings: %w", scanErr)
	}
	if alertAt.Valid {
		t := alertAt.Time
		settings.LastAPIKeyAlertAt = &t
	}
	return settings, nil
}

// MarkAPIKeyAlert records when the last credential-exhaustion alert was sent.
func (s *Store) MarkAPIKeyAlert(ctx context.Context, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markAPIKeyAlertSQL, at); execErr != nil {
		return fmt.Errorf("mark api key alert: %w", execErr)
	}
	return nil
}

// ListActiveCredentials returns active credentials, least recently used first.
func (s *Store) ListActiveCredentials(ctx context.Context) ([]Credential, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveCredentialsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active credentials: %w", queryErr)
	}
	defer rows.Close()

	creds := make([]Credential, 0)
	for rows.Next() {
		var (
			cred     Credential
			label    sql.NullString
			lastErr  sql.NullString
			lastUsed sql.NullTime
		)
		if scanErr := rows.Scan(&cred.ID, &cred.APIKey, &label, &cred.IsActive, &lastErr, &lastUsed); scanErr != nil {
			return nil, scanErr
		}
		if label.Valid {
			v := label.String
			cred.Label = &v
		}
		if lastErr.Valid {
			v := lastErr.String
			cred.LastError = &v
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			cred.LastUsedAt = &t
		}
		creds = append(creds, cred)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return creds, nil
}

// UpdateCredential applies a point-write of credential metadata. Writes are
// keyed by id and last-write-wins; the data is diagnostic, not authoritative.
func (s *Store) UpdateCredential(ctx context.Context, id string, patch CredentialPatch) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var lastUsed interface{}
	if patch.LastUsedAt != nil {
		lastUsed = *patch.LastUsedAt
	}
	var lastErr interface{}
	if patch.LastError != nil {
		lastErr = *patch.LastError
	}

	if _, execErr := pool.Exec(ctx, updateCredentialSQL, id, lastUsed, lastErr, patch.ClearError); execErr != nil {
		return fmt.Errorf("update credential: %w", execErr)
	}
	return nil
}

// ListActiveTargets returns the active category targets.
func (s *Store) ListActiveTargets(ctx context.Context) ([]Target, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveTargetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active targets: %w", queryErr)
	}
	defer rows.Close()

	targets := make([]Target, 0)
	for rows.Next() {
		var (
			target Target
			count  sql.NullInt64
		)
		if scanErr := rows.Scan(&target.ID, &target.Name, &target.URL, &target.Threshold, &target.IsActive, &target.SubtractFromTotal, &count); scanErr != nil {
			return nil, scanErr
		}
		if count.Valid {
			v := int(count.Int64)
			target.LastItemCount = &v
		}
		targets = append(targets, target)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return targets, nil
}

// UpdateTargetCount stores a target's latest successfully scraped count.
func (s *Store) UpdateTargetCount(ctx context.Context, id string, count int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateTargetCountSQL, id, count); execErr != nil {
		return fmt.Errorf("update target count: %w", execErr)
	}
	return nil
}

// InsertHistory persists one completed cycle.
func (s *Store) InsertHistory(ctx context.Context, rec HistoryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	var errMsg interface{}
	if rec.TelegramError != nil {
		errMsg = *rec.TelegramError
	}

	if _, execErr := pool.Exec(ctx, insertHistorySQL,
		id,
		rec.ItemCount,
		rec.Threshold,
		rec.ExceedsThreshold,
		rec.TelegramSent,
		errMsg,
	); execErr != nil {
		return fmt.Errorf("insert history: %w", execErr)
	}
	return nil
}

// LatestHistory returns the most recent cycle record, or nil when none exists.
func (s *Store) LatestHistory(ctx context.Context) (*HistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanHistory(pool.QueryRow(ctx, latestHistorySQL))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest history: %w", scanErr)
	}
	return &rec, nil
}

// ListRecentHistory lists the most recent cycle records.
func (s *Store) ListRecentHistory(ctx context.Context, limit int) ([]HistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentHistorySQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent history: %w", queryErr)
	}
	defer rows.Close()

	return collectHistory(rows, limit)
}

// ListHistoryBetween lists cycle records within a time window.
func (s *Store) ListHistoryBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistoryBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history between: %w", queryErr)
	}
	defer rows.Close()

	return collectHistory(rows, 0)
}

// ListSubscribers returns the fan-out audience for the given mode.
func (s *Store) ListSubscribers(ctx context.Context, mode SubscriberMode) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := listActiveSubscribersSQL
	if mode == ModeActiveSubscription {
		query = listSubscribedSubscribersSQL
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscriber, 0)
	for rows.Next() {
		sub, scanErr := scanSubscriber(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// GetSubscriber fetches one subscriber by chat id, or nil when unknown.
func (s *Store) GetSubscriber(ctx context.Context, chatID string) (*Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	sub, scanErr := scanSubscriber(pool.QueryRow(ctx, getSubscriberSQL, chatID))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get subscriber: %w", scanErr)
	}
	return &sub, nil
}

// UpsertSubscriber registers or refreshes a subscriber row keyed by chat id.
func (s *Store) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, execErr := pool.Exec(ctx, upsertSubscriberSQL,
		id,
		sub.ChatID,
		nullableString(sub.Username),
		nullableString(sub.FirstName),
		sub.IsActive,
	); execErr != nil {
		return fmt.Errorf("upsert subscriber: %w", execErr)
	}
	return nil
}

// SetSubscriberActive flips a subscriber's active flag.
func (s *Store) SetSubscriberActive(ctx context.Context, chatID string, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setSubscriberActiveSQL, chatID, active); execErr != nil {
		return fmt.Errorf("set subscriber active: %w", execErr)
	}
	return nil
}

// InsertBotMessage stores one inbound Telegram message.
func (s *Store) InsertBotMessage(ctx context.Context, msg BotMessage) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, execErr := pool.Exec(ctx, insertBotMessageSQL,
		id,
		msg.ChatID,
		nullableString(msg.Username),
		nullableString(msg.FirstName),
		msg.Text,
	); execErr != nil {
		return fmt.Errorf("insert bot message: %w", execErr)
	}
	return nil
}

// LatestUTRMessage returns the chat's most recent stored "UTR: …" message,
// or empty when none exists.
func (s *Store) LatestUTRMessage(ctx context.Context, chatID string) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}

	var text string
	if scanErr := pool.QueryRow(ctx, latestUTRMessageSQL, chatID).Scan(&text); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest utr message: %w", scanErr)
	}
	return text, nil
}

// InsertSubscriptionRequest records a pending paid-plan request.
func (s *Store) InsertSubscriptionRequest(ctx context.Context, req SubscriptionRequest) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, execErr := pool.Exec(ctx, insertSubscriptionRequestSQL,
		id,
		req.ChatID,
		nullableString(req.Username),
		nullableString(req.FirstName),
		req.UTRID,
		req.PlanType,
		req.Amount.String(),
	); execErr != nil {
		return fmt.Errorf("insert subscription request: %w", execErr)
	}
	return nil
}

// GetPlanPrices fetches the current plan pricing row.
func (s *Store) GetPlanPrices(ctx context.Context) (PlanPrices, error) {
	pool, err := s.getPool()
	if err != nil {
		return PlanPrices{}, err
	}

	var threeDays, oneWeek, oneMonth string
	if scanErr := pool.QueryRow(ctx, getPlanPricesSQL).Scan(&threeDays, &oneWeek, &oneMonth); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return DefaultPlanPrices(), nil
		}
		return PlanPrices{}, fmt.Errorf("get plan prices: %w", scanErr)
	}

	prices := PlanPrices{}
	var convErr error
	if prices.ThreeDays, convErr = decimal.NewFromString(threeDays); convErr != nil {
		return PlanPrices{}, fmt.Errorf("parse 3-day price: %w", convErr)
	}
	if prices.OneWeek, convErr = decimal.NewFromString(oneWeek); convErr != nil {
		return PlanPrices{}, fmt.Errorf("parse 1-week price: %w", convErr)
	}
	if prices.OneMonth, convErr = decimal.NewFromString(oneMonth); convErr != nil {
		return PlanPrices{}, fmt.Errorf("parse 1-month price: %w", convErr)
	}
	return prices, nil
}

// DefaultPlanPrices returns the pricing used before an admin sets their own.
func DefaultPlanPrices() PlanPrices {
	return PlanPrices{
		ThreeDays: decimal.NewFromInt(50),
		OneWeek:   decimal.NewFromInt(100),
		OneMonth:  decimal.NewFromInt(400),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (HistoryRecord, error) {
	var (
		rec    HistoryRecord
		errMsg sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ItemCount,
		&rec.Threshold,
		&rec.ExceedsThreshold,
		&rec.TelegramSent,
		&errMsg,
		&rec.CreatedAt,
	); err != nil {
		return HistoryRecord{}, err
	}
	if errMsg.Valid {
		v := errMsg.String
		rec.TelegramError = &v
	}
	return rec, nil
}

func collectHistory(rows pgx.Rows, sizeHint int) ([]HistoryRecord, error) {
	records := make([]HistoryRecord, 0, sizeHint)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSubscriber(row rowScanner) (Subscriber, error) {
	var (
		sub       Subscriber
		username  sql.NullString
		firstName sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&sub.ID,
		&sub.ChatID,
		&username,
		&firstName,
		&sub.IsActive,
		&sub.SubscribedAt,
		&expiresAt,
	); err != nil {
		return Subscriber{}, err
	}
	if username.Valid {
		v := username.String
		sub.Username = &v
	}
	if firstName.Valid {
		v := firstName.String
		sub.FirstName = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		sub.SubscriptionExpiresAt = &t
	}
	return sub, nil
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
