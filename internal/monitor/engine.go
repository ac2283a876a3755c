package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stock-count-alerts/internal/alerting"
	"stock-count-alerts/internal/credential"
	"stock-count-alerts/internal/metrics"
	"stock-count-alerts/internal/scraper"
	"stock-count-alerts/internal/storage"
)

// AlertSender fans a composed message out to the subscriber audience.
type AlertSender interface {
	Broadcast(ctx context.Context, text string, mode storage.SubscriberMode) (alerting.Report, error)
}

// Options tune the engine.
type Options struct {
	// MainURL is the main monitored listing page.
	MainURL string
	// LinkURL is appended to alert messages; defaults to MainURL.
	LinkURL string
	// AlertCooldown rate-limits credential-exhaustion alerts.
	AlertCooldown time.Duration
}

// Engine runs one monitoring cycle per invocation: gate checks, credential-
// rotated scraping, the alert decision, fan-out, and history recording.
// Each invocation is stateless; concurrency safety across overlapping
// invocations comes from the interval gate reading persisted history.
type Engine struct {
	settings storage.SettingsStore
	creds    storage.CredentialStore
	targets  storage.TargetStore
	history  storage.HistoryStore
	fetcher  scraper.CountFetcher
	alerts   AlertSender
	logger   zerolog.Logger
	opts     Options

	now func() time.Time
}

// RunOptions carry per-invocation overrides from the trigger.
type RunOptions struct {
	// OverrideThreshold replaces the configured main threshold for this
	// cycle only.
	OverrideThreshold *int
	// ManualCount bypasses scraping entirely and feeds the decision
	// directly. Category scraping is skipped in manual mode.
	ManualCount *int
}

// NewEngine constructs a monitoring engine.
func NewEngine(
	settings storage.SettingsStore,
	creds storage.CredentialStore,
	targets storage.TargetStore,
	history storage.HistoryStore,
	fetcher scraper.CountFetcher,
	alerts AlertSender,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = time.Hour
	}
	if opts.LinkURL == "" {
		opts.LinkURL = opts.MainURL
	}

	return &Engine{
		settings: settings,
		creds:    creds,
		targets:  targets,
		history:  history,
		fetcher:  fetcher,
		alerts:   alerts,
		logger:   logger.With().Str("component", "engine").Logger(),
		opts:     opts,
		now:      time.Now,
	}
}

// RunCycle executes one monitoring cycle and returns its structured outcome.
func (e *Engine) RunCycle(ctx context.Context, opts RunOptions) Outcome {
	outcome := e.runCycle(ctx, opts)
	metrics.CyclesTotal.WithLabelValues(string(outcome.Status)).Inc()
	return outcome
}

func (e *Engine) runCycle(ctx context.Context, opts RunOptions) Outcome {
	// Settings are re-read every invocation; admin changes apply on the
	// next cycle without restarts.
	settings, err := e.settings.GetSettings(ctx)
	if err != nil {
		return failedOutcome(fmt.Sprintf("load settings: %v", err))
	}

	if settings.IsPaused {
		e.logger.Info().Msg("monitoring paused; skipping cycle")
		return pausedOutcome()
	}

	latest, err := e.history.LatestHistory(ctx)
	if err != nil {
		return failedOutcome(fmt.Sprintf("load latest history: %v", err))
	}

	// Interval gate: persisted history, not in-memory state, so overlapping
	// invocations cannot both pass and double-notify.
	if latest != nil {
		elapsed := e.now().Sub(latest.CreatedAt)
		required := time.Duration(settings.IntervalSeconds) * time.Second
		if elapsed < required {
			return skippedOutcome(int(elapsed.Seconds()), settings.IntervalSeconds)
		}
	}

	threshold := settings.Threshold
	if opts.OverrideThreshold != nil {
		threshold = *opts.OverrideThreshold
	}

	var previous *int
	if latest != nil {
		prev := latest.ItemCount
		previous = &prev
	}

	var (
		rawCount   int
		categories []CategoryResult
	)
	if opts.ManualCount != nil {
		rawCount = *opts.ManualCount
		e.logger.Info().Int("count", rawCount).Msg("using manual count input")
	} else {
		pool, err := e.creds.ListActiveCredentials(ctx)
		if err != nil {
			return failedOutcome(fmt.Sprintf("load credentials: %v", err))
		}

		rawCount, err = e.scrapeWithRotation(ctx, e.opts.MainURL, pool, 0)
		if err != nil {
			if errors.Is(err, credential.ErrAllExhausted) || errors.Is(err, credential.ErrNoCredentials) {
				e.maybeSendExhaustionAlert(ctx, settings)
			}
			return failedOutcome(fmt.Sprintf("scrape main target: %v", err))
		}

		targets, listErr := e.targets.ListActiveTargets(ctx)
		if listErr != nil {
			// Category failures never abort the cycle; proceed with none.
			e.logger.Error().Err(listErr).Msg("failed to list category targets")
		}
		categories = e.scrapeCategories(ctx, targets, pool)
	}

	decision := Decide(DecisionInput{
		RawCount:      rawCount,
		Previous:      previous,
		Threshold:     threshold,
		JumpThreshold: settings.JumpThreshold,
		Categories:    categories,
		LinkURL:       e.opts.LinkURL,
	})

	metrics.LastAdjustedCount.Set(float64(decision.AdjustedCount))
	e.logger.Info().
		Int("raw", decision.RawCount).
		Int("adjusted", decision.AdjustedCount).
		Int("threshold", threshold).
		Bool("exceeds", decision.ExceedsThreshold).
		Bool("jump", decision.JumpDetected).
		Int("category_alerts", len(decision.CategoryAlerts)).
		Msg("cycle decided")

	notified := false
	var notifyErrors []string
	if decision.ShouldNotify {
		report, sendErr := e.alerts.Broadcast(ctx, decision.Message, storage.ModeActiveSubscription)
		if sendErr != nil {
			notifyErrors = append(notifyErrors, sendErr.Error())
		} else {
			notified = report.Sent > 0
			notifyErrors = report.Errors
			metrics.NotificationsSent.Add(float64(report.Sent))
			metrics.NotificationsFailed.Add(float64(report.Failed))
		}
	}

	// History is recorded even when notifications partially failed: the
	// decision and message were still computed correctly for the attempted
	// sends, and the next cycle's gate and jump check depend on this row.
	record := storage.HistoryRecord{
		ItemCount:        decision.AdjustedCount,
		Threshold:        threshold,
		ExceedsThreshold: decision.ExceedsThreshold,
		TelegramSent:     notified,
	}
	if len(notifyErrors) > 0 {
		joined := strings.Join(notifyErrors, "; ")
		record.TelegramError = &joined
	}
	if insertErr := e.history.InsertHistory(ctx, record); insertErr != nil {
		// A failed history insert does not invalidate the computed outcome.
		e.logger.Error().Err(insertErr).Msg("failed to insert history record")
	}

	return Outcome{
		Status:       StatusCompleted,
		Decision:     &decision,
		Notified:     notified,
		NotifyErrors: notifyErrors,
	}
}

// scrapeWithRotation tries credentials in pool order starting at offset.
// Credential failures (auth/quota/rate-limit) advance to the next key;
// target failures surface immediately so a site-side problem is never
// masked by retrying with different keys.
func (e *Engine) scrapeWithRotation(ctx context.Context, targetURL string, pool []storage.Credential, offset int) (int, error) {
	failed := make(map[string]bool)
	for {
		cred, err := credential.SelectFrom(pool, failed, offset)
		if err != nil {
			return 0, err
		}

		count, fetchErr := e.fetcher.FetchCount(ctx, targetURL, cred.APIKey)
		now := e.now()
		if fetchErr == nil {
			e.recordCredentialOutcome(ctx, cred.ID, now, nil)
			return count, nil
		}

		msg := fetchErr.Error()
		e.recordCredentialOutcome(ctx, cred.ID, now, &msg)
		kind := scraper.FailureKind(fetchErr)
		metrics.ScrapeFailures.WithLabelValues(kind.String()).Inc()

		if kind == credential.KindTarget {
			return 0, fetchErr
		}

		e.logger.Warn().Str("credential", cred.ID).Str("url", targetURL).Err(fetchErr).Msg("credential exhausted, rotating")
		failed[cred.ID] = true
	}
}

// recordCredentialOutcome updates lastUsedAt always and lastError on
// failure (cleared on success). These are independent point-writes keyed by
// credential id; last-write-wins under concurrent category scrapes.
func (e *Engine) recordCredentialOutcome(ctx context.Context, id string, usedAt time.Time, failure *string) {
	patch := storage.CredentialPatch{LastUsedAt: &usedAt}
	if failure != nil {
		patch.LastError = failure
	} else {
		patch.ClearError = true
	}
	if err := e.creds.UpdateCredential(ctx, id, patch); err != nil {
		e.logger.Error().Err(err).Str("credential", id).Msg("failed to record credential outcome")
	}
}

// scrapeCategories fetches every active category concurrently, bounded by
// the number of configured targets. Each target starts its credential scan
// at a distinct round-robin offset so targets prefer distinct keys when the
// pool is large enough. A failed category is simply absent from the result;
// its stored count stays stale.
func (e *Engine) scrapeCategories(ctx context.Context, targets []storage.Target, pool []storage.Credential) []CategoryResult {
	if len(targets) == 0 {
		return nil
	}

	results := make([]*CategoryResult, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(idx int, target storage.Target) {
			defer wg.Done()

			offset := 0
			if len(pool) > 0 {
				offset = (idx + 1) % len(pool)
			}

			count, err := e.scrapeWithRotation(ctx, target.URL, pool, offset)
			if err != nil {
				e.logger.Warn().Str("category", target.Name).Err(err).Msg("category scrape failed; skipping this cycle")
				return
			}

			results[idx] = &CategoryResult{Target: target, Count: count}
			if updateErr := e.targets.UpdateTargetCount(ctx, target.ID, count); updateErr != nil {
				e.logger.Error().Err(updateErr).Str("category", target.Name).Msg("failed to update category count")
			}
		}(i, targets[i])
	}
	wg.Wait()

	collected := make([]CategoryResult, 0, len(targets))
	for _, res := range results {
		if res != nil {
			collected = append(collected, *res)
		}
	}
	return collected
}

// maybeSendExhaustionAlert raises an operational alert when the whole pool
// is exhausted, at most once per cooldown window.
func (e *Engine) maybeSendExhaustionAlert(ctx context.Context, settings storage.Settings) {
	now := e.now()
	if settings.LastAPIKeyAlertAt != nil && now.Sub(*settings.LastAPIKeyAlertAt) < e.opts.AlertCooldown {
		e.logger.Debug().Time("last_alert", *settings.LastAPIKeyAlertAt).Msg("exhaustion alert suppressed by cooldown")
		return
	}

	text := "⚠️ Monitor needs attention!\n\nAll scraper API keys are exhausted or failing. Stock checks are stalled until a key is replaced or quota resets.\n\nPlease review the API key pool."
	if _, err := e.alerts.Broadcast(ctx, text, storage.ModeAllActive); err != nil {
		e.logger.Error().Err(err).Msg("failed to send exhaustion alert")
		return
	}
	if err := e.settings.MarkAPIKeyAlert(ctx, now); err != nil {
		e.logger.Error().Err(err).Msg("failed to record exhaustion alert time")
	}
}
