package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stock-count-alerts/internal/storage"
)

// Report tallies one fan-out run. Sent+Failed always equals the number of
// attempted subscribers.
type Report struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// SubscriberSource resolves the audience for a fan-out mode.
type SubscriberSource interface {
	ListSubscribers(ctx context.Context, mode storage.SubscriberMode) ([]storage.Subscriber, error)
}

// Broadcaster converts one computed message into N independent delivery
// attempts. One subscriber's failure never aborts delivery to the rest.
type Broadcaster struct {
	notifier Notifier
	source   SubscriberSource
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewBroadcaster constructs a fan-out dispatcher. perSecond bounds outbound
// sends; Telegram throttles bots around 30 messages per second.
func NewBroadcaster(notifier Notifier, source SubscriberSource, perSecond float64, logger zerolog.Logger) *Broadcaster {
	if perSecond <= 0 {
		perSecond = 25
	}
	return &Broadcaster{
		notifier: notifier,
		source:   source,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:   logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Broadcast resolves the audience for mode and dispatches text to each chat.
func (b *Broadcaster) Broadcast(ctx context.Context, text string, mode storage.SubscriberMode) (Report, error) {
	subs, err := b.source.ListSubscribers(ctx, mode)
	if err != nil {
		return Report{}, fmt.Errorf("list subscribers: %w", err)
	}
	return b.Dispatch(ctx, text, subs), nil
}

// Dispatch sends text to every subscriber independently, capturing each
// failure as a "{chatId}: {error}" diagnostic string.
func (b *Broadcaster) Dispatch(ctx context.Context, text string, subs []storage.Subscriber) Report {
	report := Report{}
	for _, sub := range subs {
		if err := b.limiter.Wait(ctx); err != nil {
			// Deadline hit mid-fan-out: already-dispatched messages stand.
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", sub.ChatID, err))
			continue
		}
		if err := b.sendOne(ctx, sub.ChatID, text); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", sub.ChatID, err))
			continue
		}
		report.Sent++
	}

	b.logger.Info().Int("sent", report.Sent).Int("failed", report.Failed).Msg("fan-out finished")
	return report
}

// DispatchTo sends text to an explicit chat id list (admin broadcasts).
func (b *Broadcaster) DispatchTo(ctx context.Context, text string, chatIDs []string) Report {
	subs := make([]storage.Subscriber, len(chatIDs))
	for i, id := range chatIDs {
		subs[i] = storage.Subscriber{ChatID: id}
	}
	return b.Dispatch(ctx, text, subs)
}

func (b *Broadcaster) sendOne(ctx context.Context, chatID, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return b.notifier.SendMessage(sendCtx, chatID, text)
}
