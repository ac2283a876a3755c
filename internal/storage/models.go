package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings is the singleton monitor configuration row. It is re-read at the
// start of every cycle, never cached across invocations.
type Settings struct {
	ID                string
	Threshold         int
	JumpThreshold     int
	IntervalSeconds   int
	IsPaused          bool
	LastAPIKeyAlertAt *time.Time
	UpdatedAt         time.Time
}

// Credential is one scraper API key. The monitor reads IsActive but never
// flips it; disabling is an admin action.
type Credential struct {
	ID         string
	APIKey     string
	Label      *string
	IsActive   bool
	LastError  *string
	LastUsedAt *time.Time
}

// CredentialPatch updates per-credential diagnostic metadata after a use.
// ClearError resets last_error to NULL; otherwise LastError, when set,
// overwrites it.
type CredentialPatch struct {
	LastUsedAt *time.Time
	LastError  *string
	ClearError bool
}

// Target is a monitored category page. SubtractFromTotal targets never alert
// on their own threshold; their count is removed from the main count instead.
type Target struct {
	ID                string
	Name              string
	URL               string
	Threshold         int
	IsActive          bool
	SubtractFromTotal bool
	LastItemCount     *int
}

// HistoryRecord summarises one completed monitoring cycle. ItemCount stores
// the adjusted count (after subtractive categories), which is also the basis
// for jump detection on the following cycle.
type HistoryRecord struct {
	ID               string
	ItemCount        int
	Threshold        int
	ExceedsThreshold bool
	TelegramSent     bool
	TelegramError    *string
	CreatedAt        time.Time
}

// Subscriber is a Telegram chat receiving alerts.
type Subscriber struct {
	ID                    string
	ChatID                string
	Username              *string
	FirstName             *string
	IsActive              bool
	SubscribedAt          time.Time
	SubscriptionExpiresAt *time.Time
}

// SubscriptionRequest is a pending paid-plan request awaiting manual
// payment verification.
type SubscriptionRequest struct {
	ID          string
	ChatID      string
	Username    *string
	FirstName   *string
	UTRID       string
	PlanType    string
	Amount      decimal.Decimal
	Status      string
	RequestedAt time.Time
}

// PlanPrices 各订阅套餐的价格（₹）。
type PlanPrices struct {
	ThreeDays decimal.Decimal
	OneWeek   decimal.Decimal
	OneMonth  decimal.Decimal
}

// BotMessage is a raw inbound Telegram message kept for the UTR/plan flow.
type BotMessage struct {
	ID        string
	ChatID    string
	Username  *string
	FirstName *string
	Text      string
	CreatedAt time.Time
}
