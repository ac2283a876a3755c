// Package bot handles inbound Telegram updates: subscription commands, the
// UTR payment-reference flow, and plan selection. Payment verification
// itself stays a human admin action; the bot only records pending requests.
package bot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stock-count-alerts/internal/alerting"
	"stock-count-alerts/internal/storage"
)

// Update is a Telegram webhook update, reduced to the fields we use.
type Update struct {
	Message *Message `json:"message"`
}

// Message is one inbound chat message.
type Message struct {
	Chat Chat   `json:"chat"`
	From *User  `json:"from"`
	Text string `json:"text"`
}

// Chat identifies the conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender.
type User struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Plan 订阅套餐。
type Plan struct {
	Type     string
	Display  string
	Amount   decimal.Decimal
	Duration time.Duration
}

// Handler processes updates against the subscriber store.
type Handler struct {
	store       storage.SubscriberStore
	notifier    alerting.Notifier
	adminChatID string
	qrPhotoURL  string
	logger      zerolog.Logger
	now         func() time.Time
}

// NewHandler constructs the bot handler. adminChatID receives new
// subscription request notifications; qrPhotoURL is the payment QR image.
func NewHandler(store storage.SubscriberStore, notifier alerting.Notifier, adminChatID, qrPhotoURL string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:       store,
		notifier:    notifier,
		adminChatID: adminChatID,
		qrPhotoURL:  qrPhotoURL,
		logger:      logger.With().Str("component", "bot").Logger(),
		now:         time.Now,
	}
}

var utrPrefixRe = regexp.MustCompile(`(?i)^UTR[:\s]+`)
var utrExtractRe = regexp.MustCompile(`(?i)UTR:\s*(\S+)`)

// HandleUpdate routes one Telegram update. Errors are for the caller's log
// only; the webhook always answers 200 to Telegram.
func (h *Handler) HandleUpdate(ctx context.Context, update Update) error {
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	text := strings.TrimSpace(msg.Text)

	var username, firstName *string
	if msg.From != nil {
		if msg.From.Username != "" {
			v := msg.From.Username
			username = &v
		}
		if msg.From.FirstName != "" {
			v := msg.From.FirstName
			firstName = &v
		}
	}

	switch {
	case text == "/start":
		return h.handleStart(ctx, chatID)
	case text == "/stop":
		return h.handleStop(ctx, chatID)
	case text == "/status":
		return h.handleStatus(ctx, chatID)
	case utrPrefixRe.MatchString(text):
		return h.handleUTR(ctx, chatID, username, firstName, text)
	case planFromSelection(text) != "":
		return h.handlePlanSelection(ctx, chatID, username, firstName, text)
	case text != "" && !strings.HasPrefix(text, "/"):
		return h.store.InsertBotMessage(ctx, storage.BotMessage{
			ChatID:    chatID,
			Username:  username,
			FirstName: firstName,
			Text:      text,
		})
	}
	return nil
}

func (h *Handler) handleStart(ctx context.Context, chatID string) error {
	prices, err := h.store.GetPlanPrices(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load plan prices; using defaults")
		prices = storage.DefaultPlanPrices()
	}

	welcome := fmt.Sprintf(`👋 Welcome to Stock Monitor!

Get instant alerts when tracked stock counts cross your configured thresholds.

%s`, pricingMessage(prices))

	if err := h.notifier.SendMessage(ctx, chatID, welcome); err != nil {
		return fmt.Errorf("send welcome: %w", err)
	}

	if h.qrPhotoURL != "" {
		if err := h.notifier.SendPhoto(ctx, chatID, h.qrPhotoURL, "📱 Scan this QR code to pay"); err != nil {
			h.logger.Warn().Err(err).Msg("could not send QR code image")
			_ = h.notifier.SendMessage(ctx, chatID, "⚠️ Please contact admin for payment QR code.")
		}
	}
	return nil
}

func (h *Handler) handleStop(ctx context.Context, chatID string) error {
	if err := h.store.SetSubscriberActive(ctx, chatID, false); err != nil {
		h.logger.Error().Err(err).Str("chat", chatID).Msg("failed to deactivate subscriber")
	}
	return h.notifier.SendMessage(ctx, chatID, "❌ You have been unsubscribed from stock alerts.\n\nSend /start to subscribe again.")
}

func (h *Handler) handleStatus(ctx context.Context, chatID string) error {
	sub, err := h.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}

	var status string
	switch {
	case sub == nil:
		status = "❌ Not Registered\n\nYou haven't subscribed yet. Send /start to see subscription plans."
	case sub.SubscriptionExpiresAt == nil:
		status = "⏸️ Subscription On Hold\n\nYour subscription is pending activation. If you've made payment, please wait for verification."
	case sub.SubscriptionExpiresAt.After(h.now()):
		daysLeft := int(time.Until(*sub.SubscriptionExpiresAt).Hours()/24) + 1
		status = fmt.Sprintf("✅ Subscription Active\n\n📅 Expires: %s\n⏳ Days remaining: %d",
			sub.SubscriptionExpiresAt.Format("2006-01-02"), daysLeft)
	default:
		// Expired: flip the flag so stale subscribers fall out of fan-outs.
		if err := h.store.SetSubscriberActive(ctx, chatID, false); err != nil {
			h.logger.Error().Err(err).Str("chat", chatID).Msg("failed to deactivate expired subscriber")
		}
		status = "⏰ Subscription Expired\n\nYour subscription has expired. Send /start to renew."
	}

	return h.notifier.SendMessage(ctx, chatID, status)
}

func (h *Handler) handleUTR(ctx context.Context, chatID string, username, firstName *string, text string) error {
	utrID := strings.TrimSpace(utrPrefixRe.ReplaceAllString(text, ""))
	if len(utrID) < 6 {
		return h.notifier.SendMessage(ctx, chatID, "❌ Invalid UTR ID. Please enter a valid UTR ID like:\nUTR: 123456789012")
	}

	// Register on hold; activation happens after manual verification.
	if err := h.store.UpsertSubscriber(ctx, storage.Subscriber{
		ChatID:    chatID,
		Username:  username,
		FirstName: firstName,
		IsActive:  false,
	}); err != nil {
		h.logger.Error().Err(err).Str("chat", chatID).Msg("failed to register subscriber")
	}

	if err := h.store.InsertBotMessage(ctx, storage.BotMessage{
		ChatID:    chatID,
		Username:  username,
		FirstName: firstName,
		Text:      "UTR: " + utrID,
	}); err != nil {
		return fmt.Errorf("store utr message: %w", err)
	}

	return h.notifier.SendMessage(ctx, chatID,
		fmt.Sprintf("📝 UTR ID received: %s\n\nPlease select your plan by sending:\n1️⃣ for 3 Days\n2️⃣ for 1 Week\n3️⃣ for 1 Month", utrID))
}

func (h *Handler) handlePlanSelection(ctx context.Context, chatID string, username, firstName *string, text string) error {
	utrText, err := h.store.LatestUTRMessage(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load utr message: %w", err)
	}
	m := utrExtractRe.FindStringSubmatch(utrText)
	if len(m) < 2 {
		return h.notifier.SendMessage(ctx, chatID, "❌ Please first send your UTR ID like:\nUTR: 123456789012")
	}
	utrID := m[1]

	prices, err := h.store.GetPlanPrices(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load plan prices; using defaults")
		prices = storage.DefaultPlanPrices()
	}
	plan := planByType(planFromSelection(text), prices)

	if err := h.store.InsertSubscriptionRequest(ctx, storage.SubscriptionRequest{
		ChatID:    chatID,
		Username:  username,
		FirstName: firstName,
		UTRID:     utrID,
		PlanType:  plan.Type,
		Amount:    plan.Amount,
	}); err != nil {
		h.logger.Error().Err(err).Str("chat", chatID).Msg("failed to create subscription request")
		return h.notifier.SendMessage(ctx, chatID, "❌ Error submitting request. Please try again.")
	}

	if err := h.notifier.SendMessage(ctx, chatID,
		fmt.Sprintf("✅ Payment Request Submitted!\n\n📋 Plan: %s\n💰 Amount: ₹%s\n🔢 UTR: %s\n\nYour subscription will be activated after verification. This usually takes a few minutes.",
			plan.Display, plan.Amount.StringFixed(0), utrID)); err != nil {
		return err
	}

	if h.adminChatID != "" {
		name := "Unknown"
		if firstName != nil {
			name = *firstName
		}
		handle := "no username"
		if username != nil {
			handle = *username
		}
		admin := fmt.Sprintf("🔔 New Subscription Request!\n\n👤 User: %s (@%s)\n🆔 Chat ID: %s\n📋 Plan: %s\n💰 Amount: ₹%s\n🔢 UTR: %s\n\nPlease verify payment and activate the subscription.",
			name, handle, chatID, plan.Display, plan.Amount.StringFixed(0), utrID)
		if err := h.notifier.SendMessage(ctx, h.adminChatID, admin); err != nil {
			h.logger.Error().Err(err).Msg("failed to notify admin")
		}
	}

	h.logger.Info().Str("chat", chatID).Str("plan", plan.Type).Msg("subscription request recorded")
	return nil
}

func pricingMessage(prices storage.PlanPrices) string {
	return fmt.Sprintf(`💰 Subscription Plans

📦 3 Days - ₹%s
📦 1 Week - ₹%s
📦 1 Month - ₹%s

To subscribe:
1️⃣ Scan the QR code below and pay
2️⃣ After payment, send your UTR ID like this:
   UTR: 123456789012
3️⃣ Then select your plan

Your subscription will be activated after verification!`,
		prices.ThreeDays.StringFixed(0), prices.OneWeek.StringFixed(0), prices.OneMonth.StringFixed(0))
}

// planFromSelection normalises a plan reply to its plan type, or "" when the
// text is not a plan selection.
func planFromSelection(text string) string {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(text)), " ", "") {
	case "1", "3days":
		return "3_days"
	case "2", "1week":
		return "1_week"
	case "3", "1month":
		return "1_month"
	}
	return ""
}

func planByType(planType string, prices storage.PlanPrices) Plan {
	switch planType {
	case "3_days":
		return Plan{Type: planType, Display: "3 Days", Amount: prices.ThreeDays, Duration: 3 * 24 * time.Hour}
	case "1_week":
		return Plan{Type: planType, Display: "1 Week", Amount: prices.OneWeek, Duration: 7 * 24 * time.Hour}
	default:
		return Plan{Type: "1_month", Display: "1 Month", Amount: prices.OneMonth, Duration: 30 * 24 * time.Hour}
	}
}
