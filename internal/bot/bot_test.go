package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stock-count-alerts/internal/storage"
)

type fakeNotifier struct {
	messages []string // "chatID|text"
	photos   []string
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID, text string) error {
	f.messages = append(f.messages, chatID+"|"+text)
	return nil
}

func (f *fakeNotifier) SendPhoto(_ context.Context, chatID, photoURL, _ string) error {
	f.photos = append(f.photos, chatID+"|"+photoURL)
	return nil
}

type fakeSubStore struct {
	subscriber  *storage.Subscriber
	upserted    []storage.Subscriber
	deactivated []string
	messages    []storage.BotMessage
	requests    []storage.SubscriptionRequest
	utrMessage  string
}

func (f *fakeSubStore) ListSubscribers(context.Context, storage.SubscriberMode) ([]storage.Subscriber, error) {
	return nil, nil
}

func (f *fakeSubStore) GetSubscriber(context.Context, string) (*storage.Subscriber, error) {
	return f.subscriber, nil
}

func (f *fakeSubStore) UpsertSubscriber(_ context.Context, sub storage.Subscriber) error {
	f.upserted = append(f.upserted, sub)
	return nil
}

func (f *fakeSubStore) SetSubscriberActive(_ context.Context, chatID string, active bool) error {
	if !active {
		f.deactivated = append(f.deactivated, chatID)
	}
	return nil
}

func (f *fakeSubStore) InsertBotMessage(_ context.Context, msg storage.BotMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSubStore) LatestUTRMessage(context.Context, string) (string, error) {
	return f.utrMessage, nil
}

func (f *fakeSubStore) InsertSubscriptionRequest(_ context.Context, req storage.SubscriptionRequest) error {
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeSubStore) GetPlanPrices(context.Context) (storage.PlanPrices, error) {
	return storage.DefaultPlanPrices(), nil
}

func newTestHandler(store *fakeSubStore, notifier *fakeNotifier) *Handler {
	return NewHandler(store, notifier, "admin-chat", "https://x/qr.jpg", zerolog.Nop())
}

func update(chatID int64, text string) Update {
	return Update{Message: &Message{
		Chat: Chat{ID: chatID},
		From: &User{Username: "alice", FirstName: "Alice"},
		Text: text,
	}}
}

func TestHandleStart(t *testing.T) {
	notifier := &fakeNotifier{}
	h := newTestHandler(&fakeSubStore{}, notifier)

	if err := h.HandleUpdate(context.Background(), update(42, "/start")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "₹50") {
		t.Fatalf("欢迎消息应包含套餐价格: %v", notifier.messages)
	}
	if len(notifier.photos) != 1 {
		t.Fatal("应发送付款二维码")
	}
	// /start never registers the user.
	// Registration only happens once a UTR is submitted.
}

func TestHandleStop(t *testing.T) {
	store := &fakeSubStore{}
	h := newTestHandler(store, &fakeNotifier{})

	if err := h.HandleUpdate(context.Background(), update(42, "/stop")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if len(store.deactivated) != 1 || store.deactivated[0] != "42" {
		t.Fatalf("stop should deactivate the chat: %v", store.deactivated)
	}
}

func TestHandleStatusExpiredDeactivates(t *testing.T) {
	expired := time.Now().Add(-24 * time.Hour)
	store := &fakeSubStore{subscriber: &storage.Subscriber{ChatID: "42", IsActive: true, SubscriptionExpiresAt: &expired}}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	if err := h.HandleUpdate(context.Background(), update(42, "/status")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
	if len(store.deactivated) != 1 {
		t.Fatal("过期订阅应被停用")
	}
	if !strings.Contains(notifier.messages[0], "Expired") {
		t.Fatalf("status reply mismatch: %v", notifier.messages)
	}
}

func TestHandleStatusOnHold(t *testing.T) {
	store := &fakeSubStore{subscriber: &storage.Subscriber{ChatID: "42"}}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	_ = h.HandleUpdate(context.Background(), update(42, "/status"))
	if !strings.Contains(notifier.messages[0], "On Hold") {
		t.Fatalf("无到期时间应显示 hold: %v", notifier.messages)
	}
}

func TestHandleUTRFlow(t *testing.T) {
	store := &fakeSubStore{}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	if err := h.HandleUpdate(context.Background(), update(42, "UTR: 123456789012")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	if len(store.upserted) != 1 || store.upserted[0].IsActive {
		t.Fatalf("UTR 提交应以 hold 状态注册: %+v", store.upserted)
	}
	if len(store.messages) != 1 || store.messages[0].Text != "UTR: 123456789012" {
		t.Fatalf("UTR message should be stored: %+v", store.messages)
	}
	if !strings.Contains(notifier.messages[0], "select your plan") {
		t.Fatalf("应提示选择套餐: %v", notifier.messages)
	}
}

func TestHandleUTRTooShort(t *testing.T) {
	store := &fakeSubStore{}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	_ = h.HandleUpdate(context.Background(), update(42, "UTR: 123"))
	if len(store.messages) != 0 {
		t.Fatal("无效 UTR 不应入库")
	}
	if !strings.Contains(notifier.messages[0], "Invalid UTR") {
		t.Fatalf("expected rejection message: %v", notifier.messages)
	}
}

func TestHandlePlanSelection(t *testing.T) {
	store := &fakeSubStore{utrMessage: "UTR: 123456789012"}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	if err := h.HandleUpdate(context.Background(), update(42, "2")); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}

	if len(store.requests) != 1 {
		t.Fatalf("应创建订阅请求: %+v", store.requests)
	}
	req := store.requests[0]
	if req.PlanType != "1_week" || req.UTRID != "123456789012" {
		t.Fatalf("request mismatch: %+v", req)
	}
	if !req.Amount.Equal(storage.DefaultPlanPrices().OneWeek) {
		t.Fatalf("一周套餐价格不正确: %s", req.Amount)
	}

	var adminNotified bool
	for _, m := range notifier.messages {
		if strings.HasPrefix(m, "admin-chat|") && strings.Contains(m, "New Subscription Request") {
			adminNotified = true
		}
	}
	if !adminNotified {
		t.Fatal("admin should be notified about new requests")
	}
}

func TestHandlePlanSelectionWithoutUTR(t *testing.T) {
	store := &fakeSubStore{}
	notifier := &fakeNotifier{}
	h := newTestHandler(store, notifier)

	_ = h.HandleUpdate(context.Background(), update(42, "1 month"))
	if len(store.requests) != 0 {
		t.Fatal("缺少 UTR 时不应创建请求")
	}
	if !strings.Contains(notifier.messages[0], "first send your UTR") {
		t.Fatalf("expected UTR prompt: %v", notifier.messages)
	}
}

func TestHandleFreeTextStored(t *testing.T) {
	store := &fakeSubStore{}
	h := newTestHandler(store, &fakeNotifier{})

	_ = h.HandleUpdate(context.Background(), update(42, "when does stock drop?"))
	if len(store.messages) != 1 || store.messages[0].Text != "when does stock drop?" {
		t.Fatalf("普通消息应被存储: %+v", store.messages)
	}
}

func TestHandleEmptyUpdate(t *testing.T) {
	h := newTestHandler(&fakeSubStore{}, &fakeNotifier{})
	if err := h.HandleUpdate(context.Background(), Update{}); err != nil {
		t.Fatalf("empty update should be a no-op: %v", err)
	}
}

func TestPlanFromSelection(t *testing.T) {
	cases := map[string]string{
		"1":       "3_days",
		"3days":   "3_days",
		"3 Days":  "3_days",
		"2":       "1_week",
		"1 week":  "1_week",
		"3":       "1_month",
		"1month":  "1_month",
		"4":       "",
		"/start":  "",
		"2 weeks": "",
	}
	for in, want := range cases {
		if got := planFromSelection(in); got != want {
			t.Fatalf("planFromSelection(%q) = %q, want %q", in, got, want)
		}
	}
}
