package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"stock-count-alerts/internal/storage"
)

type fakeNotifier struct {
	failChats  map[string]bool
	panicChats map[string]bool
	sent       []string
}

func (f *fakeNotifier) SendMessage(_ context.Context, chatID, _ string) error {
	if f.panicChats[chatID] {
		panic("boom")
	}
	if f.failChats[chatID] {
		return errors.New("blocked by user")
	}
	f.sent = append(f.sent, chatID)
	return nil
}

func (f *fakeNotifier) SendPhoto(context.Context, string, string, string) error { return nil }

func subscribers(n int) []storage.Subscriber {
	subs := make([]storage.Subscriber, n)
	for i := range subs {
		subs[i] = storage.Subscriber{ChatID: fmt.Sprintf("chat-%d", i)}
	}
	return subs
}

func TestDispatchTotalsInvariant(t *testing.T) {
	notifier := &fakeNotifier{failChats: map[string]bool{"chat-0": true, "chat-3": true}}
	b := NewBroadcaster(notifier, nil, 1000, testLogger())

	report := b.Dispatch(context.Background(), "alert", subscribers(5))

	if report.Sent+report.Failed != 5 {
		t.Fatalf("sent+failed 必须等于订阅者总数: %+v", report)
	}
	if report.Sent != 3 || report.Failed != 2 {
		t.Fatalf("expected 3 sent / 2 failed, got %+v", report)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("每个失败应产生一条诊断: %+v", report.Errors)
	}
	for _, e := range report.Errors {
		if !strings.Contains(e, ": ") {
			t.Fatalf("error entry should be chatId: error, got %q", e)
		}
	}
}

func TestDispatchFailureDoesNotAbort(t *testing.T) {
	// A failure on subscriber K must not prevent delivery to K+1.
	notifier := &fakeNotifier{failChats: map[string]bool{"chat-0": true}}
	b := NewBroadcaster(notifier, nil, 1000, testLogger())

	report := b.Dispatch(context.Background(), "alert", subscribers(3))

	if report.Sent != 2 {
		t.Fatalf("后续订阅者应继续投递: %+v", report)
	}
	if notifier.sent[0] != "chat-1" || notifier.sent[1] != "chat-2" {
		t.Fatalf("unexpected delivery order: %v", notifier.sent)
	}
}

func TestDispatchPanicIsolation(t *testing.T) {
	notifier := &fakeNotifier{panicChats: map[string]bool{"chat-1": true}}
	b := NewBroadcaster(notifier, nil, 1000, testLogger())

	report := b.Dispatch(context.Background(), "alert", subscribers(3))

	if report.Sent != 2 || report.Failed != 1 {
		t.Fatalf("panic 应被限制在单个投递内: %+v", report)
	}
}

func TestDispatchEmptyAudience(t *testing.T) {
	b := NewBroadcaster(&fakeNotifier{}, nil, 1000, testLogger())
	report := b.Dispatch(context.Background(), "alert", nil)
	if report.Sent != 0 || report.Failed != 0 || len(report.Errors) != 0 {
		t.Fatalf("空列表应返回零报告: %+v", report)
	}
}

func TestDispatchToExplicitChats(t *testing.T) {
	notifier := &fakeNotifier{}
	b := NewBroadcaster(notifier, nil, 1000, testLogger())

	report := b.DispatchTo(context.Background(), "admin notice", []string{"a", "b"})
	if report.Sent != 2 {
		t.Fatalf("expected 2 sent, got %+v", report)
	}
}
