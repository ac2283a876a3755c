package extractor

import (
	"errors"
	"testing"
)

func mustNew(t *testing.T, rules []Rule) *Extractor {
	t.Helper()
	e, err := New(rules)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestExtractRegexFirstMatchWins(t *testing.T) {
	e := mustNew(t, nil)

	count, err := e.Extract(`<div>1,234 items found</div><span>showing 99 items</span>`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 1234 {
		t.Fatalf("期望 1234, 实际 %d", count)
	}
}

func TestExtractThousandsSeparators(t *testing.T) {
	e := mustNew(t, nil)

	count, err := e.Extract("Over 12,345,678 products available")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 12345678 {
		t.Fatalf("千位分隔符应被剥离, 实际 %d", count)
	}
}

func TestExtractJSONCount(t *testing.T) {
	e := mustNew(t, nil)

	count, err := e.Extract(`{"page":1,"totalCount": 4821,"items":[]}`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 4821 {
		t.Fatalf("expected 4821, got %d", count)
	}
}

func TestExtractSelectorRule(t *testing.T) {
	e := mustNew(t, []Rule{
		{Kind: KindSelector, Pattern: ".product-count"},
	})

	count, err := e.Extract(`<html><body><span class="product-count">2,048 Items</span></body></html>`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 2048 {
		t.Fatalf("expected 2048, got %d", count)
	}
}

func TestExtractOrderedRules(t *testing.T) {
	e := mustNew(t, []Rule{
		{Kind: KindRegex, Pattern: `count=(\d+)`},
		{Kind: KindRegex, Pattern: `total=(\d+)`},
	})

	count, err := e.Extract("total=50 count=10")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 10 {
		t.Fatalf("规则应按顺序求值, 实际 %d", count)
	}
}

func TestExtractNotFound(t *testing.T) {
	e := mustNew(t, nil)

	if _, err := e.Extract("<html><body>no counts here</body></html>"); !errors.Is(err, ErrSignalNotFound) {
		t.Fatalf("expected ErrSignalNotFound, got %v", err)
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	if _, err := New([]Rule{{Kind: KindRegex, Pattern: `([`}}); err == nil {
		t.Fatal("无效正则应报错")
	}
	if _, err := New([]Rule{{Kind: "xpath", Pattern: "//div"}}); err == nil {
		t.Fatal("unknown rule kind should error")
	}
}
