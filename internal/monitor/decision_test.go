package monitor

import (
	"strings"
	"testing"

	"stock-count-alerts/internal/storage"
)

func intPtr(v int) *int { return &v }

func TestDecideAdjustedNeverNegative(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  100,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "big", SubtractFromTotal: true}, Count: 250},
		},
	})
	if d.AdjustedCount != 0 {
		t.Fatalf("减数大于原始值时应钳制为 0, 实际 %d", d.AdjustedCount)
	}
}

func TestDecideSubtraction(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  1200,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "excluded", SubtractFromTotal: true}, Count: 150},
		},
	})
	if d.AdjustedCount != 1050 {
		t.Fatalf("expected adjusted 1050, got %d", d.AdjustedCount)
	}
	if d.TotalSubtracted != 150 {
		t.Fatalf("expected subtracted 150, got %d", d.TotalSubtracted)
	}
}

func TestDecideMainThresholdStrict(t *testing.T) {
	equal := Decide(DecisionInput{RawCount: 1000, Threshold: 1000})
	if equal.ExceedsThreshold {
		t.Fatal("adjusted == threshold 不应触发 (严格大于)")
	}

	over := Decide(DecisionInput{RawCount: 1001, Threshold: 1000})
	if !over.ExceedsThreshold {
		t.Fatal("adjusted == threshold+1 should trigger")
	}
}

func TestDecideCategoryThresholdInclusive(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  0,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "dresses", Threshold: 300}, Count: 300},
		},
	})
	if len(d.CategoryAlerts) != 1 {
		t.Fatal("category count == threshold 应触发 (包含比较)")
	}
	if !d.ShouldNotify {
		t.Fatal("category alert alone should notify")
	}
}

func TestDecideJumpDetection(t *testing.T) {
	noJump := Decide(DecisionInput{RawCount: 1099, Previous: intPtr(1000), Threshold: 5000, JumpThreshold: 100})
	if noJump.JumpDetected {
		t.Fatal("delta 99 < jumpThreshold 100 不应判定为 jump")
	}

	jump := Decide(DecisionInput{RawCount: 1100, Previous: intPtr(1000), Threshold: 5000, JumpThreshold: 100})
	if !jump.JumpDetected {
		t.Fatal("delta 100 >= jumpThreshold 100 should be a jump")
	}

	firstCycle := Decide(DecisionInput{RawCount: 999999, Threshold: 5000, JumpThreshold: 100})
	if firstCycle.JumpDetected {
		t.Fatal("previous == nil 时永不判定 jump")
	}
}

func TestDecideJumpUsesAdjustedCount(t *testing.T) {
	// Jump detection operates on the adjusted delta, matching what history
	// stores.
	d := Decide(DecisionInput{
		RawCount:      1300,
		Previous:      intPtr(1000),
		Threshold:     5000,
		JumpThreshold: 100,
		Categories: []CategoryResult{
			{Target: storage.Target{SubtractFromTotal: true}, Count: 250},
		},
	})
	// adjusted = 1050, delta = 50 < 100
	if d.JumpDetected {
		t.Fatalf("jump 应基于调整后的差值: %+v", d)
	}
}

func TestDecideSubtractiveNeverAlerts(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  500,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "excluded", Threshold: 10, SubtractFromTotal: true}, Count: 400},
		},
	})
	if len(d.CategoryAlerts) != 0 {
		t.Fatal("subtractive categories must not raise their own alerts")
	}
}

func TestDecideMessageComposition(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  1200,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "excluded", SubtractFromTotal: true}, Count: 150},
		},
		LinkURL: "https://shop.example/c/all",
	})

	if !d.ExceedsThreshold {
		t.Fatalf("adjusted 1050 > 1000 should exceed: %+v", d)
	}
	if !strings.Contains(d.Message, "Adjusted Stock: 1,050") {
		t.Fatalf("消息应包含调整后库存: %q", d.Message)
	}
	if !strings.Contains(d.Message, "Raw: 1,200 - 150 excluded") {
		t.Fatalf("消息应包含原始值与扣除量: %q", d.Message)
	}
	if !strings.Contains(d.Message, "https://shop.example/c/all") {
		t.Fatalf("message should end with the footer link: %q", d.Message)
	}
}

func TestDecideMessageOmitsQuietBlocks(t *testing.T) {
	d := Decide(DecisionInput{
		RawCount:  100,
		Threshold: 1000,
		Categories: []CategoryResult{
			{Target: storage.Target{Name: "dresses", Threshold: 50}, Count: 60},
		},
	})

	if strings.Contains(d.Message, "Adjusted Stock") {
		t.Fatalf("未超阈值时不应输出主库存块: %q", d.Message)
	}
	if !strings.Contains(d.Message, "dresses: 60 (threshold 50)") {
		t.Fatalf("category block missing: %q", d.Message)
	}
}

func TestGroupDigits(t *testing.T) {
	cases := map[int]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1050:     "1,050",
		12345678: "12,345,678",
		-4321:    "-4,321",
	}
	for in, want := range cases {
		if got := groupDigits(in); got != want {
			t.Fatalf("groupDigits(%d) = %q, want %q", in, got, want)
		}
	}
}
