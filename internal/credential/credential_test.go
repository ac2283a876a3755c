package credential

import (
	"errors"
	"testing"

	"stock-count-alerts/internal/storage"
)

func TestClassifyStatusCodes(t *testing.T) {
	for _, status := range []int{401, 402, 403, 429} {
		if Classify(status, "") != KindCredential {
			t.Fatalf("status %d 应判定为 credential", status)
		}
	}
	for _, status := range []int{0, 400, 404, 500, 502} {
		if Classify(status, "something broke") != KindTarget {
			t.Fatalf("status %d should be a target failure", status)
		}
	}
}

func TestClassifyBodyText(t *testing.T) {
	cases := map[string]Kind{
		"Monthly QUOTA exceeded":       KindCredential,
		"insufficient credits":         KindCredential,
		"rate limit reached":           KindCredential,
		"API key invalid":              KindCredential,
		"token Expired":                KindCredential,
		"Unauthorized request":         KindCredential,
		"connection reset by peer":     KindTarget,
		"upstream timeout after 15s":   KindTarget,
		"page structure not supported": KindTarget,
	}
	for body, want := range cases {
		if got := Classify(500, body); got != want {
			t.Fatalf("Classify(500, %q) = %v, want %v", body, got, want)
		}
	}
}

func TestClassifyStatusBeatsBody(t *testing.T) {
	// Combined approach: a 429 is a credential problem even with an
	// unrelated body.
	if Classify(429, "try again later") != KindCredential {
		t.Fatal("429 应优先按状态码判定")
	}
}

func TestSelectSkipsFailed(t *testing.T) {
	pool := []storage.Credential{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	cred, err := Select(pool, map[string]bool{"a": true, "b": true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if cred.ID != "c" {
		t.Fatalf("expected c, got %s", cred.ID)
	}
}

func TestSelectEmptyPool(t *testing.T) {
	if _, err := Select(nil, nil); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestSelectAllExhausted(t *testing.T) {
	pool := []storage.Credential{{ID: "a"}, {ID: "b"}}
	failed := map[string]bool{"a": true, "b": true}

	if _, err := Select(pool, failed); !errors.Is(err, ErrAllExhausted) {
		t.Fatalf("expected ErrAllExhausted, got %v", err)
	}
}

func TestSelectFromOffset(t *testing.T) {
	pool := []storage.Credential{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	cred, err := SelectFrom(pool, nil, 1)
	if err != nil {
		t.Fatalf("SelectFrom: %v", err)
	}
	if cred.ID != "b" {
		t.Fatalf("offset 1 应返回 b, 实际 %s", cred.ID)
	}

	// Wraps around past failed entries.
	cred, err = SelectFrom(pool, map[string]bool{"b": true, "c": true}, 1)
	if err != nil {
		t.Fatalf("SelectFrom wrap: %v", err)
	}
	if cred.ID != "a" {
		t.Fatalf("expected wrap to a, got %s", cred.ID)
	}
}
