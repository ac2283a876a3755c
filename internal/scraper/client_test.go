package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stock-count-alerts/internal/credential"
	"stock-count-alerts/internal/extractor"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	ext, err := extractor.New(nil)
	if err != nil {
		t.Fatalf("extractor.New: %v", err)
	}
	return NewClient(Options{
		BaseURL:    baseURL,
		RenderWait: 100 * time.Millisecond,
		Timeout:    time.Second,
		UserAgent:  "test",
	}, ext, noopLogger())
}

func TestFetchCountSuccess(t *testing.T) {
	var gotAuth string
	var gotReq scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"html": "<div>1,234 items found</div>"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	count, err := c.FetchCount(context.Background(), "https://shop.example/c/dresses", "key-1")
	if err != nil {
		t.Fatalf("FetchCount 应成功: %v", err)
	}
	if count != 1234 {
		t.Fatalf("expected 1234, got %d", count)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("credential should be sent as bearer token, got %q", gotAuth)
	}
	if !strings.Contains(gotReq.URL, "_ts=") {
		t.Fatalf("请求 URL 应包含防缓存参数: %s", gotReq.URL)
	}
	if gotReq.WaitFor != 100 {
		t.Fatalf("waitFor should carry the render budget in ms, got %d", gotReq.WaitFor)
	}
}

func TestFetchCountQuotaStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchCount(context.Background(), "https://shop.example/c/all", "key-1")
	if err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
	if FailureKind(err) != credential.KindCredential {
		t.Fatalf("429 should classify as credential failure, got %v", FailureKind(err))
	}
}

func TestFetchCountServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unreachable"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchCount(context.Background(), "https://shop.example/c/all", "key-1")
	if err == nil {
		t.Fatal("HTTP 502 should error")
	}
	if FailureKind(err) != credential.KindTarget {
		t.Fatalf("502 应判定为目标侧失败, 实际 %v", FailureKind(err))
	}
}

func TestFetchCountQuotaBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "insufficient credits remaining",
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchCount(context.Background(), "https://shop.example/c/all", "key-1")
	if FailureKind(err) != credential.KindCredential {
		t.Fatalf("credit 错误文本应判定为 credential, 实际 %v", err)
	}
}

func TestFetchCountExtractionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"html": "<div>nothing countable</div>"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchCount(context.Background(), "https://shop.example/c/all", "key-1")
	if !errors.Is(err, extractor.ErrSignalNotFound) {
		t.Fatalf("expected ErrSignalNotFound, got %v", err)
	}
	if FailureKind(err) != credential.KindTarget {
		t.Fatal("解析失败不应触发凭证轮换")
	}
}

func TestFetchCountEmptyKey(t *testing.T) {
	c := testClient(t, "http://localhost:0")
	if _, err := c.FetchCount(context.Background(), "https://shop.example", ""); err == nil {
		t.Fatal("empty api key should error")
	}
}
