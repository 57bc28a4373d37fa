package banter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTransport serves canned responses in order, repeating the last one.
type stubTransport struct {
	mu        sync.Mutex
	responses []stubResponse
	requests  []*http.Request
}

type stubResponse struct {
	status  int
	body    string
	headers map[string]string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range resp.headers {
		header.Set(k, v)
	}
	return &http.Response{
		StatusCode: resp.status,
		Status:     http.StatusText(resp.status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
		Request:    req,
	}, nil
}

func completionBody(content string) string {
	return fmt.Sprintf(
		`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`,
		content,
	)
}

func newTestLLM(
	t *testing.T,
	tracker *RateTracker,
	responses ...stubResponse,
) (*LLMClient, *stubTransport) {
	t.Helper()
	transport := &stubTransport{responses: responses}
	cfg := LLMConfig{
		Token:                "test-token",
		Model:                "test-model",
		MaxRequestsPerSecond: 1000,
		RequestTimeout:       10 * time.Second,
		httpClient:           &http.Client{Transport: transport},
	}
	return NewLLMClient(cfg, tracker, nil), transport
}

func TestCompleteReturnsReply(t *testing.T) {
	tracker := NewRateTracker(
		ResponsePolicyConfig{
			BotResponseLimit:  20,
			BotResponseWindow: time.Minute,
		}, nil,
	)
	llm, transport := newTestLLM(
		t, tracker,
		stubResponse{status: http.StatusOK, body: completionBody("hello there")},
	)

	reply, err := llm.Complete(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Len(t, transport.requests, 1)
}

func TestCompleteCapturesRateLimitHeaders(t *testing.T) {
	tracker := NewRateTracker(
		ResponsePolicyConfig{
			BotResponseLimit:  20,
			BotResponseWindow: time.Minute,
		}, nil,
	)
	resetAt := time.Now().Add(45 * time.Second).UTC()
	llm, _ := newTestLLM(
		t, tracker,
		stubResponse{
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"rate limited","type":"requests"}}`,
			headers: map[string]string{
				headerRateLimitReset:     resetAt.Format(time.RFC3339),
				headerRateLimitRemaining: "0",
			},
		},
	)

	key := UserLimitKey("user-1")
	_, err := llm.Complete(context.Background(), key, "hi")
	require.Error(t, err)

	var rateLimited ErrRateLimited
	require.ErrorAs(t, err, &rateLimited)
	assert.Greater(t, rateLimited.Wait, time.Duration(0))

	// the limit is now tracked, so the next call short-circuits without
	// touching the API
	assert.True(t, tracker.RemoteLimited(key))
}

func TestCompletePreflightShortCircuit(t *testing.T) {
	tracker := NewRateTracker(
		ResponsePolicyConfig{
			BotResponseLimit:  20,
			BotResponseWindow: time.Minute,
		}, nil,
	)
	tracker.SetRemoteLimit("default", time.Now().Add(time.Minute), 0)

	llm, transport := newTestLLM(
		t, tracker,
		stubResponse{status: http.StatusOK, body: completionBody("unused")},
	)

	_, err := llm.Complete(context.Background(), "default", "hi")
	var rateLimited ErrRateLimited
	require.ErrorAs(t, err, &rateLimited)
	assert.Empty(t, transport.requests, "no request should be sent while limited")
}

func TestCompleteEmptyChoices(t *testing.T) {
	tracker := NewRateTracker(
		ResponsePolicyConfig{
			BotResponseLimit:  20,
			BotResponseWindow: time.Minute,
		}, nil,
	)
	llm, _ := newTestLLM(
		t, tracker,
		stubResponse{
			status: http.StatusOK,
			body:   `{"id":"cmpl-1","object":"chat.completion","choices":[]}`,
		},
	)

	_, err := llm.Complete(context.Background(), "", "hi")
	assert.Error(t, err)
}

func TestParseResetTime(t *testing.T) {
	assert.True(t, parseResetTime("").IsZero())
	assert.True(t, parseResetTime("garbage").IsZero())

	rfc := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	parsed := parseResetTime(rfc.Format(time.RFC3339))
	assert.True(t, parsed.Equal(rfc))

	epoch := parseResetTime("1748773800")
	assert.Equal(t, int64(1748773800), epoch.Unix())

	fractional := parseResetTime("1748773800.5")
	assert.Equal(t, int64(1748773800), fractional.Unix())
}

func TestUserLimitKey(t *testing.T) {
	assert.Equal(t, "user_123", UserLimitKey("123"))
	assert.Equal(t, remoteLimitKeyDefault, UserLimitKey(""))
}
