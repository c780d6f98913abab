package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, lenient bool) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		LenientOptional: lenient,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	}
}

func TestSearchCoupons(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-5", body["model"])
		assert.Equal(t, "find all working coupon codes on woxer.com", body["input"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{"type": "web_search_call", "status": "completed"},
				{"type": "message", "content": []map[string]any{
					{"type": "output_text", "text": "Use WOXER15 for 15% off."},
					{"type": "output_text", "text": "WELCOME10 for new customers."},
				}},
			},
		})
	}, false)

	text, err := c.SearchCoupons(context.Background(), "woxer.com")
	require.NoError(t, err)
	assert.Equal(t, "Use WOXER15 for 15% off.\nWELCOME10 for new customers.", text)
}

func TestSearchCoupons_NoText(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[]}`))
	}, false)

	_, err := c.SearchCoupons(context.Background(), "woxer.com")
	assert.ErrorIs(t, err, common.ErrExtraction)
}

func TestSearchCoupons_HTTPError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}, false)

	_, err := c.SearchCoupons(context.Background(), "woxer.com")
	assert.ErrorIs(t, err, common.ErrExtraction)
}

func TestExtractCodes(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
		_ = json.NewEncoder(w).Encode(chatResponse(`{"coupons":[{"code":"WOXER15"},{"code":"WELCOME10"},{"code":"WOXER15"}]}`))
	}, false)

	codes, err := c.ExtractCodes(context.Background(), "Use WOXER15 or WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, []string{"WOXER15", "WELCOME10"}, codes)
}

func TestExtractCodes_Lenient(t *testing.T) {
	t.Parallel()

	handler := func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse(`{"codes":["WOXER15"," "]}`))
	}

	strict := newTestClient(t, handler, false)
	_, err := strict.ExtractCodes(context.Background(), "text")
	assert.ErrorIs(t, err, common.ErrExtraction)

	lenient := newTestClient(t, handler, true)
	codes, err := lenient.ExtractCodes(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"WOXER15"}, codes)
}

func TestExtractCodes_EmptyTextSkipsCall(t *testing.T) {
	t.Parallel()

	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true }, false)

	codes, err := c.ExtractCodes(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, codes)
	assert.False(t, called)
}

func TestExtractCodes_NoChoices(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}, false)

	_, err := c.ExtractCodes(context.Background(), "text")
	assert.ErrorIs(t, err, common.ErrExtraction)
}
