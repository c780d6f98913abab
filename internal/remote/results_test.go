package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerdantVibes/coupon-scraper/internal/common"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
)

func record() entity.ResultRecord {
	return entity.ResultRecord{Site: "example.com", Code: "B", Valid: true, Timestamp: "2025-03-01T10:00:00Z"}
}

func TestResultsClient_PersistSendsRecord(t *testing.T) {
	t.Parallel()

	var got entity.ResultRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewResultsClient(ResultsConfig{URL: srv.URL}, srv.Client(), nil)
	require.NoError(t, c.Persist(context.Background(), record()))
	assert.Equal(t, record(), got)
}

func TestResultsClient_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewResultsClient(ResultsConfig{URL: srv.URL}, srv.Client(), nil)
	err := c.Persist(context.Background(), record())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResultsClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewResultsClient(ResultsConfig{URL: srv.URL, MaxRetries: 3}, srv.Client(), nil)
	require.NoError(t, c.Persist(context.Background(), record()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestResultsClient_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewResultsClient(ResultsConfig{URL: srv.URL, MaxRetries: 3}, srv.Client(), nil)
	err := c.Persist(context.Background(), record())
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResultsClient_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewResultsClient(ResultsConfig{URL: url}, nil, nil)
	assert.ErrorIs(t, c.Persist(context.Background(), record()), common.ErrPersistence)
}

func TestResultsClient_DisabledWithoutURL(t *testing.T) {
	t.Parallel()

	c := NewResultsClient(ResultsConfig{}, nil, nil)
	assert.NoError(t, c.Persist(context.Background(), record()))
}
