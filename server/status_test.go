package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmusicplace/mirlo-sub003/queue"
)

func statusFixture(t *testing.T) (*StatusServer, *queue.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := queue.NewClient(rdb, 3, time.Second)
	return NewStatusServer(":0", q, rdb, nil), q, mr
}

func getJSON(t *testing.T, s *StatusServer, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestHealthOK(t *testing.T) {
	s, _, _ := statusFixture(t)

	var body map[string]string
	rec := getJSON(t, s, "/health", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegradedWhenRedisDown(t *testing.T) {
	s, _, mr := statusFixture(t)
	mr.Close()

	var body map[string]string
	rec := getJSON(t, s, "/health", &body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestJobStatusWaiting(t *testing.T) {
	s, q, _ := statusFixture(t)
	id, err := q.Enqueue(context.Background(), "convert-audio", map[string]string{"assetId": "a1"})
	require.NoError(t, err)

	var body jobStatusResponse
	rec := getJSON(t, s, "/api/jobs/"+id, &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body.ID)
	assert.Equal(t, "convert-audio", body.Queue)
	assert.Equal(t, string(queue.StateWaiting), body.State)
}

func TestJobStatusUnknownID(t *testing.T) {
	s, _, _ := statusFixture(t)

	var body jobStatusResponse
	rec := getJSON(t, s, "/api/jobs/no-such-job", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(queue.StateUnknown), body.State)
}

func TestJobStatusReportsProgress(t *testing.T) {
	s, q, _ := statusFixture(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, "generate-album", map[string]string{"format": "320.mp3"})
	require.NoError(t, err)
	require.NoError(t, q.SetProgress(ctx, id, 40))

	var body jobStatusResponse
	getJSON(t, s, "/api/jobs/"+id, &body)
	assert.Equal(t, 40, body.Progress)
}
