package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

func verifyJob(t *testing.T, assetID string) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(model.VerifyAudioPayload{AssetID: assetID, FileExtension: ".mp3"})
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Queue: model.QueueVerifyAudio, Payload: raw}
}

func TestVerifyDisabledIsNoOp(t *testing.T) {
	store := storage.NewMemStore()
	worker := NewVerifyWorker(store, NewFingerprintClient("http://unused", ""))

	_, err := worker.Handle(context.Background(), verifyJob(t, "asset-1"))
	assert.NoError(t, err)
}

func TestVerifySubmitsSamplingParams(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"api_token": r.PostFormValue("api_token"),
			"skip":      r.PostFormValue("skip"),
			"every":     r.PostFormValue("every"),
		}
		assert.NotEmpty(t, r.PostFormValue("url"))
		json.NewEncoder(w).Encode(RecognizeResult{Status: "success"})
	}))
	defer server.Close()

	store := storage.NewMemStore()
	store.Put(storage.BucketFinalAudio, "asset-2/original.mp3", []byte("audio"))
	worker := NewVerifyWorker(store, NewFingerprintClient(server.URL, "token-123"))

	_, err := worker.Handle(context.Background(), verifyJob(t, "asset-2"))
	require.NoError(t, err)
	require.NotNil(t, gotForm)
	assert.Equal(t, "token-123", gotForm["api_token"])
	assert.Equal(t, "3", gotForm["skip"])
	assert.Equal(t, "1", gotForm["every"])
}

func TestVerifyServiceFailureIsNotAJobError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	store := storage.NewMemStore()
	store.Put(storage.BucketFinalAudio, "asset-3/original.mp3", []byte("audio"))
	worker := NewVerifyWorker(store, NewFingerprintClient(server.URL, "token-123"))

	// Advisory stage: even a failing provider never fails the job.
	_, err := worker.Handle(context.Background(), verifyJob(t, "asset-3"))
	assert.NoError(t, err)
}

func TestVerifyMissingAudioIsNotAJobError(t *testing.T) {
	store := storage.NewMemStore()
	worker := NewVerifyWorker(store, NewFingerprintClient("http://unused", "token-123"))

	_, err := worker.Handle(context.Background(), verifyJob(t, "missing"))
	assert.NoError(t, err)
}

func TestRecognizedResult(t *testing.T) {
	r := &RecognizeResult{Status: "success", Result: json.RawMessage(`{"artist":"x"}`)}
	assert.True(t, r.Recognized())

	r = &RecognizeResult{Status: "success", Result: json.RawMessage(`null`)}
	assert.False(t, r.Recognized())

	r = &RecognizeResult{Status: "error"}
	assert.False(t, r.Recognized())
}
