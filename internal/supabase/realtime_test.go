package supabase

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJobEventBroadcasts(t *testing.T) {
	jobID := uuid.New()

	var gotPath, gotAPIKey, gotAuth string
	var got broadcastRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewRealtimeClient(server.URL+"/", "service-key")
	err := client.PublishJobEvent(jobID, "generation_started", map[string]interface{}{"total": 3})
	require.NoError(t, err)

	assert.Equal(t, "/realtime/v1/api/broadcast", gotPath)
	assert.Equal(t, "service-key", gotAPIKey)
	assert.Equal(t, "Bearer service-key", gotAuth)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "job:"+jobID.String(), got.Messages[0].Topic)
	assert.Equal(t, "generation_started", got.Messages[0].Event)
	assert.Equal(t, float64(3), got.Messages[0].Payload["total"])
}

func TestPublishEventReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewRealtimeClient(server.URL, "service-key")
	err := client.PublishEvent("job:missing", "generation_started", nil)
	assert.Error(t, err)
}
