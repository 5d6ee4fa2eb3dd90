package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClient_CreateCharge(t *testing.T) {
	engagementID := uuid.New()
	payerID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(900), payload["amount"])
		assert.Equal(t, "USD", payload["currency"])
		assert.Equal(t, payerID.String(), payload["payer_id"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "ch_123", "status": "pending"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	ref, err := client.CreateCharge(context.Background(), engagementID, payerID, 900, "USD")
	assert.NoError(t, err)
	assert.Equal(t, "ch_123", ref)
}

func TestClient_CreatePayout_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "provider unavailable"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.CreatePayout(context.Background(), uuid.New(), 270, "USD")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_Refund(t *testing.T) {
	engagementID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		meta := payload["metadata"].(map[string]any)
		assert.Equal(t, engagementID.String(), meta["engagement_id"])
		assert.Equal(t, "refund", meta["kind"])
		_ = json.NewEncoder(w).Encode(map[string]string{"ref": "rf_1", "status": "pending"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ref, err := client.Refund(context.Background(), engagementID, 200, "USD")
	assert.NoError(t, err)
	assert.Equal(t, "rf_1", ref)
}

func TestClient_MissingBaseURL(t *testing.T) {
	client := NewClient("", "key")
	_, err := client.CreateCharge(context.Background(), uuid.New(), uuid.New(), 900, "USD")
	assert.Error(t, err)
}
