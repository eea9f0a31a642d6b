package deploy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_Deploy(t *testing.T) {
	var got webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"deployment_id": "dep_123", "url": "https://acme.sites.test"}`))
	}))
	defer server.Close()

	d, err := NewWebhook(server.URL, "secret", nil).Deploy(context.Background(), "acme", "s3://siteforge/sites/acme/v1-abc.json")
	require.NoError(t, err)
	assert.Equal(t, "dep_123", d.ID)
	assert.Equal(t, "https://acme.sites.test", d.URL)
	assert.Equal(t, "acme", got.SiteID)
	assert.Equal(t, "s3://siteforge/sites/acme/v1-abc.json", got.ArtifactURL)
}

func TestWebhook_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"rejected", http.StatusUnprocessableEntity, "bundle too large", "deployment rejected: bundle too large"},
		{"bad json", http.StatusOK, "<html>", "invalid response body"},
		{"missing id", http.StatusOK, `{"url": "https://x"}`, "no deployment_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewWebhook(server.URL, "", nil).Deploy(context.Background(), "acme", "ref")
			var derr *Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.status, derr.StatusCode)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWebhook_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewWebhook(url, "", nil).Deploy(context.Background(), "acme", "ref")
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 0, derr.StatusCode)
	assert.NotNil(t, derr.Unwrap())
}
