package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailqueue/internal/models"
)

func mailgunConfig(baseURL string) *models.ProviderConfig {
	return &models.ProviderConfig{
		Name:   "mailgun",
		Active: true,
		From:   "noreply@example.com",
		Settings: map[string]string{
			"domain":   "mg.example.com",
			"api_key":  "key-secret",
			"base_url": baseURL,
		},
	}
}

func TestMailgunSend(t *testing.T) {
	var gotForm map[string]string
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "key-secret", pass)

		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"from":    r.PostFormValue("from"),
			"to":      r.PostFormValue("to"),
			"subject": r.PostFormValue("subject"),
			"html":    r.PostFormValue("html"),
		}
		gotPath = r.URL.Path

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"<msg@mg.example.com>","message":"Queued"}`))
	}))
	defer srv.Close()

	mg, err := NewMailgun(mailgunConfig(srv.URL))
	require.NoError(t, err)

	err = mg.Send(context.Background(), &Message{
		From:     "noreply@example.com",
		To:       "ada@example.com",
		Subject:  "Hello",
		HTMLBody: "<p>Hi</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "/v3/mg.example.com/messages", gotPath)
	assert.Equal(t, "ada@example.com", gotForm["to"])
	assert.Equal(t, "Hello", gotForm["subject"])
	assert.Equal(t, "<p>Hi</p>", gotForm["html"])
}

func TestMailgunSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid private key"}`))
	}))
	defer srv.Close()

	mg, err := NewMailgun(mailgunConfig(srv.URL))
	require.NoError(t, err)

	err = mg.Send(context.Background(), &Message{To: "ada@example.com"})
	require.Error(t, err)

	var dErr *DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "mailgun", dErr.Provider)
	assert.Contains(t, dErr.Reason, "401")
	assert.Contains(t, dErr.Reason, "Invalid private key")
}

func TestMailgunConfigValidation(t *testing.T) {
	_, err := NewMailgun(&models.ProviderConfig{Name: "mailgun", Settings: map[string]string{"domain": "mg.example.com"}})
	assert.Error(t, err)

	_, err = NewMailgun(&models.ProviderConfig{Name: "mailgun", Settings: map[string]string{"api_key": "k"}})
	assert.Error(t, err)
}
