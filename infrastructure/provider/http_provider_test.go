package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	domainProvider "github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type capturedRequest struct {
	Path   string
	APIKey string
	Body   map[string]interface{}
}

func stubTransport(t *testing.T, status int, payload string, captured *capturedRequest) {
	t.Helper()

	orig := httpClient
	t.Cleanup(func() { httpClient = orig })

	httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if captured != nil {
				captured.Path = req.URL.Path
				captured.APIKey = req.Header.Get("apikey")
				if req.Body != nil {
					b, _ := io.ReadAll(req.Body)
					_ = json.Unmarshal(b, &captured.Body)
				}
			}
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(bytes.NewReader([]byte(payload))),
				Header:     make(http.Header),
			}, nil
		}),
	}
}

func newTestProvider() *HTTPProvider {
	return NewHTTPProvider(config.ProviderConfig{
		BaseURL:        "https://bridge.test/webhook/",
		APIKey:         "bridge-key",
		RequestTimeout: time.Second,
	})
}

func TestCreateRemoteInstance(t *testing.T) {
	var got capturedRequest
	stubTransport(t, http.StatusOK, `{"qrcode":"2@abc"}`, &got)

	require.NoError(t, newTestProvider().CreateRemoteInstance(context.Background(), "sales"))
	assert.Equal(t, "/webhook/instance", got.Path)
	assert.Equal(t, "bridge-key", got.APIKey)
	assert.Equal(t, map[string]interface{}{"instanceName": "sales"}, got.Body)

	stubTransport(t, http.StatusOK, `{"message":"exists"}`, nil)
	assert.ErrorIs(t, newTestProvider().CreateRemoteInstance(context.Background(), "sales"), common.ErrProviderUnavailable)

	stubTransport(t, http.StatusInternalServerError, `oops`, nil)
	assert.ErrorIs(t, newTestProvider().CreateRemoteInstance(context.Background(), "sales"), common.ErrProviderUnavailable)
}

func TestRequestPairingToken(t *testing.T) {
	var got capturedRequest
	stubTransport(t, http.StatusOK, `{"qrcode":"data:image/png;base64,AAAA"}`, &got)

	token, err := newTestProvider().RequestPairingToken(context.Background(), "sales", "cred")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", token)
	assert.Equal(t, "/webhook/qrcode", got.Path)
	assert.Equal(t, "bridge-key", got.APIKey)
	assert.Equal(t, "sales", got.Body["instanceName"])
	assert.Equal(t, "cred", got.Body["instanceAPIKEY"])
}

func TestRequestPairingToken_EmptyOrFailed(t *testing.T) {
	stubTransport(t, http.StatusOK, `{}`, nil)
	_, err := newTestProvider().RequestPairingToken(context.Background(), "sales", "cred")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)

	stubTransport(t, http.StatusBadGateway, `oops`, nil)
	_, err = newTestProvider().RequestPairingToken(context.Background(), "sales", "cred")
	assert.ErrorIs(t, err, common.ErrProviderUnavailable)
}

func TestCheckPairingConfirmation(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		payload string
		want    domainProvider.PairingOutcome
	}{
		{"positive", http.StatusOK, `{"respond":"positivo"}`, domainProvider.PairingConfirmed},
		{"negative", http.StatusOK, `{"respond":"negativo"}`, domainProvider.PairingRejected},
		{"unknown answer", http.StatusOK, `{"respond":"talvez"}`, domainProvider.PairingIndeterminate},
		{"not json", http.StatusOK, `<html>`, domainProvider.PairingIndeterminate},
		{"server error", http.StatusInternalServerError, `{"respond":"positivo"}`, domainProvider.PairingIndeterminate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stubTransport(t, tc.status, tc.payload, nil)
			got := newTestProvider().CheckPairingConfirmation(context.Background(), "sales")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCheckPairingConfirmation_TransportError(t *testing.T) {
	orig := httpClient
	t.Cleanup(func() { httpClient = orig })
	httpClient = &http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
	}

	got := newTestProvider().CheckPairingConfirmation(context.Background(), "sales")
	assert.Equal(t, domainProvider.PairingIndeterminate, got)
}

func TestSendMessage(t *testing.T) {
	var got capturedRequest
	stubTransport(t, http.StatusOK, `{"id":"msg-1"}`, &got)

	ack, err := newTestProvider().SendMessage(context.Background(), "cred", "5511999999999", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", ack.MessageID)
	assert.Equal(t, "/webhook/send", got.Path)
	assert.Equal(t, "5511999999999", got.Body["number"])
	assert.Equal(t, "hi", got.Body["text"])
	assert.NotContains(t, got.Body, "media")
}

func TestSendMessage_WithMedia(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))

	var got capturedRequest
	stubTransport(t, http.StatusOK, `{}`, &got)

	_, err := newTestProvider().SendMessage(context.Background(), "cred", "1", "doc", &job.Media{
		FileName: "a.pdf",
		MimeType: "application/pdf",
		Path:     path,
	})
	require.NoError(t, err)

	media, ok := got.Body["media"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "application/pdf", media["mimetype"])
	assert.Equal(t, "JVBERg==", media["data"])
}

func TestSendMessage_ErrorMapping(t *testing.T) {
	stubTransport(t, http.StatusUnauthorized, `{}`, nil)
	_, err := newTestProvider().SendMessage(context.Background(), "cred", "1", "x", nil)
	assert.ErrorIs(t, err, common.ErrProviderAuth)

	stubTransport(t, http.StatusInternalServerError, `{}`, nil)
	_, err = newTestProvider().SendMessage(context.Background(), "cred", "1", "x", nil)
	assert.ErrorIs(t, err, common.ErrSendFailed)
	assert.NotErrorIs(t, err, common.ErrProviderAuth)
}

func TestVerifyCredential(t *testing.T) {
	for payload, want := range map[string]domainProvider.ConnectionState{
		`{"result":"open"}`:  domainProvider.ConnectionOpen,
		`{"result":"close"}`: domainProvider.ConnectionClosed,
		`{"result":"error"}`: domainProvider.ConnectionInvalid,
		`{}`:                 domainProvider.ConnectionUnknown,
	} {
		stubTransport(t, http.StatusOK, payload, nil)
		state, err := newTestProvider().VerifyCredential(context.Background(), "sales", "cred")
		require.NoError(t, err)
		assert.Equal(t, want, state, payload)
	}
}
