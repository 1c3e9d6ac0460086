package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
	domainProvider "github.com/AzielCF/az-dispatch/messaging/domain/provider"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	httpTimeout     = 30 * time.Second
	maxResponseBody = 1 << 20
)

var httpClient = &http.Client{Timeout: httpTimeout}

// statusError is a non-2xx answer from the bridge.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("provider request failed: status=%d body=%s", e.Status, e.Body)
}

// HTTPProvider talks to the webhook bridge that owns the device sessions.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

func NewHTTPProvider(cfg config.ProviderConfig) *HTTPProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = httpTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
	}
}

func (p *HTTPProvider) CreateRemoteInstance(ctx context.Context, instanceName string) error {
	data, err := p.post(ctx, "/instance", map[string]string{"instanceName": instanceName})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}
	if !gjson.ValidBytes(data) || gjson.GetBytes(data, "qrcode").String() == "" {
		return fmt.Errorf("%w: instance %s not created", common.ErrProviderUnavailable, instanceName)
	}
	return nil
}

func (p *HTTPProvider) RequestPairingToken(ctx context.Context, instanceName, credential string) (string, error) {
	body := map[string]string{
		"instanceName":   instanceName,
		"instanceAPIKEY": credential,
	}

	data, err := p.post(ctx, "/qrcode", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}

	token := gjson.GetBytes(data, "qrcode").String()
	if token == "" {
		token = gjson.GetBytes(data, "base64").String()
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty pairing token", common.ErrProviderUnavailable)
	}
	return token, nil
}

func (p *HTTPProvider) CheckPairingConfirmation(ctx context.Context, instanceName string) domainProvider.PairingOutcome {
	data, err := p.post(ctx, "/confirma", map[string]string{"instanceName": instanceName})
	if err != nil {
		logrus.WithError(err).Debugf("[PROVIDER] confirmation check for %s failed", instanceName)
		return domainProvider.PairingIndeterminate
	}
	if !gjson.ValidBytes(data) {
		return domainProvider.PairingIndeterminate
	}

	switch strings.ToLower(strings.TrimSpace(gjson.GetBytes(data, "respond").String())) {
	case "positivo":
		return domainProvider.PairingConfirmed
	case "negativo":
		return domainProvider.PairingRejected
	default:
		return domainProvider.PairingIndeterminate
	}
}

func (p *HTTPProvider) SendMessage(ctx context.Context, credential, address, message string, media *job.Media) (domainProvider.SendAck, error) {
	body := map[string]interface{}{
		"instanceAPIKEY": credential,
		"number":         address,
		"text":           message,
	}

	if media != nil {
		encoded, err := encodeMedia(media)
		if err != nil {
			return domainProvider.SendAck{}, fmt.Errorf("%w: %v", common.ErrSendFailed, err)
		}
		body["media"] = encoded
	}

	data, err := p.post(ctx, "/send", body)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return domainProvider.SendAck{}, fmt.Errorf("%w: %v", common.ErrProviderAuth, err)
		}
		return domainProvider.SendAck{}, fmt.Errorf("%w: %v", common.ErrSendFailed, err)
	}

	return domainProvider.SendAck{MessageID: gjson.GetBytes(data, "id").String()}, nil
}

func (p *HTTPProvider) Disconnect(ctx context.Context, instanceName, credential string) error {
	_, err := p.post(ctx, "/logout", map[string]string{
		"instanceName":   instanceName,
		"instanceAPIKEY": credential,
	})
	return err
}

func (p *HTTPProvider) VerifyCredential(ctx context.Context, instanceName, credential string) (domainProvider.ConnectionState, error) {
	data, err := p.post(ctx, "/conexao", map[string]string{
		"instanceName":   instanceName,
		"instanceAPIKEY": credential,
	})
	if err != nil {
		return domainProvider.ConnectionUnknown, fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err)
	}

	switch gjson.GetBytes(data, "result").String() {
	case "open":
		return domainProvider.ConnectionOpen, nil
	case "close", "connecting":
		return domainProvider.ConnectionClosed, nil
	case "error":
		return domainProvider.ConnectionInvalid, nil
	default:
		return domainProvider.ConnectionUnknown, nil
	}
}

type mediaPayload struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
}

func encodeMedia(media *job.Media) (mediaPayload, error) {
	raw, err := os.ReadFile(media.Path)
	if err != nil {
		return mediaPayload{}, fmt.Errorf("read media %s: %w", media.FileName, err)
	}
	return mediaPayload{
		FileName: media.FileName,
		MimeType: media.MimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return jsonRequest(ctx, http.MethodPost, p.baseURL+path, p.apiKey, body)
}

func jsonRequest(ctx context.Context, method, url, apiKey string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 400 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &statusError{Status: resp.StatusCode, Body: snippet}
	}
	return data, nil
}
