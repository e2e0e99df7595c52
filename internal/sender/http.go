package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vowsuite/notify/internal/domain"
)

// providerClient posts JSON payloads to an external delivery provider and
// classifies responses. The base URL is injected from config so tests can
// point at a local httptest server.
//
// Classification: 2xx is accepted; any other 4xx is a permanent failure
// (retrying a rejected payload cannot help); 5xx and transport errors are
// transient and eligible for retry.
type providerClient struct {
	baseURL    string
	httpClient *http.Client
}

func newProviderClient(baseURL string, timeout time.Duration) *providerClient {
	return &providerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// errGone marks a push subscription the provider reports as permanently gone.
var errGone = fmt.Errorf("%w: subscription gone", domain.ErrPermanentSendFailure)

func (p *providerClient) post(ctx context.Context, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", domain.ErrPermanentSendFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return errGone
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: provider status %d", domain.ErrPermanentSendFailure, resp.StatusCode)
	default:
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}
}
