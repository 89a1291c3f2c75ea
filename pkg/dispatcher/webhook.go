package dispatcher

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/chainsafe/icco-contributor/pkg/contributor"
)

// WebhookPayload is the JSON body posted to the escrow host for every instruction.
type WebhookPayload struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	SaleID  string `json:"sale_id"`
	Slot    uint8  `json:"slot"`
	Account string `json:"account,omitempty"`
	Asset   struct {
		Chain   uint16 `json:"chain"`
		Address string `json:"address"`
		Native  bool   `json:"native"`
	} `json:"asset"`
	Amount  string `json:"amount"`
	EventID string `json:"event_id,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// WebhookExecutor posts instructions to the escrow host.
type WebhookExecutor struct {
	client *resty.Client
	url    string
}

// NewWebhookExecutor creates an executor that posts to url.
func NewWebhookExecutor(url string, timeout time.Duration) *WebhookExecutor {
	return &WebhookExecutor{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "icco-contributor/dispatcher").
			SetRetryCount(0),
	}
}

// Execute posts in and treats any 2xx response as delivered. Client errors
// are permanent.
func (e *WebhookExecutor) Execute(ctx context.Context, in *contributor.Instruction) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", in.ID.String()).
		SetBody(NewWebhookPayload(in)).
		Post(e.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout:
		return backoff.Permanent(fmt.Errorf("webhook returned %d: %s", code, resp.String()))
	default:
		return fmt.Errorf("webhook returned %d", code)
	}
}

// NewWebhookPayload renders an instruction for the escrow host.
func NewWebhookPayload(in *contributor.Instruction) WebhookPayload {
	p := WebhookPayload{
		ID:     in.ID.String(),
		Kind:   string(in.Kind),
		SaleID: in.SaleID.String(),
		Slot:   in.Slot,
		Amount: "0",
	}
	if in.Kind != contributor.InstructionPublishMessage {
		p.Account = in.Account.Hex()
	}
	p.Asset.Chain = uint16(in.Asset.Chain)
	p.Asset.Address = "0x" + in.Asset.Address.String()
	p.Asset.Native = in.Asset.IsNative()
	if in.Amount != nil {
		p.Amount = in.Amount.Dec()
	}
	if in.EventID != nil {
		p.EventID = in.EventID.String()
	}
	if len(in.Payload) > 0 {
		p.Payload = "0x" + hex.EncodeToString(in.Payload)
	}
	return p
}
