package payment

import (
	"encoding/json"
	"strings"
)

// WebhookResult is the fixed internal form every provider event collapses
// to.  Downstream code never branches on provider payload shape again.
//
// IsPaid is true only for a confirmed successful payment.  Terminal is
// true when the provider says this order is finished without payment
// (cancelled, expired, failed) and the seats should be released.  An event
// that is neither paid nor terminal is informational and ignored.
type WebhookResult struct {
	IsPaid    bool
	Terminal  bool
	OrderCode string
	Status    string
}

// webhookEnvelope covers the payload shapes the provider is known to send.
// Older events carry code/status and orderCode at the top level; newer
// ones nest everything under data and add a success flag.  Order codes
// arrive as strings or numbers depending on the shape, hence json.Number.
type webhookEnvelope struct {
	Code      string      `json:"code"`
	Desc      string      `json:"desc"`
	Success   *bool       `json:"success"`
	Status    string      `json:"status"`
	OrderCode json.Number `json:"orderCode"`
	Data      *struct {
		Code      string      `json:"code"`
		Status    string      `json:"status"`
		OrderCode json.Number `json:"orderCode"`
	} `json:"data"`
}

// terminalStatuses are provider states after which the order will never be
// paid; the hold should be released.
var terminalStatuses = map[string]bool{
	"CANCELLED": true,
	"EXPIRED":   true,
	"FAILED":    true,
}

// Normalize parses a raw webhook payload into a WebhookResult.  It only
// fails on malformed JSON; a syntactically valid event with no usable
// fields normalizes to an ignorable result with an empty order code.
func Normalize(raw []byte) (WebhookResult, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return WebhookResult{}, err
	}

	res := WebhookResult{
		OrderCode: env.OrderCode.String(),
		Status:    strings.ToUpper(env.Status),
	}
	code := env.Code
	if env.Data != nil {
		if env.Data.OrderCode.String() != "" {
			res.OrderCode = env.Data.OrderCode.String()
		}
		if env.Data.Status != "" {
			res.Status = strings.ToUpper(env.Data.Status)
		}
		if env.Data.Code != "" {
			code = env.Data.Code
		}
	}

	switch {
	case env.Success != nil:
		res.IsPaid = *env.Success
	case code != "":
		res.IsPaid = code == successCode
	default:
		res.IsPaid = res.Status == "PAID"
	}
	if res.IsPaid && res.Status == "" {
		res.Status = "PAID"
	}
	res.Terminal = !res.IsPaid && terminalStatuses[res.Status]
	return res, nil
}
