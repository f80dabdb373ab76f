// Package redirect interprets the query parameters a payment gateway
// appends to its browser return URL. Interpretation is pure parsing:
// no lookups, no caching, no side effects.
package redirect

import "net/url"

// Gateway identifies which processor produced the return redirect.
// Classification is explicit and exhaustive rather than probed field by
// field downstream.
type Gateway int

const (
	GatewayUnknown Gateway = iota
	GatewayVNPay
	GatewayPayOS
)

func (g Gateway) String() string {
	switch g {
	case GatewayVNPay:
		return "vnpay"
	case GatewayPayOS:
		return "payos"
	default:
		return "unknown"
	}
}

// Outcome is the provisional result inferred purely from the redirect,
// before any settlement lookup.
type Outcome int

const (
	OutcomeIndeterminate Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "indeterminate"
	}
}

// successCode is shared by both gateways: VNPay's vnp_ResponseCode and
// PayOS's code both report "00" on success.
const successCode = "00"

// Context is the immutable interpretation of one redirect event.
type Context struct {
	Gateway   Gateway
	Outcome   Outcome
	OrderID   string
	OrderCode string
	// Cancelled distinguishes a user-cancelled PayOS payment from a
	// declined one; both are Outcome Failure.
	Cancelled bool
	RawParams url.Values
}

// Interpret classifies the gateway and provisional outcome from the
// raw return-URL query parameters.
//
// VNPay is recognized by the presence of vnp_ResponseCode; PayOS by a
// code parameter alongside its id/orderCode/cancel/status identifiers.
// Anything else carries no provisional signal.
func Interpret(params url.Values) Context {
	rc := Context{
		Gateway:   GatewayUnknown,
		Outcome:   OutcomeIndeterminate,
		RawParams: params,
	}

	switch {
	case params.Has("vnp_ResponseCode"):
		rc.Gateway = GatewayVNPay
		if params.Get("vnp_ResponseCode") == successCode {
			rc.Outcome = OutcomeSuccess
		} else {
			rc.Outcome = OutcomeFailure
		}
		rc.OrderID = firstOf(params, "orderId", "vnp_TxnRef")
		rc.OrderCode = params.Get("orderCode")

	case params.Has("code") && (params.Has("id") || params.Has("orderCode") || params.Has("cancel") || params.Has("status")):
		rc.Gateway = GatewayPayOS
		rc.Cancelled = params.Get("cancel") == "true" || params.Get("status") == "CANCELLED"
		if params.Get("code") == successCode && !rc.Cancelled {
			rc.Outcome = OutcomeSuccess
		} else {
			rc.Outcome = OutcomeFailure
		}
		rc.OrderID = params.Get("orderId")
		rc.OrderCode = firstOf(params, "orderCode", "id")
	}

	return rc
}

func firstOf(params url.Values, keys ...string) string {
	for _, k := range keys {
		if v := params.Get(k); v != "" {
			return v
		}
	}
	return ""
}
