package domain

// Relay outcome statuses for one inbound message event.
const (
	RelayStatusRelayed  = "relayed"
	RelayStatusRejected = "rejected"
)

// Rejection reasons. Rejected events are silently dropped on the SMS side;
// unpaid and unknown senders never receive a reply.
const (
	RejectReasonUnknownSender      = "unknown_sender"
	RejectReasonInsufficientCredit = "insufficient_credit"
	RejectReasonRateLimited        = "rate_limited"
)

// InboundMessage is one message event received from the carrier webhook.
type InboundMessage struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

// RelayOutcome reports what the gate decided for one inbound message.
type RelayOutcome struct {
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	ReplyText    string `json:"reply_text,omitempty"`
	// ModelDegraded is set when the model call failed and the fallback reply
	// was used. The inbound debit is not refunded in that case.
	ModelDegraded bool `json:"model_degraded,omitempty"`
}

// Rejected builds a rejection outcome for the given reason.
func Rejected(reason string) *RelayOutcome {
	return &RelayOutcome{Status: RelayStatusRejected, RejectReason: reason}
}

// Relayed builds a successful outcome carrying the reply text.
func Relayed(reply string, degraded bool) *RelayOutcome {
	return &RelayOutcome{Status: RelayStatusRelayed, ReplyText: reply, ModelDegraded: degraded}
}
