package payment

// GatewayStatus is the gateway's view of a payment.
type GatewayStatus string

const (
	GatewayPending GatewayStatus = "pending"
	GatewaySuccess GatewayStatus = "success"
	GatewayFailed  GatewayStatus = "failed"
)

// Outcome is one answer from the gateway about a correlation id.
type Outcome struct {
	Status        GatewayStatus
	FailureReason string
	ReceiptNumber string
}

func (o Outcome) IsTerminal() bool {
	return o.Status == GatewaySuccess || o.Status == GatewayFailed
}
