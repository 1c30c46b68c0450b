package events

// Topic constants for domain events emitted by the bridge.
const (
	TopicPaymentPaid = "payment.paid"
)

// PaymentPaid is the payload of TopicPaymentPaid. Downstream consumers use it
// to enroll the customer once the order is settled.
type PaymentPaid struct {
	OrderID        int64  `json:"orderId"`
	TransactionID  string `json:"transactionId,omitempty"`
	KashierOrderID string `json:"kashierOrderId,omitempty"`
	Method         string `json:"method,omitempty"`
	Channel        string `json:"channel"`
}
