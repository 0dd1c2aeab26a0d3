package models

// EventNameUnknown is assigned to logs that could not be decoded. Such logs
// are still recorded durably; decoding gaps must never cause event loss.
const EventNameUnknown = "Unknown"

// DecodedArgs is a tagged union of the typed payloads the schema decoders
// produce. Exactly one payload pointer is set, matching the event name; the
// Unknown variant carries the raw material for logs no decoder recognized.
type DecodedArgs struct {
	Schema   SchemaKind    `json:"schema"`
	Transfer *TransferArgs `json:"transfer,omitempty"`
	Approval *ApprovalArgs `json:"approval,omitempty"`
	Payment  *PaymentArgs  `json:"payment,omitempty"`
	Purchase *PurchaseArgs `json:"purchase,omitempty"`
	Unknown  *UnknownArgs  `json:"unknown,omitempty"`
}

// IsUnknown reports whether the args carry the Unknown fallback variant
func (a DecodedArgs) IsUnknown() bool {
	return a.Unknown != nil
}

// TransferArgs are the decoded arguments of an ERC-20 Transfer event.
// Amounts are decimal strings; uint256 does not fit native integers.
type TransferArgs struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
}

// ApprovalArgs are the decoded arguments of an ERC-20 Approval event
type ApprovalArgs struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Value   string `json:"value"`
}

// PaymentArgs are the decoded arguments of a PaymentReceived event
type PaymentArgs struct {
	OrderID string `json:"order_id"`
	Payer   string `json:"payer"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// PurchaseArgs are the decoded arguments of a TokensPurchased event
type PurchaseArgs struct {
	Buyer  string `json:"buyer"`
	Amount string `json:"amount"`
	Cost   string `json:"cost"`
}

// UnknownArgs preserves the raw log content when no decoder matched
type UnknownArgs struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
	Reason string   `json:"reason,omitempty"`
}
