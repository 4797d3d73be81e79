package eventlog

// Type categorizes a logged event.
type Type string

const (
	TypeContractModified Type = "CONTRACT_MODIFIED"
	TypeOrderSent        Type = "ORDER_SENT"
	TypeTransaction      Type = "TRANSACTION"
	TypeError            Type = "ERROR"
	TypeOrderCreated     Type = "ORDER_CREATED"
	TypeOrderEdited      Type = "ORDER_EDITED"
	TypeOrderCancelled   Type = "ORDER_CANCELLED"
	TypeTokenMint        Type = "TOKEN_MINT"
	TypeTokenTransfer    Type = "TOKEN_TRANSFER"
	TypeTokenBurn        Type = "TOKEN_BURN"
	TypeUpgrade          Type = "UPGRADE"
	TypeCheckpoint       Type = "CHECKPOINT"
)

// Status is the confirmation state of an event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Event is a sequence-numbered record of something that happened.
// Only Status, Signature, and RetryCount are mutated after creation, and
// only through Store methods.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Payload    map[string]any `json:"payload"`
	Sequence   uint64         `json:"sequence"`
	Timestamp  int64          `json:"timestamp"`
	Signature  string         `json:"signature,omitempty"`
	Status     Status         `json:"status"`
	RetryCount int            `json:"retry_count"`
}

// Filter selects events for Query. Zero values mean "no constraint".
// Limit keeps the last N matches after filtering, not the first N.
type Filter struct {
	Type         Type
	Status       Status
	FromSequence uint64
	Limit        int
}
