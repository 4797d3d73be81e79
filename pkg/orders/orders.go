// Package orders tracks the order lifecycle: create, edit, cancel, fill,
// plus crash-recovery restore. The current record for each id is mutable;
// every mutation also appends an immutable snapshot to an append-only
// history, which is the audit trail callers query.
package orders

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbcoin-labs/core/pkg/faults"
)

// Status is the lifecycle state of an order. CANCELLED and FILLED are
// terminal.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Order is the current record for an order id.
type Order struct {
	ID         string  `json:"id"`
	OrderType  string  `json:"order_type"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Wallet     string  `json:"wallet"`
	Editable   bool    `json:"editable"`
	Expiration int64   `json:"expiration,omitempty"`
	Status     Status  `json:"status"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// Request creates a new order. Editable defaults to true when nil.
type Request struct {
	OrderType  string
	Amount     float64
	Price      float64
	Wallet     string
	Editable   *bool
	Expiration int64
}

// Update carries the fields an edit may change. Nil means "keep".
type Update struct {
	OrderType  *string
	Amount     *float64
	Price      *float64
	Editable   *bool
	Expiration *int64
}

// HistoryFilter selects history snapshots.
type HistoryFilter struct {
	Wallet string
	Status Status
}

// Book owns the order records and their history.
type Book struct {
	mu      sync.RWMutex
	orders  map[string]Order
	history []Order
	locks   sync.Map // order id -> *sync.Mutex, restore serialization
	clock   func() time.Time
}

// NewBook creates an empty order book.
func NewBook() *Book {
	return &Book{
		orders: make(map[string]Order),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (b *Book) WithClock(clock func() time.Time) *Book {
	b.clock = clock
	return b
}

// Create validates and stores a new OPEN order.
func (b *Book) Create(req Request) (Order, error) {
	if req.Amount <= 0 {
		return Order{}, faults.Validationf("order amount must be positive")
	}
	if req.Price <= 0 {
		return Order{}, faults.Validationf("order price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock().UnixMilli()
	editable := true
	if req.Editable != nil {
		editable = *req.Editable
	}
	order := Order{
		ID:         uuid.New().String(),
		OrderType:  req.OrderType,
		Amount:     req.Amount,
		Price:      req.Price,
		Wallet:     req.Wallet,
		Editable:   editable,
		Expiration: req.Expiration,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	b.orders[order.ID] = order
	b.history = append(b.history, order)
	return order, nil
}

// Edit merges the update into an editable OPEN order and bumps UpdatedAt.
func (b *Book) Edit(id string, upd Update) (Order, error) {
	if upd.Amount != nil && *upd.Amount <= 0 {
		return Order{}, faults.Validationf("order amount must be positive")
	}
	if upd.Price != nil && *upd.Price <= 0 {
		return Order{}, faults.Validationf("order price must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.orders[id]
	if !ok {
		return Order{}, faults.Domainf("order not found")
	}
	if !existing.Editable || existing.Status != StatusOpen {
		return Order{}, faults.Domainf("order cannot be edited")
	}

	updated := existing
	if upd.Amount != nil {
		updated.Amount = *upd.Amount
	}
	if upd.Price != nil {
		updated.Price = *upd.Price
	}
	if upd.OrderType != nil {
		updated.OrderType = *upd.OrderType
	}
	if upd.Editable != nil {
		updated.Editable = *upd.Editable
	}
	if upd.Expiration != nil {
		updated.Expiration = *upd.Expiration
	}
	updated.UpdatedAt = b.clock().UnixMilli()
	b.orders[id] = updated
	b.history = append(b.history, updated)
	return updated, nil
}

// Cancel transitions the order to CANCELLED. Cancelling an already
// cancelled order is a no-op returning the existing record unchanged.
func (b *Book) Cancel(id string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.orders[id]
	if !ok {
		return Order{}, faults.Domainf("order not found")
	}
	if existing.Status == StatusCancelled {
		return existing, nil
	}
	existing.Status = StatusCancelled
	existing.UpdatedAt = b.clock().UnixMilli()
	b.orders[id] = existing
	b.history = append(b.history, existing)
	return existing, nil
}

// Fill transitions an OPEN order to FILLED. CANCELLED and FILLED are
// terminal states and cannot be filled.
func (b *Book) Fill(id string) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.orders[id]
	if !ok {
		return Order{}, faults.Domainf("order not found")
	}
	if existing.Status != StatusOpen {
		return Order{}, faults.Domainf("order cannot be filled")
	}
	existing.Status = StatusFilled
	existing.UpdatedAt = b.clock().UnixMilli()
	b.orders[id] = existing
	b.history = append(b.history, existing)
	return existing, nil
}

// Get returns the current record for id.
func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, ok := b.orders[id]
	return order, ok
}

// History returns matching snapshots in append order, newest last.
func (b *Book) History(f HistoryFilter) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]Order, 0, len(b.history))
	for _, entry := range b.history {
		if f.Wallet != "" && entry.Wallet != f.Wallet {
			continue
		}
		if f.Status != "" && entry.Status != f.Status {
			continue
		}
		results = append(results, entry)
	}
	return results
}

// Restore applies a recovered record with last-writer-wins conflict
// resolution: if the stored record has an equal-or-newer UpdatedAt, it wins
// and is returned unchanged. The check-then-write sequence is serialized
// per order id so concurrent restores for the same id cannot interleave.
func (b *Book) Restore(record Order) Order {
	lockAny, _ := b.locks.LoadOrStore(record.ID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.orders[record.ID]; ok && existing.UpdatedAt >= record.UpdatedAt {
		return existing
	}
	b.orders[record.ID] = record
	b.history = append(b.history, record)
	return record
}
