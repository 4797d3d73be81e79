// Package recovery replays previously logged events against the token
// ledger and the order book to catch up after an outage.
//
// Replay is best-effort per event: a failure is captured into the event's
// retry count and the batch continues. There is no rollback of events
// already re-applied.
package recovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/tbcoin-labs/core/pkg/eventlog"
	"github.com/tbcoin-labs/core/pkg/faults"
	"github.com/tbcoin-labs/core/pkg/orders"
	"github.com/tbcoin-labs/core/pkg/token"
)

// Options constrains which events Resume considers.
type Options struct {
	FromSequence uint64
	OnlyFailed   bool
}

// Outcome is the per-event result of a resume pass.
type Outcome struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Summary reports a completed resume pass. LastProcessedSequence is the
// sequence of the last event fetched (before the failed-only filter), or
// nil when no events matched the fetch.
type Summary struct {
	ResumedOperations     int       `json:"resumedOperations"`
	LastProcessedSequence *uint64   `json:"lastProcessedSequence"`
	SuccessRate           float64   `json:"successRate"`
	Operations            []Outcome `json:"operations"`
}

// Coordinator re-derives event effects during recovery.
type Coordinator struct {
	events *eventlog.Store
	ledger *token.Ledger
	book   *orders.Book
	logger *slog.Logger
}

// NewCoordinator wires a coordinator over the event store, ledger, and
// order book.
func NewCoordinator(events *eventlog.Store, ledger *token.Ledger, book *orders.Book, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{events: events, ledger: ledger, book: book, logger: logger}
}

// Resume replays events from the store. With OnlyFailed set, only events in
// FAILED status are re-applied; everything else is left untouched. Each
// successful replay marks its event CONFIRMED; each failure increments the
// event's retry counter. SuccessRate is 1.0 when zero events were replayed.
func (c *Coordinator) Resume(opts Options) (Summary, error) {
	fetched := c.events.Query(eventlog.Filter{FromSequence: opts.FromSequence})

	var lastProcessed *uint64
	if len(fetched) > 0 {
		seq := fetched[len(fetched)-1].Sequence
		lastProcessed = &seq
	}

	batch := fetched
	if opts.OnlyFailed {
		batch = make([]eventlog.Event, 0, len(fetched))
		for _, e := range fetched {
			if e.Status == eventlog.StatusFailed {
				batch = append(batch, e)
			}
		}
	}

	outcomes := make([]Outcome, 0, len(batch))
	succeeded := 0
	for _, event := range batch {
		if err := c.replayOne(event); err != nil {
			if retryErr := c.events.IncrementRetry(event.ID); retryErr != nil {
				c.logger.Warn("retry counter update failed", "event", event.ID, "error", retryErr)
			}
			outcomes = append(outcomes, Outcome{ID: event.ID, Success: false, Error: err.Error()})
			continue
		}
		outcomes = append(outcomes, Outcome{ID: event.ID, Success: true})
		succeeded++
	}

	successRate := 1.0
	if len(outcomes) > 0 {
		successRate = float64(succeeded) / float64(len(outcomes))
	}
	c.logger.Info("resume completed",
		"resumed", len(outcomes), "succeeded", succeeded, "only_failed", opts.OnlyFailed)

	return Summary{
		ResumedOperations:     len(outcomes),
		LastProcessedSequence: lastProcessed,
		SuccessRate:           successRate,
		Operations:            outcomes,
	}, nil
}

// replayOne re-applies a single event's effect and marks it CONFIRMED.
// Unknown event types are no-ops that still confirm.
func (c *Coordinator) replayOne(event eventlog.Event) error {
	if err := c.apply(event); err != nil {
		return err
	}
	if _, err := c.events.UpdateStatus(event.ID, eventlog.StatusConfirmed, ""); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) apply(event eventlog.Event) error {
	switch event.Type {
	case eventlog.TypeTokenMint:
		wallet, amount, err := walletAmount(event.Payload, "wallet")
		if err != nil {
			return err
		}
		_, err = c.ledger.Mint(wallet, amount)
		return err

	case eventlog.TypeTokenTransfer:
		from, amount, err := walletAmount(event.Payload, "from")
		if err != nil {
			return err
		}
		to, ok := event.Payload["to"].(string)
		if !ok {
			return faults.Validationf("missing transfer recipient")
		}
		_, _, err = c.ledger.Transfer(from, to, amount)
		return err

	case eventlog.TypeTokenBurn:
		wallet, amount, err := walletAmount(event.Payload, "wallet")
		if err != nil {
			return err
		}
		_, err = c.ledger.Burn(wallet, amount)
		return err

	case eventlog.TypeOrderCreated, eventlog.TypeOrderSent, eventlog.TypeOrderEdited, eventlog.TypeOrderCancelled:
		order, err := orderFromPayload(event.Payload)
		if err != nil {
			return err
		}
		c.book.Restore(order)
		return nil

	default:
		return nil
	}
}

func walletAmount(payload map[string]any, walletKey string) (string, *big.Int, error) {
	wallet, ok := payload[walletKey].(string)
	if !ok {
		return "", nil, faults.Validationf("missing %s in payload", walletKey)
	}
	amount, err := parseAmount(payload["amount"])
	if err != nil {
		return "", nil, err
	}
	return wallet, amount, nil
}

// parseAmount accepts the string form the core logs and the numeric form a
// JSON reload can produce.
func parseAmount(value any) (*big.Int, error) {
	switch v := value.(type) {
	case string:
		amount, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, faults.Validationf("amount %q is not a valid integer", v)
		}
		return amount, nil
	case float64:
		return big.NewInt(int64(v)), nil
	case json.Number:
		amount, ok := new(big.Int).SetString(v.String(), 10)
		if !ok {
			return nil, faults.Validationf("amount %q is not a valid integer", v.String())
		}
		return amount, nil
	default:
		return nil, faults.Validationf("missing amount in payload")
	}
}

func orderFromPayload(payload map[string]any) (orders.Order, error) {
	raw, ok := payload["order"]
	if !ok {
		return orders.Order{}, faults.Validationf("missing order payload")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return orders.Order{}, fmt.Errorf("encode order payload: %w", err)
	}
	var order orders.Order
	if err := json.Unmarshal(encoded, &order); err != nil {
		return orders.Order{}, faults.Validationf("malformed order payload")
	}
	if order.ID == "" || order.Wallet == "" || order.Status == "" {
		return orders.Order{}, faults.Validationf("missing order payload")
	}
	return order, nil
}
