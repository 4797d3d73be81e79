package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbcoin-labs/core/pkg/eventlog"
	"github.com/tbcoin-labs/core/pkg/governance"
	"github.com/tbcoin-labs/core/pkg/orders"
	"github.com/tbcoin-labs/core/pkg/recovery"
	"github.com/tbcoin-labs/core/pkg/token"
)

// Server bundles the core components behind the HTTP surface.
type Server struct {
	ledger      *token.Ledger
	book        *orders.Book
	engine      *governance.Engine
	events      *eventlog.Store
	coordinator *recovery.Coordinator
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewServer wires the handlers over the injected components. A nil limiter
// disables rate limiting.
func NewServer(ledger *token.Ledger, book *orders.Book, engine *governance.Engine,
	events *eventlog.Store, coordinator *recovery.Coordinator,
	limiter *rate.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:      ledger,
		book:        book,
		engine:      engine,
		events:      events,
		coordinator: coordinator,
		limiter:     limiter,
		logger:      logger,
	}
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/contract/modify", s.handleContractModify)
	mux.HandleFunc("POST /api/contract/upgrade", s.handleContractUpgrade)
	mux.HandleFunc("GET /api/contract/status", s.handleContractStatus)
	mux.HandleFunc("POST /api/contract/test-all", s.handleContractSelfCheck)

	mux.HandleFunc("POST /api/token/mint", s.handleMint)
	mux.HandleFunc("POST /api/token/transfer", s.handleTransfer)
	mux.HandleFunc("POST /api/token/burn", s.handleBurn)
	mux.HandleFunc("GET /api/token/balance/{wallet}", s.handleBalance)

	mux.HandleFunc("POST /api/orders/create", s.handleOrderCreate)
	mux.HandleFunc("PUT /api/orders/edit/{orderId}", s.handleOrderEdit)
	mux.HandleFunc("DELETE /api/orders/cancel/{orderId}", s.handleOrderCancel)
	mux.HandleFunc("GET /api/orders/history", s.handleOrderHistory)

	mux.HandleFunc("GET /api/events/logs", s.handleEventLogs)
	mux.HandleFunc("POST /api/events/resume", s.handleResume)
	mux.HandleFunc("GET /api/events/realtime", s.handleRealtime)

	mux.HandleFunc("GET /api/health", s.handleHealth)

	return s.withRateLimit(s.withLogging(mux))
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			WriteTooManyRequests(w, 1)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decode(w http.ResponseWriter, r *http.Request, target any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(target)
}

func (s *Server) handleContractModify(w http.ResponseWriter, r *http.Request) {
	var mod governance.Modification
	if err := decode(w, r, &mod); err != nil {
		WriteBadRequest(w, "malformed modification request")
		return
	}
	snapshot, event, err := s.engine.HandleModification(mod)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"snapshot": snapshotBody(snapshot),
		"event":    event,
	})
}

func (s *Server) handleContractUpgrade(w http.ResponseWriter, r *http.Request) {
	var req governance.Upgrade
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed upgrade request")
		return
	}
	event, err := s.engine.HandleUpgrade(req)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": event})
}

func (s *Server) handleContractStatus(w http.ResponseWriter, _ *http.Request) {
	status := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status": map[string]any{
			"token":         snapshotBody(status.Token),
			"modifications": status.Modifications,
			"upgrades":      status.Upgrades,
		},
	})
}

// handleContractSelfCheck runs the full smoke suite: live mint, transfer,
// burn, and order-lifecycle checks through the coordinator, plus the
// engine's contract checks under the "modify" key.
func (s *Server) handleContractSelfCheck(w http.ResponseWriter, _ *http.Request) {
	smoke := s.coordinator.RunChecks()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": map[string]any{
			"mint":     smoke.Mint,
			"transfer": smoke.Transfer,
			"burn":     smoke.Burn,
			"modify":   s.engine.SelfCheck(),
			"orders":   smoke.Orders,
		},
	})
}

type amountRequest struct {
	Wallet string `json:"wallet"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed mint request")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		WriteBadRequest(w, "amount must be a decimal integer string")
		return
	}
	account, err := s.ledger.Mint(req.Wallet, amount)
	if err != nil {
		WriteFault(w, err)
		return
	}
	snapshot := s.ledger.Snapshot()
	if _, err := s.events.Append(eventlog.TypeTokenMint, map[string]any{
		"wallet": req.Wallet,
		"amount": amount.String(),
		"supply": snapshot.Supply.String(),
	}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": account.Balance.String(),
		"supply":  snapshot.Supply.String(),
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed transfer request")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		WriteBadRequest(w, "amount must be a decimal integer string")
		return
	}
	sender, receiver, err := s.ledger.Transfer(req.From, req.To, amount)
	if err != nil {
		WriteFault(w, err)
		return
	}
	if _, err := s.events.Append(eventlog.TypeTokenTransfer, map[string]any{
		"from":   req.From,
		"to":     req.To,
		"amount": amount.String(),
	}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balances": map[string]string{
			"from": sender.Balance.String(),
			"to":   receiver.Balance.String(),
		},
	})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed burn request")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		WriteBadRequest(w, "amount must be a decimal integer string")
		return
	}
	account, err := s.ledger.Burn(req.Wallet, amount)
	if err != nil {
		WriteFault(w, err)
		return
	}
	snapshot := s.ledger.Snapshot()
	if _, err := s.events.Append(eventlog.TypeTokenBurn, map[string]any{
		"wallet": req.Wallet,
		"amount": amount.String(),
		"supply": snapshot.Supply.String(),
	}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": account.Balance.String(),
		"supply":  snapshot.Supply.String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := s.ledger.Balance(r.PathValue("wallet"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": account.Balance.String()})
}

type orderCreateRequest struct {
	OrderType  string  `json:"order_type"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price"`
	Wallet     string  `json:"wallet"`
	Editable   *bool   `json:"editable"`
	Expiration int64   `json:"expiration"`
}

type orderEditRequest struct {
	OrderType  *string  `json:"order_type"`
	Amount     *float64 `json:"amount"`
	Price      *float64 `json:"price"`
	Editable   *bool    `json:"editable"`
	Expiration *int64   `json:"expiration"`
}

func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed order request")
		return
	}
	order, err := s.book.Create(orders.Request{
		OrderType:  req.OrderType,
		Amount:     req.Amount,
		Price:      req.Price,
		Wallet:     req.Wallet,
		Editable:   req.Editable,
		Expiration: req.Expiration,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}
	if _, err := s.events.Append(eventlog.TypeOrderCreated,
		map[string]any{"order": order}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

func (s *Server) handleOrderEdit(w http.ResponseWriter, r *http.Request) {
	var req orderEditRequest
	if err := decode(w, r, &req); err != nil {
		WriteBadRequest(w, "malformed order update")
		return
	}
	order, err := s.book.Edit(r.PathValue("orderId"), orders.Update{
		OrderType:  req.OrderType,
		Amount:     req.Amount,
		Price:      req.Price,
		Editable:   req.Editable,
		Expiration: req.Expiration,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}
	if _, err := s.events.Append(eventlog.TypeOrderEdited,
		map[string]any{"order": order}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	order, err := s.book.Cancel(r.PathValue("orderId"))
	if err != nil {
		WriteFault(w, err)
		return
	}
	if _, err := s.events.Append(eventlog.TypeOrderCancelled,
		map[string]any{"order": order}, eventlog.StatusConfirmed); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": order})
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	history := s.book.History(orders.HistoryFilter{
		Wallet: r.URL.Query().Get("wallet"),
		Status: orders.Status(r.URL.Query().Get("status")),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})
}

func (s *Server) handleEventLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := eventlog.Filter{
		Type:   eventlog.Type(q.Get("type")),
		Status: eventlog.Status(q.Get("status")),
	}
	if raw := q.Get("from_sequence"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &filter.FromSequence); err != nil {
			WriteBadRequest(w, "from_sequence must be an integer")
			return
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &filter.Limit); err != nil {
			WriteBadRequest(w, "limit must be an integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "logs": s.events.Query(filter)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromSequence uint64 `json:"from_sequence"`
		OnlyFailed   bool   `json:"only_failed"`
	}
	// An empty body is a resume with default options.
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "malformed resume request")
		return
	}
	summary, err := s.coordinator.Resume(recovery.Options{
		FromSequence: req.FromSequence,
		OnlyFailed:   req.OnlyFailed,
	})
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary})
}

// handleRealtime streams every appended event to the client as server-sent
// events, with a comment heartbeat to keep intermediaries from timing out
// the connection.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Internal Server Error", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := make(chan eventlog.Event, 16)
	unsubscribe := s.events.Subscribe(func(event eventlog.Event) {
		select {
		case stream <- event:
		default: // slow client; drop rather than block the append path
		}
	})
	defer unsubscribe()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		case event := <-stream:
			raw, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"last_event_sequence": s.events.LastSequence(),
	})
}

// snapshotBody renders a snapshot with the supply stringified, keeping
// arbitrary-precision values exact on the wire.
func snapshotBody(s token.Snapshot) map[string]any {
	return map[string]any{
		"mint":        s.Mint,
		"symbol":      s.Symbol,
		"name":        s.Name,
		"decimals":    s.Decimals,
		"supply":      s.Supply.String(),
		"taxRate":     s.TaxRate,
		"burnRate":    s.BurnRate,
		"rewardsRate": s.RewardsRate,
		"paused":      s.Paused,
	}
}
