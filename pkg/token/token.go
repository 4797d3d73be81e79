// Package token owns the fungible-token ledger: per-wallet balances, total
// supply, and the token-level parameters (metadata, rates, pause flag).
//
// Balances and supply use arbitrary-precision integers. All mutations go
// through Ledger methods; no caller holds a mutable reference into the
// account map.
package token

import (
	"math/big"
	"sync"

	"github.com/google/uuid"

	"github.com/tbcoin-labs/core/pkg/faults"
)

// Snapshot is a read-only copy of the token-level state.
type Snapshot struct {
	Mint        string   `json:"mint"`
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	Decimals    int      `json:"decimals"`
	Supply      *big.Int `json:"supply"`
	TaxRate     float64  `json:"taxRate"`
	BurnRate    float64  `json:"burnRate"`
	RewardsRate float64  `json:"rewardsRate"`
	Paused      bool     `json:"paused"`
}

// Account is the balance record for a single wallet. Accounts are created
// lazily on first reference and never deleted.
type Account struct {
	Wallet  string   `json:"wallet"`
	Balance *big.Int `json:"balance"`
}

// HistoryEntry is one line of the internal ledger audit trail.
type HistoryEntry struct {
	ID     string   `json:"id"`
	Action string   `json:"action"`
	Amount *big.Int `json:"amount"`
	Wallet string   `json:"wallet,omitempty"`
}

// Params configures a new Ledger.
type Params struct {
	Mint          string
	Symbol        string
	Name          string
	Decimals      int
	InitialSupply *big.Int
	TaxRate       float64
	BurnRate      float64
	RewardsRate   float64
}

// Ledger is the single-writer token state machine.
type Ledger struct {
	mu          sync.RWMutex
	mint        string
	symbol      string
	name        string
	decimals    int
	supply      *big.Int
	taxRate     float64
	burnRate    float64
	rewardsRate float64
	paused      bool
	accounts    map[string]*Account
	history     []HistoryEntry
}

// NewLedger creates a ledger with the given token parameters.
func NewLedger(p Params) *Ledger {
	supply := p.InitialSupply
	if supply == nil {
		supply = big.NewInt(0)
	}
	return &Ledger{
		mint:        p.Mint,
		symbol:      p.Symbol,
		name:        p.Name,
		decimals:    p.Decimals,
		supply:      new(big.Int).Set(supply),
		taxRate:     p.TaxRate,
		burnRate:    p.BurnRate,
		rewardsRate: p.RewardsRate,
		accounts:    make(map[string]*Account),
	}
}

// Snapshot returns a copy of the token-level state. The supply is copied;
// mutating the returned value cannot affect the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Mint:        l.mint,
		Symbol:      l.symbol,
		Name:        l.name,
		Decimals:    l.decimals,
		Supply:      new(big.Int).Set(l.supply),
		TaxRate:     l.taxRate,
		BurnRate:    l.burnRate,
		RewardsRate: l.rewardsRate,
		Paused:      l.paused,
	}
}

// Mint increases the wallet's balance and the total supply by amount.
func (l *Ledger) Mint(wallet string, amount *big.Int) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureActive(); err != nil {
		return Account{}, err
	}
	if err := requirePositive("mint", amount); err != nil {
		return Account{}, err
	}
	l.supply.Add(l.supply, amount)
	account := l.getOrCreate(wallet)
	account.Balance.Add(account.Balance, amount)
	l.appendHistory("mint", amount, wallet)
	return copyAccount(account), nil
}

// Burn decreases the wallet's balance and the total supply by amount.
func (l *Ledger) Burn(wallet string, amount *big.Int) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureActive(); err != nil {
		return Account{}, err
	}
	if err := requirePositive("burn", amount); err != nil {
		return Account{}, err
	}
	account := l.getOrCreate(wallet)
	if account.Balance.Cmp(amount) < 0 {
		return Account{}, faults.Domainf("insufficient balance to burn")
	}
	account.Balance.Sub(account.Balance, amount)
	l.supply.Sub(l.supply, amount)
	l.appendHistory("burn", amount, wallet)
	return copyAccount(account), nil
}

// Transfer moves amount from one wallet to another. The receiver account is
// created if it does not exist yet.
func (l *Ledger) Transfer(from, to string, amount *big.Int) (Account, Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureActive(); err != nil {
		return Account{}, Account{}, err
	}
	if err := requirePositive("transfer", amount); err != nil {
		return Account{}, Account{}, err
	}
	sender := l.getOrCreate(from)
	receiver := l.getOrCreate(to)
	if sender.Balance.Cmp(amount) < 0 {
		return Account{}, Account{}, faults.Domainf("insufficient balance")
	}
	sender.Balance.Sub(sender.Balance, amount)
	receiver.Balance.Add(receiver.Balance, amount)
	l.appendHistory("transfer", amount, from)
	return copyAccount(sender), copyAccount(receiver), nil
}

// Balance returns the account for wallet, creating it if needed.
func (l *Ledger) Balance(wallet string) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyAccount(l.getOrCreate(wallet))
}

// SetMetadata updates the token name or symbol.
func (l *Ledger) SetMetadata(field, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch field {
	case "name":
		l.name = value
	case "symbol":
		l.symbol = value
	default:
		return faults.Domainf("unsupported metadata field %s", field)
	}
	return nil
}

// SetRates updates one of the rate fields. Rates must be in [0, 1].
func (l *Ledger) SetRates(field string, value float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if value < 0 || value > 1 {
		return faults.Validationf("rate must be between 0 and 1")
	}
	switch field {
	case "taxRate":
		l.taxRate = value
	case "burnRate":
		l.burnRate = value
	case "rewardsRate":
		l.rewardsRate = value
	default:
		return faults.Domainf("unsupported rate field %s", field)
	}
	return nil
}

// SetPaused flips the transfer pause flag.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// SetSupply is an unconditional administrative override: it sets the total
// supply to target without reconciling against the sum of account balances.
func (l *Ledger) SetSupply(target *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supply = new(big.Int).Set(target)
}

// History returns a copy of the internal ledger history, oldest first.
func (l *Ledger) History() []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]HistoryEntry, len(l.history))
	for i, h := range l.history {
		out[i] = HistoryEntry{ID: h.ID, Action: h.Action, Amount: new(big.Int).Set(h.Amount), Wallet: h.Wallet}
	}
	return out
}

func (l *Ledger) ensureActive() error {
	if l.paused {
		return faults.Domainf("transfers are paused")
	}
	return nil
}

func (l *Ledger) getOrCreate(wallet string) *Account {
	if existing, ok := l.accounts[wallet]; ok {
		return existing
	}
	account := &Account{Wallet: wallet, Balance: big.NewInt(0)}
	l.accounts[wallet] = account
	return account
}

func (l *Ledger) appendHistory(action string, amount *big.Int, wallet string) {
	l.history = append(l.history, HistoryEntry{
		ID:     uuid.New().String(),
		Action: action,
		Amount: new(big.Int).Set(amount),
		Wallet: wallet,
	})
}

func requirePositive(op string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return faults.Validationf("%s amount must be positive", op)
	}
	return nil
}

func copyAccount(a *Account) Account {
	return Account{Wallet: a.Wallet, Balance: new(big.Int).Set(a.Balance)}
}
