// Package governance implements the signature-authenticated administrative
// channel. Every request passes three gates in order: authority identity,
// timestamp freshness, and an HMAC signature over the canonicalized request
// body. Only then does the engine branch on the instruction and commit the
// change to the token ledger, logging a CONFIRMED event with the resulting
// snapshot.
package governance

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/tbcoin-labs/core/pkg/eventlog"
	"github.com/tbcoin-labs/core/pkg/faults"
	"github.com/tbcoin-labs/core/pkg/signing"
	"github.com/tbcoin-labs/core/pkg/token"
)

// Instruction selects the mutation a Modification performs.
type Instruction string

const (
	InstructionUpdateMetadata Instruction = "UPDATE_METADATA"
	InstructionChangeSupply   Instruction = "CHANGE_SUPPLY"
	InstructionModifyTax      Instruction = "MODIFY_TAX"
	InstructionPauseTransfers Instruction = "PAUSE_TRANSFERS"
)

// Parameters carries the target field, the new value, and optional
// per-call validation rules.
type Parameters struct {
	Field           string   `json:"field"`
	Value           any      `json:"value"`
	ValidationRules []string `json:"validationRules,omitempty"`
}

// Modification is a signed administrative request against the ledger.
type Modification struct {
	Instruction Instruction `json:"instruction"`
	Parameters  Parameters  `json:"parameters"`
	Authority   string      `json:"authority"`
	Timestamp   int64       `json:"timestamp"`
	Signature   string      `json:"signature"`
}

// Upgrade is a signed version announcement, recorded for audit only.
type Upgrade struct {
	Version   string         `json:"version"`
	Changes   map[string]any `json:"changes"`
	Authority string         `json:"authority"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
}

// AppliedModification is the audit record of a committed modification.
type AppliedModification struct {
	Instruction Instruction `json:"instruction"`
	Field       string      `json:"field"`
	Value       any         `json:"value"`
	AppliedAt   int64       `json:"applied_at"`
}

// Status is the engine's public view: current snapshot plus audit lists.
type Status struct {
	Token         token.Snapshot        `json:"token"`
	Modifications []AppliedModification `json:"modifications"`
	Upgrades      []Upgrade             `json:"upgrades"`
}

// CheckResult is the outcome of one self-check assertion.
type CheckResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Config is the immutable engine configuration, supplied at construction.
type Config struct {
	UpdateAuthority string
	Secret          string
	DriftWindow     time.Duration
}

// DefaultDriftWindow bounds how stale a request timestamp may be.
const DefaultDriftWindow = 5 * time.Minute

// modifiableFields is the allow-list for UPDATE_METADATA and MODIFY_TAX
// targets.
var modifiableFields = map[string]bool{
	"name":        true,
	"symbol":      true,
	"decimals":    true,
	"supply":      true,
	"taxRate":     true,
	"burnRate":    true,
	"rewardsRate": true,
}

// Engine validates and applies administrative requests. It is safe for
// concurrent use.
type Engine struct {
	cfg    Config
	ledger *token.Ledger
	events *eventlog.Store
	clock  func() time.Time
	logger *slog.Logger

	mu            sync.RWMutex
	modifications []AppliedModification
	upgrades      []Upgrade
}

// NewEngine creates a governance engine over the given ledger and event
// store.
func NewEngine(cfg Config, ledger *token.Ledger, events *eventlog.Store, logger *slog.Logger) *Engine {
	if cfg.DriftWindow <= 0 {
		cfg.DriftWindow = DefaultDriftWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		ledger: ledger,
		events: events,
		clock:  time.Now,
		logger: logger,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// HandleModification runs the full protocol for a Modification: authority,
// freshness, signature, instruction branch, ledger commit, event append,
// audit record. It returns the resulting snapshot and the logged event.
func (e *Engine) HandleModification(mod Modification) (token.Snapshot, eventlog.Event, error) {
	if err := e.validateAuthority(mod.Authority); err != nil {
		return token.Snapshot{}, eventlog.Event{}, err
	}
	if err := e.ensureFresh(mod.Timestamp); err != nil {
		return token.Snapshot{}, eventlog.Event{}, err
	}
	payload := struct {
		Instruction Instruction `json:"instruction"`
		Parameters  Parameters  `json:"parameters"`
		Authority   string      `json:"authority"`
		Timestamp   int64       `json:"timestamp"`
	}{mod.Instruction, mod.Parameters, mod.Authority, mod.Timestamp}
	if err := signing.Verify(payload, mod.Signature, e.cfg.Secret); err != nil {
		return token.Snapshot{}, eventlog.Event{}, err
	}

	fieldApplied, err := e.apply(mod)
	if err != nil {
		return token.Snapshot{}, eventlog.Event{}, err
	}

	snapshot := e.ledger.Snapshot()
	event, err := e.events.Append(eventlog.TypeContractModified, map[string]any{
		"instruction": string(mod.Instruction),
		"parameters": map[string]any{
			"field":           mod.Parameters.Field,
			"value":           mod.Parameters.Value,
			"validationRules": mod.Parameters.ValidationRules,
		},
		"authority": mod.Authority,
		"snapshot":  snapshotPayload(snapshot),
	}, eventlog.StatusConfirmed)
	if err != nil {
		return token.Snapshot{}, eventlog.Event{}, err
	}

	e.mu.Lock()
	e.modifications = append(e.modifications, AppliedModification{
		Instruction: mod.Instruction,
		Field:       fieldApplied,
		Value:       mod.Parameters.Value,
		AppliedAt:   e.clock().UnixMilli(),
	})
	e.mu.Unlock()
	e.logger.Info("contract modified",
		"instruction", mod.Instruction, "field", fieldApplied, "sequence", event.Sequence)
	return snapshot, event, nil
}

func (e *Engine) apply(mod Modification) (string, error) {
	switch mod.Instruction {
	case InstructionUpdateMetadata:
		if err := e.assertModifiable(mod.Parameters.Field); err != nil {
			return "", err
		}
		if err := ApplyRules(mod.Parameters.Value, mod.Parameters.ValidationRules); err != nil {
			return "", err
		}
		value, ok := mod.Parameters.Value.(string)
		if !ok {
			return "", faults.Validationf("metadata value must be string")
		}
		if err := e.ledger.SetMetadata(mod.Parameters.Field, value); err != nil {
			return "", err
		}
		return mod.Parameters.Field, nil

	case InstructionChangeSupply:
		supply, err := coerceSupply(mod.Parameters.Value)
		if err != nil {
			return "", err
		}
		e.ledger.SetSupply(supply)
		return "supply", nil

	case InstructionModifyTax:
		if err := e.assertModifiable(mod.Parameters.Field); err != nil {
			return "", err
		}
		rate, ok := asNumber(mod.Parameters.Value)
		if !ok {
			return "", faults.Validationf("rate value must be numeric")
		}
		if err := e.ledger.SetRates(mod.Parameters.Field, rate); err != nil {
			return "", err
		}
		return mod.Parameters.Field, nil

	case InstructionPauseTransfers:
		paused, ok := mod.Parameters.Value.(bool)
		if !ok {
			return "", faults.Validationf("pause flag must be boolean")
		}
		e.ledger.SetPaused(paused)
		return "paused", nil

	default:
		return "", faults.Domainf("unsupported instruction %s", mod.Instruction)
	}
}

// HandleUpgrade validates and records a version upgrade announcement. It
// has no ledger effect.
func (e *Engine) HandleUpgrade(req Upgrade) (eventlog.Event, error) {
	if err := e.validateAuthority(req.Authority); err != nil {
		return eventlog.Event{}, err
	}
	if err := e.ensureFresh(req.Timestamp); err != nil {
		return eventlog.Event{}, err
	}
	payload := struct {
		Version   string         `json:"version"`
		Changes   map[string]any `json:"changes"`
		Authority string         `json:"authority"`
		Timestamp int64          `json:"timestamp"`
	}{req.Version, req.Changes, req.Authority, req.Timestamp}
	if err := signing.Verify(payload, req.Signature, e.cfg.Secret); err != nil {
		return eventlog.Event{}, err
	}
	if _, err := semver.NewVersion(req.Version); err != nil {
		return eventlog.Event{}, faults.Validationf("invalid upgrade version %q", req.Version)
	}

	e.mu.Lock()
	e.upgrades = append(e.upgrades, req)
	e.mu.Unlock()
	event, err := e.events.Append(eventlog.TypeUpgrade, map[string]any{
		"version":   req.Version,
		"changes":   req.Changes,
		"authority": req.Authority,
	}, eventlog.StatusConfirmed)
	if err != nil {
		return eventlog.Event{}, err
	}
	e.logger.Info("contract upgrade recorded", "version", req.Version, "sequence", event.Sequence)
	return event, nil
}

// Status returns the current snapshot and copies of the audit lists.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	mods := make([]AppliedModification, len(e.modifications))
	copy(mods, e.modifications)
	upgrades := make([]Upgrade, len(e.upgrades))
	copy(upgrades, e.upgrades)
	return Status{
		Token:         e.ledger.Snapshot(),
		Modifications: mods,
		Upgrades:      upgrades,
	}
}

// SelfCheck asserts the standing invariants the engine can verify cheaply:
// metadata fields are non-empty and all rates remain in [0, 1]. It is a
// smoke test, not a replacement for the ledger's own validation.
func (e *Engine) SelfCheck() []CheckResult {
	snapshot := e.ledger.Snapshot()

	metadataOK := snapshot.Name != "" && snapshot.Symbol != ""
	ratesOK := inRange(snapshot.TaxRate) && inRange(snapshot.BurnRate) && inRange(snapshot.RewardsRate)

	results := []CheckResult{
		{Name: "Metadata fields are non-empty", Success: metadataOK},
		{Name: "Rates within allowed range", Success: ratesOK},
	}
	if !metadataOK {
		results[0].Error = "Metadata fields missing"
	}
	if !ratesOK {
		results[1].Error = "One or more rates out of range"
	}
	return results
}

func (e *Engine) validateAuthority(authority string) error {
	if authority != e.cfg.UpdateAuthority {
		return faults.Authorizationf("unauthorized authority")
	}
	return nil
}

func (e *Engine) ensureFresh(timestamp int64) error {
	now := e.clock().UnixMilli()
	if timestamp > now {
		return faults.Authorizationf("timestamp cannot be in the future")
	}
	if now-timestamp > e.cfg.DriftWindow.Milliseconds() {
		return faults.Authorizationf("timestamp outside allowed window")
	}
	return nil
}

func (e *Engine) assertModifiable(field string) error {
	if !modifiableFields[field] {
		return faults.Validationf("field %s cannot be modified", field)
	}
	return nil
}

// coerceSupply accepts the supply value as a decimal string or a number, as
// the wire shape allows either.
func coerceSupply(value any) (*big.Int, error) {
	switch v := value.(type) {
	case string:
		supply, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, faults.Validationf("supply %q is not a valid integer", v)
		}
		return supply, nil
	case float64:
		if v != float64(int64(v)) {
			return nil, faults.Validationf("supply must be an integer")
		}
		return big.NewInt(int64(v)), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, faults.Validationf("supply must be provided as string or number")
	}
}

func snapshotPayload(s token.Snapshot) map[string]any {
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

func inRange(rate float64) bool {
	return rate >= 0 && rate <= 1
}
