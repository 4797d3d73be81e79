package token

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: minting a adds exactly a to both the wallet balance and the
// supply, for any positive a.
func TestMintConservesAmounts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("mint adds amount to balance and supply", prop.ForAll(
		func(amount int64) bool {
			ledger := newTestLedger()
			before := ledger.Snapshot().Supply

			account, err := ledger.Mint("w", big.NewInt(amount))
			if err != nil {
				return false
			}
			supplyDelta := new(big.Int).Sub(ledger.Snapshot().Supply, before)
			return account.Balance.Int64() == amount && supplyDelta.Int64() == amount
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("mint rejects non-positive amounts", prop.ForAll(
		func(amount int64) bool {
			ledger := newTestLedger()
			_, err := ledger.Mint("w", big.NewInt(amount))
			return err != nil
		},
		gen.Int64Range(-1<<40, 0),
	))

	properties.TestingRun(t)
}

// Property: transfer moves amt between accounts and conserves their sum;
// overdrafts are rejected with no state change.
func TestTransferConservesTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("transfer conserves the sum of balances", prop.ForAll(
		func(funded int64, amount int64) bool {
			if amount > funded {
				funded, amount = amount, funded
			}
			ledger := newTestLedger()
			if _, err := ledger.Mint("a", big.NewInt(funded)); err != nil {
				return false
			}

			sender, receiver, err := ledger.Transfer("a", "b", big.NewInt(amount))
			if err != nil {
				return false
			}
			sum := new(big.Int).Add(sender.Balance, receiver.Balance)
			return sender.Balance.Int64() == funded-amount &&
				receiver.Balance.Int64() == amount &&
				sum.Int64() == funded
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("overdraft transfer is rejected without state change", prop.ForAll(
		func(funded int64, excess int64) bool {
			ledger := newTestLedger()
			if _, err := ledger.Mint("a", big.NewInt(funded)); err != nil {
				return false
			}
			_, _, err := ledger.Transfer("a", "b", big.NewInt(funded+excess))
			return err != nil &&
				ledger.Balance("a").Balance.Int64() == funded &&
				ledger.Balance("b").Balance.Int64() == 0
		},
		gen.Int64Range(1, 1<<30),
		gen.Int64Range(1, 1<<30),
	))

	properties.TestingRun(t)
}

// Property: burn decreases both balance and supply by amt when covered,
// and is rejected when not.
func TestBurnProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("covered burn decreases balance and supply", prop.ForAll(
		func(funded int64, amount int64) bool {
			if amount > funded {
				funded, amount = amount, funded
			}
			ledger := newTestLedger()
			if _, err := ledger.Mint("w", big.NewInt(funded)); err != nil {
				return false
			}
			account, err := ledger.Burn("w", big.NewInt(amount))
			if err != nil {
				return false
			}
			return account.Balance.Int64() == funded-amount &&
				ledger.Snapshot().Supply.Int64() == funded-amount
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(1, 1<<40),
	))

	properties.Property("uncovered burn is rejected without state change", prop.ForAll(
		func(funded int64, excess int64) bool {
			ledger := newTestLedger()
			if _, err := ledger.Mint("w", big.NewInt(funded)); err != nil {
				return false
			}
			_, err := ledger.Burn("w", big.NewInt(funded+excess))
			return err != nil &&
				ledger.Balance("w").Balance.Int64() == funded &&
				ledger.Snapshot().Supply.Int64() == funded
		},
		gen.Int64Range(1, 1<<30),
		gen.Int64Range(1, 1<<30),
	))

	properties.TestingRun(t)
}
