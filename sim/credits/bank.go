// Package credits keeps a manufacturer's multi-year CO2e credit and debit
// tranches. Balances are exact decimals so the bank invariants can be
// checked by equality.
package credits

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// TransactionType labels a credit transaction log entry.
type TransactionType string

// Transaction types.
const (
	Create     TransactionType = "CREATE"
	Age        TransactionType = "AGE"
	Transfer   TransactionType = "TRANSFER"
	Expiration TransactionType = "EXPIRATION"
	PastDue    TransactionType = "PAST_DUE"
	Seed       TransactionType = "SEED"
)

// Policy configures tranche lifetimes and the strategic offset.
type Policy struct {
	CreditLifeYears int
	DebitLifeYears  int
	// Transfer is one of sim.TransferNone, sim.TransferExpiring or sim.TransferAll.
	Transfer string
}

// PolicyFrom extracts the credit settings from session options.
func PolicyFrom(o sim.SessionOptions) Policy {
	return Policy{CreditLifeYears: o.CreditLifeYears, DebitLifeYears: o.DebitLifeYears, Transfer: o.TransferPolicy()}
}

// Tranche is one vintage of credit (positive) or debit (negative).
type Tranche struct {
	OriginYear    int
	Balance       decimal.Decimal
	RemainingLife int
	Life          int
	PastDue       bool
}

// Live reports whether the tranche still counts toward the bank balance.
func (t *Tranche) Live() bool { return !t.PastDue && !t.Balance.IsZero() }

// Transaction is one credit transaction log entry.
type Transaction struct {
	CalendarYear int
	Type         TransactionType
	FromYear     int
	ToYear       int
	AmountMg     decimal.Decimal
}

// Balance is a snapshot of one tranche at the end of a calendar year.
type Balance struct {
	CalendarYear  int
	OriginYear    int
	BalanceMg     decimal.Decimal
	RemainingLife int
	PastDue       bool
}

// Bank is one compliance entity's credit bank.
type Bank struct {
	ManufacturerID string
	policy         Policy
	tranches       []*Tranche // by origin year
	transactions   []Transaction
	history        []Balance

	created  decimal.Decimal
	expired  decimal.Decimal
	pastDue  decimal.Decimal
	lastYear int
}

// NewBank returns an empty bank.
func NewBank(manufacturerID string, policy Policy) *Bank {
	return &Bank{ManufacturerID: manufacturerID, policy: policy}
}

func (b *Bank) log() *logrus.Entry {
	return logrus.WithField("manufacturer", b.ManufacturerID)
}

// Seed adds a pre-existing tranche from origin year with remainingLife years
// left.
func (b *Bank) Seed(originYear int, mg float64, remainingLife int) {
	amount := decimal.NewFromFloat(mg)
	life := b.policy.CreditLifeYears
	if amount.IsNegative() {
		life = b.policy.DebitLifeYears
	}
	b.add(&Tranche{OriginYear: originYear, Balance: amount, RemainingLife: remainingLife, Life: life})
	b.created = b.created.Add(amount)
	b.transactions = append(b.transactions, Transaction{CalendarYear: originYear, Type: Seed, FromYear: originYear, ToYear: originYear, AmountMg: amount})
}

func (b *Bank) add(t *Tranche) {
	b.tranches = append(b.tranches, t)
	sort.SliceStable(b.tranches, func(i, j int) bool { return b.tranches[i].OriginYear < b.tranches[j].OriginYear })
}

// Age advances every live tranche older than year by one year. Credits whose
// life runs out expire immediately; debits that run out become due and are
// declared past due by Handle if the year's settlement does not clear them.
func (b *Bank) Age(year int) {
	for _, t := range b.tranches {
		if !t.Live() || t.OriginYear >= year {
			continue
		}
		t.RemainingLife--
		b.transactions = append(b.transactions, Transaction{CalendarYear: year, Type: Age, FromYear: t.OriginYear, ToYear: t.OriginYear, AmountMg: t.Balance})
		if t.RemainingLife <= 0 && t.Balance.IsPositive() {
			b.expired = b.expired.Add(t.Balance)
			b.transactions = append(b.transactions, Transaction{CalendarYear: year, Type: Expiration, FromYear: t.OriginYear, ToYear: t.OriginYear, AmountMg: t.Balance})
			b.log().WithFields(logrus.Fields{"year": year, "origin_year": t.OriginYear, "mg": t.Balance.String()}).Debug("credits expired")
			t.Balance = decimal.Zero
		}
	}
}

// StrategicOffset is the Mg the producer search may exceed its target by in
// year: all outstanding debits (negative, forcing make-up) plus the credits
// the transfer policy allows spending.
func (b *Bank) StrategicOffset(year int) float64 {
	offset := decimal.Zero
	for _, t := range b.tranches {
		if !t.Live() || t.OriginYear >= year {
			continue
		}
		switch {
		case t.Balance.IsNegative():
			offset = offset.Add(t.Balance)
		case b.policy.Transfer == sim.TransferAll:
			offset = offset.Add(t.Balance)
		case b.policy.Transfer == sim.TransferExpiring && t.RemainingLife <= 1:
			offset = offset.Add(t.Balance)
		}
	}
	return offset.InexactFloat64()
}

// Handle records year's compliance result: the new credit or debit, then
// settlement of debits (oldest first) with credits (oldest first). It
// returns the transfers applied so model-year cert Mg can be adjusted.
func (b *Bank) Handle(year int, targetMg, certMg float64) ([]Transaction, error) {
	if year < b.lastYear {
		return nil, fmt.Errorf("%w: year %d handled after %d", sim.ErrCreditAccountingInconsistency, year, b.lastYear)
	}
	b.lastYear = year
	amount := decimal.NewFromFloat(targetMg).Sub(decimal.NewFromFloat(certMg))
	if !amount.IsZero() {
		life := b.policy.CreditLifeYears
		if amount.IsNegative() {
			life = b.policy.DebitLifeYears
		}
		b.add(&Tranche{OriginYear: year, Balance: amount, RemainingLife: life, Life: life})
		b.created = b.created.Add(amount)
		b.transactions = append(b.transactions, Transaction{CalendarYear: year, Type: Create, FromYear: year, ToYear: year, AmountMg: amount})
	}

	var transfers []Transaction
	for _, debit := range b.tranches {
		if !debit.Live() || !debit.Balance.IsNegative() {
			continue
		}
		for _, credit := range b.tranches {
			if debit.Balance.IsZero() {
				break
			}
			if !credit.Live() || !credit.Balance.IsPositive() {
				continue
			}
			if credit.OriginYear > year || !b.transferAllowed(credit) {
				continue
			}
			x := decimal.Min(credit.Balance, debit.Balance.Neg())
			credit.Balance = credit.Balance.Sub(x)
			debit.Balance = debit.Balance.Add(x)
			tx := Transaction{CalendarYear: year, Type: Transfer, FromYear: credit.OriginYear, ToYear: debit.OriginYear, AmountMg: x}
			b.transactions = append(b.transactions, tx)
			transfers = append(transfers, tx)
		}
	}

	for _, t := range b.tranches {
		if t.Live() && t.Balance.IsNegative() && t.RemainingLife <= 0 {
			t.PastDue = true
			b.pastDue = b.pastDue.Add(t.Balance)
			b.transactions = append(b.transactions, Transaction{CalendarYear: year, Type: PastDue, FromYear: t.OriginYear, ToYear: t.OriginYear, AmountMg: t.Balance})
			b.log().WithFields(logrus.Fields{"year": year, "origin_year": t.OriginYear, "mg": t.Balance.String()}).Warn("debit past due")
		}
	}
	for _, t := range b.tranches {
		if t.OriginYear > year {
			continue
		}
		b.history = append(b.history, Balance{
			CalendarYear:  year,
			OriginYear:    t.OriginYear,
			BalanceMg:     t.Balance,
			RemainingLife: t.RemainingLife,
			PastDue:       t.PastDue,
		})
	}
	return transfers, b.CheckInvariants(year)
}

// transferAllowed reports whether credit may pay down a debit. A current-year
// credit always settles a prior debit; otherwise the transfer policy decides.
func (b *Bank) transferAllowed(credit *Tranche) bool {
	switch b.policy.Transfer {
	case sim.TransferNone:
		return credit.OriginYear == b.lastYear
	case sim.TransferExpiring:
		return credit.OriginYear == b.lastYear || credit.RemainingLife <= 1
	}
	return true
}

// CheckInvariants verifies that the live balance equals everything created
// minus what expired or went past due, and that no live tranche outlived its
// life. Transfers move Mg between tranches and leave the total unchanged.
func (b *Bank) CheckInvariants(year int) error {
	want := b.created.Sub(b.expired).Sub(b.pastDue)
	if got := b.Total(); !got.Equal(want) {
		return fmt.Errorf("%w: %s balance %s, expected %s", sim.ErrCreditAccountingInconsistency, b.ManufacturerID, got, want)
	}
	for _, t := range b.tranches {
		if t.Live() && t.Life > 0 && year-t.OriginYear > t.Life {
			return fmt.Errorf("%w: %s tranche %d aged %d years past life %d", sim.ErrCreditAccountingInconsistency,
				b.ManufacturerID, t.OriginYear, year-t.OriginYear, t.Life)
		}
	}
	return nil
}

// Total is the signed sum of live tranche balances.
func (b *Bank) Total() decimal.Decimal {
	total := decimal.Zero
	for _, t := range b.tranches {
		if t.Live() {
			total = total.Add(t.Balance)
		}
	}
	return total
}

// Tranches returns the bank's tranches by origin year.
func (b *Bank) Tranches() []Tranche {
	out := make([]Tranche, len(b.tranches))
	for i, t := range b.tranches {
		out[i] = *t
	}
	return out
}

// Transactions returns the transaction log in the order recorded.
func (b *Bank) Transactions() []Transaction {
	return append([]Transaction(nil), b.transactions...)
}

// Balances returns the end-of-year tranche snapshots.
func (b *Bank) Balances() []Balance {
	return append([]Balance(nil), b.history...)
}

// Expired is the total Mg of credit lost to expiry.
func (b *Bank) Expired() decimal.Decimal { return b.expired }
