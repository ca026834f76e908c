// Package ledger holds the pure deposit-resolution rules that turn one
// completed payment into wallet deltas. Nothing here performs I/O.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"

	"tassiac-ledger/internal/core/domain"
	"tassiac-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// Resolve maps a completed, non-expense payment to its deposits. The linked
// special offering must be supplied for special-offering contributions and
// must be active. Any violation rejects the whole payment.
func Resolve(p *domain.PaymentEvent, offering *domain.SpecialOffering) ([]domain.WalletDelta, error) {
	return resolve(p, offering, true)
}

// ResolveHistorical is Resolve without the offering activity check. It is
// used to recompute balances from history, where contributions to offerings
// closed since then still count.
func ResolveHistorical(p *domain.PaymentEvent, offering *domain.SpecialOffering) ([]domain.WalletDelta, error) {
	return resolve(p, offering, false)
}

// AmountFor sums the deposits in deltas that target key.
func AmountFor(deltas []domain.WalletDelta, key domain.WalletKey) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deltas {
		if d.Key == key {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// CategoryFor maps a payment type to the wallet category it credits.
func CategoryFor(t domain.PaymentType) (domain.Category, bool) {
	switch t {
	case domain.PaymentTypeTithe:
		return domain.CategoryTithe, true
	case domain.PaymentTypeOffering:
		return domain.CategoryOffering, true
	case domain.PaymentTypeDonation:
		return domain.CategoryDonation, true
	case domain.PaymentTypeBuildingFund:
		return domain.CategoryBuildingFund, true
	case domain.PaymentTypeOther:
		return domain.CategoryOther, true
	case domain.PaymentTypeSpecialOffering:
		return domain.CategorySpecialOffering, true
	}
	return "", false
}

func resolve(p *domain.PaymentEvent, offering *domain.SpecialOffering, requireActive bool) ([]domain.WalletDelta, error) {
	if p == nil {
		return nil, apperror.Validation("Payment is required")
	}
	if !p.IsCompleted {
		return nil, apperror.Validation("Payment is not completed")
	}
	if p.IsExpense {
		return nil, apperror.Validation("Expense payments do not credit wallets")
	}
	if !p.Amount.IsPositive() {
		return nil, apperror.Validation("Payment amount must be positive")
	}
	if !domain.IsWholeMinor(p.Amount) {
		return nil, apperror.Validation("Payment amount has more than two decimal places")
	}

	category, ok := CategoryFor(p.Type)
	if !ok {
		return nil, apperror.Validation(fmt.Sprintf("Unsupported payment type %q", p.Type))
	}

	switch category {
	case domain.CategoryTithe:
		if p.HasDistribution() {
			return resolveTithe(p)
		}
	case domain.CategorySpecialOffering:
		return resolveSpecialOffering(p, offering, requireActive)
	}

	return []domain.WalletDelta{deposit(domain.WalletKey{Category: category}, p.Amount)}, nil
}

func resolveSpecialOffering(p *domain.PaymentEvent, offering *domain.SpecialOffering, requireActive bool) ([]domain.WalletDelta, error) {
	if p.SpecialOfferingID == nil {
		return nil, apperror.Validation("Special offering contribution has no linked offering")
	}
	if offering == nil || offering.ID != *p.SpecialOfferingID {
		return nil, apperror.Validation("Linked special offering not found")
	}
	if requireActive && !offering.IsActive {
		return nil, apperror.ErrOfferingInactive(offering.Code)
	}
	key := domain.WalletKey{Category: domain.CategorySpecialOffering, Subcategory: offering.Code}
	return []domain.WalletDelta{deposit(key, p.Amount)}, nil
}

func resolveTithe(p *domain.PaymentEvent) ([]domain.WalletDelta, error) {
	shares, err := ParseDistribution(p.TitheDistribution)
	if err != nil {
		return nil, err
	}

	sum := decimal.Zero
	for _, v := range shares {
		sum = sum.Add(v)
	}
	if sum.GreaterThan(p.Amount.Add(domain.Tolerance)) {
		return nil, apperror.ErrDistributionExceedsAmount()
	}

	deltas := make([]domain.WalletDelta, 0, len(shares)+1)
	for _, sub := range domain.TitheSubcategories {
		v, ok := shares[sub]
		if !ok || v.IsZero() {
			continue
		}
		deltas = append(deltas, deposit(domain.WalletKey{Category: domain.CategoryTithe, Subcategory: sub}, v))
	}

	remainder := p.Amount.Sub(sum)
	if remainder.GreaterThan(domain.Tolerance) {
		deltas = append(deltas, deposit(domain.WalletKey{Category: domain.CategoryTithe}, remainder))
	}
	return deltas, nil
}

// ParseDistribution decodes a tithe distribution object. Keys must be
// whitelisted sub-categories and values non-negative JSON numbers with at
// most two decimal places.
func ParseDistribution(raw json.RawMessage) (map[string]decimal.Decimal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, apperror.Validation("Tithe distribution must be a JSON object")
	}

	shares := make(map[string]decimal.Decimal, len(fields))
	for name, v := range fields {
		if !domain.IsTitheSubcategory(name) {
			return nil, apperror.ErrUnknownSubcategory(name)
		}

		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var n interface{}
		if err := dec.Decode(&n); err != nil {
			return nil, apperror.Validation(fmt.Sprintf("Invalid amount for %s", name))
		}
		num, ok := n.(json.Number)
		if !ok {
			return nil, apperror.Validation(fmt.Sprintf("Amount for %s must be a number", name))
		}
		amount, err := decimal.NewFromString(num.String())
		if err != nil {
			return nil, apperror.Validation(fmt.Sprintf("Invalid amount for %s", name))
		}
		if amount.IsNegative() {
			return nil, apperror.Validation(fmt.Sprintf("Amount for %s must not be negative", name))
		}
		if !domain.IsWholeMinor(amount) {
			return nil, apperror.Validation(fmt.Sprintf("Amount for %s has more than two decimal places", name))
		}
		shares[name] = amount
	}
	return shares, nil
}

func deposit(key domain.WalletKey, amount decimal.Decimal) domain.WalletDelta {
	return domain.WalletDelta{Key: key, Amount: amount, Operation: domain.OperationDeposit}
}
