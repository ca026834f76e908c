package domain

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is a top-level fund category.
type Category string

const (
	CategoryTithe           Category = "TITHE"
	CategoryOffering        Category = "OFFERING"
	CategoryDonation        Category = "DONATION"
	CategoryBuildingFund    Category = "BUILDING_FUND"
	CategorySpecialOffering Category = "SPECIAL_OFFERING"
	CategoryOther           Category = "OTHER"
)

// GeneralCategories are the categories that always have a general wallet.
var GeneralCategories = []Category{
	CategoryTithe,
	CategoryOffering,
	CategoryDonation,
	CategoryBuildingFund,
	CategoryOther,
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTithe, CategoryOffering, CategoryDonation, CategoryBuildingFund,
		CategorySpecialOffering, CategoryOther:
		return true
	}
	return false
}

// TitheSubcategories is the fixed whitelist of tithe distribution targets,
// in the order deposits are emitted.
var TitheSubcategories = []string{
	"welfare",
	"thanksgiving",
	"campmeeting",
	"development",
	"society",
}

// IsTitheSubcategory reports whether name is in TitheSubcategories.
func IsTitheSubcategory(name string) bool {
	for _, s := range TitheSubcategories {
		if s == name {
			return true
		}
	}
	return false
}

const keySeparator = "/"

// WalletKey identifies a wallet by (category, subcategory). An empty
// Subcategory is the category's general wallet.
type WalletKey struct {
	Category    Category
	Subcategory string
}

// NewWalletKey builds a key. A nil subcategory denotes the general wallet.
func NewWalletKey(category Category, subcategory *string) WalletKey {
	k := WalletKey{Category: category}
	if subcategory != nil {
		k.Subcategory = *subcategory
	}
	return k
}

// String renders the persisted unique key, e.g. "TITHE" or "TITHE/welfare".
func (k WalletKey) String() string {
	if k.Subcategory == "" {
		return string(k.Category)
	}
	return string(k.Category) + keySeparator + k.Subcategory
}

// SubcategoryPtr returns the subcategory as a nullable column value.
func (k WalletKey) SubcategoryPtr() *string {
	if k.Subcategory == "" {
		return nil
	}
	s := k.Subcategory
	return &s
}

// LockID is the deterministic 64-bit hash used to scope per-key locks.
func (k WalletKey) LockID() int64 {
	h := fnv.New64a()
	h.Write([]byte(k.String()))
	return int64(h.Sum64())
}

// MarshalText renders the key in its String form.
func (k WalletKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the String form.
func (k *WalletKey) UnmarshalText(b []byte) error {
	parsed, err := ParseWalletKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseWalletKey parses the String form of a key.
func ParseWalletKey(s string) (WalletKey, error) {
	cat, sub, _ := strings.Cut(s, keySeparator)
	k := WalletKey{Category: Category(strings.ToUpper(cat)), Subcategory: sub}
	if !k.Category.IsValid() {
		return WalletKey{}, fmt.Errorf("unknown wallet category %q", cat)
	}
	if k.Category == CategoryTithe && sub != "" && !IsTitheSubcategory(sub) {
		return WalletKey{}, fmt.Errorf("unknown tithe sub-category %q", sub)
	}
	return k, nil
}

// Wallet is a balance accumulator for one fund category and optional subcategory.
type Wallet struct {
	ID               uuid.UUID       `json:"id"`
	Category         Category        `json:"category"`
	Subcategory      *string         `json:"subcategory,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	IsActive         bool            `json:"is_active"`
	LastUpdated      time.Time       `json:"last_updated"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Key returns the wallet's unique key.
func (w *Wallet) Key() WalletKey {
	return NewWalletKey(w.Category, w.Subcategory)
}

// IsConsistent reports whether balance equals deposits minus withdrawals.
func (w *Wallet) IsConsistent() bool {
	return WithinTolerance(w.Balance, w.TotalDeposits.Sub(w.TotalWithdrawals))
}

// Apply adds a delta to the running totals. It does not enforce the
// non-negative balance rule; callers check Balance afterwards.
func (w *Wallet) Apply(d WalletDelta) {
	switch d.Operation {
	case OperationDeposit:
		w.TotalDeposits = w.TotalDeposits.Add(d.Amount)
	case OperationWithdrawal:
		w.TotalWithdrawals = w.TotalWithdrawals.Add(d.Amount)
	}
	w.Balance = w.Balance.Add(d.Signed())
}

// Operation is the direction of a balance change.
type Operation string

const (
	OperationDeposit    Operation = "DEPOSIT"
	OperationWithdrawal Operation = "WITHDRAWAL"
)

// WalletDelta is a single balance change. Amount is always positive; the
// sign comes from Operation.
type WalletDelta struct {
	Key       WalletKey       `json:"wallet_key"`
	Amount    decimal.Decimal `json:"amount"`
	Operation Operation       `json:"operation"`
}

// Signed returns Amount with the sign implied by Operation.
func (d WalletDelta) Signed() decimal.Decimal {
	if d.Operation == OperationWithdrawal {
		return d.Amount.Neg()
	}
	return d.Amount
}

// WalletSummary aggregates balances across wallets.
type WalletSummary struct {
	Wallets          []Wallet                     `json:"wallets"`
	ByCategory       map[Category]decimal.Decimal `json:"by_category"`
	TotalBalance     decimal.Decimal              `json:"total_balance"`
	TotalDeposits    decimal.Decimal              `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal              `json:"total_withdrawals"`
}

// Summarize builds a WalletSummary from a set of wallets.
func Summarize(wallets []Wallet) *WalletSummary {
	s := &WalletSummary{
		Wallets:    wallets,
		ByCategory: make(map[Category]decimal.Decimal),
	}
	for _, w := range wallets {
		s.ByCategory[w.Category] = s.ByCategory[w.Category].Add(w.Balance)
		s.TotalBalance = s.TotalBalance.Add(w.Balance)
		s.TotalDeposits = s.TotalDeposits.Add(w.TotalDeposits)
		s.TotalWithdrawals = s.TotalWithdrawals.Add(w.TotalWithdrawals)
	}
	return s
}
