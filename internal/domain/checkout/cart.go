package checkout

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("checkout: quantity must be greater than zero")

// CartLine is one requested line of a direct (non-draft) sale. A client may
// send UnitPriceExTax, but fresh carts never trust it: the catalog resolver
// is the price authority. Draft-backed lines arrive already trusted through
// the draft instead.
type CartLine struct {
	ItemID         string
	Quantity       int
	UnitPriceExTax *decimal.Decimal
}

func (l CartLine) Validate() error {
	if l.ItemID == "" {
		return errors.New("checkout: item id is required")
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// CatalogItem is the authoritative price and title for an item, as resolved
// from the commerce platform.
type CatalogItem struct {
	ItemID         string
	Title          string
	UnitPriceExTax decimal.Decimal
}
