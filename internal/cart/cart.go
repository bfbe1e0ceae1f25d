// Package cart holds the in-progress sale on a device.
//
// A Cart is owned by a single goroutine and does no locking. Submissions work
// from a Snapshot and settle back through ClearIfVersion.
package cart

import (
	"errors"
	"fmt"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/tax"
)

var ErrInvalidInput = errors.New("invalid cart input")

type Cart struct {
	order   []string
	items   map[string]domain.LineItem
	version uint64
	totals  *tax.Totals
}

func New() *Cart {
	return &Cart{items: make(map[string]domain.LineItem)}
}

// AddItem adds one unit of product. The first add freezes the unit price and
// tax class for the life of the line.
func (c *Cart) AddItem(product domain.Product) error {
	if product.ID == "" {
		return fmt.Errorf("%w: product id required", ErrInvalidInput)
	}
	if !product.Active {
		return fmt.Errorf("%w: product %s is inactive", ErrInvalidInput, product.ID)
	}
	if product.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: product %s has negative price", ErrInvalidInput, product.ID)
	}
	if !product.TaxClass.Valid() {
		return fmt.Errorf("%w: product %s has unknown tax class %q", ErrInvalidInput, product.ID, product.TaxClass)
	}

	if line, ok := c.items[product.ID]; ok {
		line.Quantity++
		c.items[product.ID] = line
	} else {
		c.items[product.ID] = domain.LineItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  1,
			TaxClass:  product.TaxClass,
		}
		c.order = append(c.order, product.ID)
	}
	c.touch()
	return nil
}

// UpdateQuantity applies delta to a line. Quantity never drops below zero and
// a line that reaches zero is removed.
func (c *Cart) UpdateQuantity(productID string, delta int) {
	line, ok := c.items[productID]
	if !ok || delta == 0 {
		return
	}
	line.Quantity += delta
	if line.Quantity <= 0 {
		c.remove(productID)
	} else {
		c.items[productID] = line
	}
	c.touch()
}

func (c *Cart) Clear() {
	c.order = nil
	c.items = make(map[string]domain.LineItem)
	c.touch()
}

// ClearIfVersion clears the cart only when nothing changed since version.
func (c *Cart) ClearIfVersion(version uint64) bool {
	if c.version != version {
		return false
	}
	c.Clear()
	return true
}

func (c *Cart) Version() uint64 {
	return c.version
}

func (c *Cart) Len() int {
	return len(c.order)
}

func (c *Cart) IsEmpty() bool {
	return len(c.order) == 0
}

func (c *Cart) Quantity(productID string) int {
	return c.items[productID].Quantity
}

// Lines returns a copy of the lines in insertion order.
func (c *Cart) Lines() []domain.LineItem {
	lines := make([]domain.LineItem, 0, len(c.order))
	for _, id := range c.order {
		lines = append(lines, c.items[id])
	}
	return lines
}

// Totals are recomputed lazily after every mutation.
func (c *Cart) Totals() tax.Totals {
	if c.totals == nil {
		// Lines are validated on insert, so the engine cannot fail here.
		totals, _ := tax.CartTotals(c.Lines())
		c.totals = &totals
	}
	return *c.totals
}

type Snapshot struct {
	Lines   []domain.LineItem
	Totals  tax.Totals
	Version uint64
}

func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		Lines:   c.Lines(),
		Totals:  c.Totals(),
		Version: c.version,
	}
}

func (c *Cart) remove(productID string) {
	delete(c.items, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cart) touch() {
	c.version++
	c.totals = nil
}
