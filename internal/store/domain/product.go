// Package domain holds the Product aggregate owned by the Store service.
package domain

// Product is the Store service's stock-bearing entity. Invariant:
// Available is false whenever Stock == 0; the conditional-update primitives
// in package stock guarantee Stock never goes negative.
type Product struct {
	ID         string
	CategoryID string
	StoreID    string
	Name       string
	Price      float64
	Stock      int
	Available  bool
}
