// Package domain holds the Order aggregate and its invariants.
package domain

import "time"

// Status is one of the states in the order lifecycle state machine (C6).
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusReservingStock Status = "RESERVING_STOCK"
	StatusPreparing      Status = "PREPARING"
	StatusOnTheWay       Status = "ON_THE_WAY"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// Item is a line item snapshotted from the Product Snapshot Cache at
// createOrder time; name and price never change afterward even if the
// catalog changes.
type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

// Order is the aggregate root. Items is a plain child slice: an Item holds
// no reference back to its Order, and the store loads items by order id.
type Order struct {
	ID              string
	UserID          string
	StoreID         string
	CourierID       *string
	Status          Status
	TotalPrice      float64
	ShippingAddress string
	PickupAddress   *string
	Items           []Item
	CreatedAt       time.Time
}

// Total computes Σ items.price × items.quantity, the invariant totalPrice
// must equal at creation time.
func Total(items []Item) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// RequiresCourier reports whether status demands a non-nil CourierID.
func RequiresCourier(s Status) bool {
	return s == StatusOnTheWay || s == StatusDelivered
}
