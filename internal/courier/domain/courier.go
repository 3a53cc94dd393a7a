// Package domain holds the Courier aggregate.
package domain

import "time"

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
	StatusOffline   Status = "OFFLINE"
	StatusOnBreak   Status = "ON_BREAK"
)

// Courier tracks a single courier's availability and last known location.
type Courier struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	UpdatedAt time.Time `json:"updatedAt"`
}
