// Package domain holds the Notification entity (spec §3).
package domain

import (
	"encoding/json"
	"time"
)

type Notification struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        string          `json:"type"`
	OrderID     string          `json:"orderId"`
	StoreID     *string         `json:"storeId"`
	CourierID   *string         `json:"courierId"`
	Message     string          `json:"message"`
	Payload     json.RawMessage `json:"payload"`
	IsRead      bool            `json:"isRead"`
	DeliveredAt *time.Time      `json:"deliveredAt"`
	CreatedAt   time.Time       `json:"createdAt"`
}
