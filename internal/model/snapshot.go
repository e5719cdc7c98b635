package model

import "time"

// ItemSnapshot is the exported form of an item's latest value.
type ItemSnapshot struct {
	ItemID    int       `json:"item_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Numeric   *float64  `json:"numeric,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionSnapshot groups the latest values of one connection.
type ConnectionSnapshot struct {
	Connection string         `json:"connection"`
	Remote     string         `json:"remote,omitempty"`
	Status     string         `json:"status,omitempty"`
	Items      []ItemSnapshot `json:"items"`
	Timestamp  time.Time      `json:"timestamp"`
}
