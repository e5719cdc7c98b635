package model

import "time"

// Connection is one configured device connection and what the device last
// said about itself.
type Connection struct {
	Name          string    `gorm:"column:name;primaryKey"`
	Transport     string    `gorm:"column:transport"`
	Address       string    `gorm:"column:address"`
	RemoteName    string    `gorm:"column:remote_name"`
	RemoteUUID    string    `gorm:"column:remote_uuid"`
	RemoteVersion int       `gorm:"column:remote_version"`
	Platform      string    `gorm:"column:platform"`
	LastStatus    string    `gorm:"column:last_status"`
	LastReason    string    `gorm:"column:last_reason"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (Connection) TableName() string { return "connections" }

// MenuItem is the definition of an item as last bootstrapped.
type MenuItem struct {
	Connection string    `gorm:"column:connection;primaryKey"`
	ItemID     int       `gorm:"column:item_id;primaryKey"`
	ParentID   int       `gorm:"column:parent_id"`
	Name       string    `gorm:"column:name"`
	Kind       string    `gorm:"column:kind"`
	ReadOnly   bool      `gorm:"column:read_only"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (MenuItem) TableName() string { return "menu_items" }

// StatusEvent records one connector state change.
type StatusEvent struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Connection string    `gorm:"column:connection;index"`
	Status     string    `gorm:"column:status"`
	Reason     string    `gorm:"column:reason"`
	Timestamp  time.Time `gorm:"column:timestamp;index"`
}

func (StatusEvent) TableName() string { return "status_events" }

// ValueChange captures a value seen on the connection. Numeric is set for
// items whose value has a number form.
type ValueChange struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Connection string    `gorm:"column:connection;index"`
	ItemID     int       `gorm:"column:item_id;index"`
	Name       string    `gorm:"column:name"`
	Kind       string    `gorm:"column:kind"`
	Value      string    `gorm:"column:value"`
	Numeric    *float64  `gorm:"column:numeric"`
	Timestamp  time.Time `gorm:"column:timestamp;autoCreateTime;index"`
}

func (ValueChange) TableName() string { return "value_changes" }

// AckRecord is one acknowledgement from the device.
type AckRecord struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Connection  string    `gorm:"column:connection;index"`
	Correlation string    `gorm:"column:correlation;index"`
	Status      int       `gorm:"column:status"`
	StatusName  string    `gorm:"column:status_name"`
	Timestamp   time.Time `gorm:"column:timestamp"`
}

func (AckRecord) TableName() string { return "acks" }

// LatestValue holds the newest value of each item, one row per item.
type LatestValue struct {
	Connection string    `gorm:"column:connection;primaryKey"`
	ItemID     int       `gorm:"column:item_id;primaryKey"`
	Name       string    `gorm:"column:name"`
	Kind       string    `gorm:"column:kind"`
	Value      string    `gorm:"column:value"`
	Numeric    *float64  `gorm:"column:numeric"`
	Timestamp  time.Time `gorm:"column:timestamp;index"`
}

func (LatestValue) TableName() string { return "latest_values" }
