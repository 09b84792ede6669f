package models

import (
	"time"

	"gorm.io/datatypes"
)

// PackageStatus enumerates stored package states plus the resolver-only
// overdue state. Overdue is derived at read time and never persisted.
type PackageStatus string

const (
	PackagePending   PackageStatus = "pending"
	PackageDelivered PackageStatus = "delivered"
	PackagePickedUp  PackageStatus = "picked_up"
	PackageReturned  PackageStatus = "returned"
	PackageOverdue   PackageStatus = "overdue"
)

// Terminal reports whether the stored status passes through the resolver
// unchanged.
func (s PackageStatus) Terminal() bool {
	switch s {
	case PackageDelivered, PackagePickedUp, PackageReturned:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is accepted on writes. Overdue is
// deliberately excluded: it only exists in resolved views.
func (s PackageStatus) Valid() bool {
	switch s {
	case PackagePending, PackageDelivered, PackagePickedUp, PackageReturned:
		return true
	default:
		return false
	}
}

// Delivery priorities stamped onto pending records.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// PackageRecord is the persisted state for one (timeline, period, user)
// tuple. Records may also exist only as synthesized values on the read path;
// those are never written until the first explicit status update.
type PackageRecord struct {
	BaseModel
	TimelineID   string         `gorm:"size:36;not null;uniqueIndex:idx_package_tuple" json:"timeline_id"`
	PeriodKey    string         `gorm:"size:32;not null;uniqueIndex:idx_package_tuple" json:"period_key"`
	UserID       string         `gorm:"size:36;not null;uniqueIndex:idx_package_tuple;index" json:"user_id"`
	Status       PackageStatus  `gorm:"size:16;not null;default:pending" json:"status"`
	DeliveryDate time.Time      `json:"delivery_date"`
	PickupDate   *time.Time     `json:"pickup_date,omitempty"`
	AccessMethod string         `gorm:"size:32" json:"access_method,omitempty"`
	Notes        string         `gorm:"size:512" json:"notes,omitempty"`
	Weight       float64        `json:"weight"`
	Dimensions   datatypes.JSON `json:"dimensions,omitempty"`
	Priority     string         `gorm:"size:16" json:"priority,omitempty"`
}
