package models

// User is a delivery recipient. Authentication lives outside this service;
// the row exists for package ownership, priority and bulk generation.
type User struct {
	BaseModel
	Username    string `gorm:"size:64;uniqueIndex;not null" json:"username"`
	DisplayName string `gorm:"size:128" json:"display_name,omitempty"`
	Email       string `gorm:"size:255;index" json:"email,omitempty"`
	Priority    string `gorm:"size:16;default:normal" json:"priority"`
	IsActive    bool   `gorm:"default:true" json:"is_active"`
}
