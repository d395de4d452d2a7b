package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Plan names, ordered from lowest to highest tier
const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
	PlanPro     = "pro"
)

// Subscription status values
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
	SubscriptionPending   = "pending"
)

// planRanks orders plans for entitlement comparisons
var planRanks = map[string]int{
	PlanFree:    0,
	PlanBasic:   1,
	PlanPremium: 2,
	PlanPro:     3,
}

// PlanRank returns the tier rank of a plan name and whether the name is known
func PlanRank(name string) (int, bool) {
	rank, ok := planRanks[strings.ToLower(strings.TrimSpace(name))]
	return rank, ok
}

// IsValidPlan checks if the plan name is known
func IsValidPlan(name string) bool {
	_, ok := PlanRank(name)
	return ok
}

// SubscriptionPlan represents available subscription plans
type SubscriptionPlan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"uniqueIndex;not null" json:"name"` // free, basic, premium, pro
	Description  string          `json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(15,2)" json:"price"`
	Currency     string          `gorm:"default:'USD'" json:"currency"`
	BillingCycle string          `json:"billing_cycle"` // monthly, yearly
	MaxAlerts    int             `gorm:"default:5" json:"max_alerts"`
	HasRealtime  bool            `gorm:"default:false" json:"has_realtime"`
	IsActive     bool            `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Subscription represents user subscription
type Subscription struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	UserID    uint             `gorm:"uniqueIndex" json:"user_id"`
	PlanID    uint             `gorm:"index" json:"plan_id"`
	Plan      SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status    string           `json:"status"` // active, cancelled, expired, pending
	StartDate time.Time        `json:"start_date"`
	EndDate   *time.Time       `json:"end_date"` // nil for non-expiring plans
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsCurrent reports whether the subscription grants its plan at the given time
func (s *Subscription) IsCurrent(now time.Time) bool {
	if s.Status != SubscriptionActive {
		return false
	}
	return s.EndDate == nil || s.EndDate.After(now)
}

// MigrateSubscriptionModels runs database migrations for subscription-related models
func MigrateSubscriptionModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&SubscriptionPlan{},
		&Subscription{},
	)
}
