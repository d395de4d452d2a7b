package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AlertDirection is the directional type of an alert
type AlertDirection string

const (
	AlertUpper AlertDirection = "upper"
	AlertLower AlertDirection = "lower"
)

// AlertSubType selects the comparison basis of an alert
type AlertSubType string

const (
	AlertSubTypePrice      AlertSubType = "price"
	AlertSubTypePercentage AlertSubType = "percentage"
	AlertSubTypeVolume     AlertSubType = "volume"
	AlertSubTypeTechnical  AlertSubType = "technical"
)

// ConditionType selects which market value a condition reads
type ConditionType string

const (
	ConditionPrice      ConditionType = "price"
	ConditionVolume     ConditionType = "volume"
	ConditionPercentage ConditionType = "percentage"
)

// ConditionOperator represents comparison operators for conditions
type ConditionOperator string

const (
	OperatorGreaterThan      ConditionOperator = ">"
	OperatorLessThan         ConditionOperator = "<"
	OperatorGreaterThanEqual ConditionOperator = ">="
	OperatorLessThanEqual    ConditionOperator = "<="
	OperatorEqual            ConditionOperator = "=="
)

// String returns the string representation of ConditionOperator
func (c ConditionOperator) String() string {
	return string(c)
}

// LogicalOperator for combining conditions
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// IndicatorType represents the named technical indicator of an alert
type IndicatorType string

const (
	IndicatorRSI  IndicatorType = "RSI"
	IndicatorMA   IndicatorType = "MA"
	IndicatorMACD IndicatorType = "MACD"
)

// CrossoverType is the MA crossover direction
type CrossoverType string

const (
	CrossoverGolden CrossoverType = "golden"
	CrossoverDeath  CrossoverType = "death"
)

// Condition is a single comparison inside a composite technical alert
type Condition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    float64           `json:"value"`
}

// TechnicalIndicatorConfig configures a named-indicator alert
type TechnicalIndicatorConfig struct {
	Type       IndicatorType `json:"type"`
	Period     int           `json:"period,omitempty"`
	LongPeriod int           `json:"long_period,omitempty"` // MA crossover only
	Threshold  float64       `json:"threshold,omitempty"`
	Crossover  CrossoverType `json:"crossover,omitempty"`
}

// AlertDefinition is a user-defined trigger rule.
// TriggeredAt is a terminal marker: once set the alert is not evaluated again
// until an edit clears it.
type AlertDefinition struct {
	ID                  uint                      `gorm:"primaryKey" json:"id"`
	UserID              uint                      `gorm:"index" json:"user_id"`
	Symbol              string                    `gorm:"type:varchar(20);index;not null" json:"symbol"`
	Type                AlertDirection            `gorm:"type:varchar(10);not null" json:"type"`
	SubType             AlertSubType              `gorm:"type:varchar(20);not null" json:"sub_type"`
	Threshold           decimal.NullDecimal       `gorm:"type:decimal(20,4)" json:"threshold"`
	PercentageThreshold decimal.NullDecimal       `gorm:"type:decimal(10,4)" json:"percentage_threshold"`
	PreviousDayClose    decimal.NullDecimal       `gorm:"type:decimal(20,4)" json:"previous_day_close"`
	Conditions          []Condition               `gorm:"serializer:json" json:"conditions,omitempty"`
	ConditionLogic      LogicalOperator           `gorm:"type:varchar(10);default:'AND'" json:"condition_logic"`
	Indicator           *TechnicalIndicatorConfig `gorm:"serializer:json" json:"indicator,omitempty"`
	NotifyEmail         bool                      `gorm:"default:true" json:"notify_email"`
	NotifyPush          bool                      `gorm:"default:false" json:"notify_push"`
	NotifySMS           bool                      `gorm:"default:false" json:"notify_sms"`
	IsActive            bool                      `gorm:"default:true;index" json:"is_active"`
	TriggeredAt         *time.Time                `gorm:"index" json:"triggered_at"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
	DeletedAt           gorm.DeletedAt            `gorm:"index" json:"-"`
}

// TableName keeps the table name stable regardless of struct naming
func (AlertDefinition) TableName() string {
	return "alert_definitions"
}

// Armed reports whether the alert is eligible for evaluation
func (a *AlertDefinition) Armed() bool {
	return a.IsActive && a.TriggeredAt == nil
}

// AlertTriggerHistory stores fired alerts
type AlertTriggerHistory struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	AlertID     uint            `gorm:"index" json:"alert_id"`
	UserID      uint            `gorm:"index" json:"user_id"`
	Symbol      string          `gorm:"type:varchar(20);not null" json:"symbol"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4)" json:"price"`
	Reason      string          `json:"reason"`
	TriggeredAt time.Time       `gorm:"index" json:"triggered_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName keeps the table name stable regardless of struct naming
func (AlertTriggerHistory) TableName() string {
	return "alert_trigger_history"
}

// ValidAlertSubTypes returns valid alert sub types
func ValidAlertSubTypes() []AlertSubType {
	return []AlertSubType{
		AlertSubTypePrice,
		AlertSubTypePercentage,
		AlertSubTypeVolume,
		AlertSubTypeTechnical,
	}
}

// IsValidAlertSubType checks if the sub type is valid
func IsValidAlertSubType(subType AlertSubType) bool {
	for _, valid := range ValidAlertSubTypes() {
		if subType == valid {
			return true
		}
	}
	return false
}

// IsValidAlertDirection checks if the direction is valid
func IsValidAlertDirection(direction AlertDirection) bool {
	return direction == AlertUpper || direction == AlertLower
}

// MigrateAlertModels runs database migrations for alert-related models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&AlertDefinition{},
		&AlertTriggerHistory{},
	)
}
