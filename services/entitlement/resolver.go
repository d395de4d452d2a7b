package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quote_alert_backend/models"

	"gorm.io/gorm"
)

// DefaultFreeMaxAlerts applies to users without a current subscription
const DefaultFreeMaxAlerts = 3

// DBPlanResolver resolves plans from the users/subscriptions tables
type DBPlanResolver struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDBPlanResolver creates a resolver backed by db
func NewDBPlanResolver(db *gorm.DB) *DBPlanResolver {
	return &DBPlanResolver{db: db, now: time.Now}
}

// ResolvePlan returns the user's current plan, falling back to free when the
// subscription is missing, inactive or expired.
func (r *DBPlanResolver) ResolvePlan(ctx context.Context, subject string) (Entitlement, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("auth_subject = ? AND is_active = ?", subject, true).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Entitlement{}, ErrUnknownPrincipal
		}
		return Entitlement{}, fmt.Errorf("failed to load user: %w", err)
	}

	free := Entitlement{UserID: user.ID, Plan: models.PlanFree, MaxAlerts: DefaultFreeMaxAlerts}

	var subscription models.Subscription
	err = r.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Preload("Plan").
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return free, nil
		}
		return Entitlement{}, fmt.Errorf("failed to load subscription: %w", err)
	}

	if !subscription.IsCurrent(r.now()) || !subscription.Plan.IsActive {
		return free, nil
	}

	return Entitlement{
		UserID:    user.ID,
		Plan:      strings.ToLower(subscription.Plan.Name),
		MaxAlerts: subscription.Plan.MaxAlerts,
	}, nil
}
