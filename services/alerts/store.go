package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quote_alert_backend/models"
	"quote_alert_backend/services/notify"

	"gorm.io/gorm"
)

// ErrAlertNotFound is returned when an alert does not exist or belongs to another user
var ErrAlertNotFound = errors.New("alert not found")

// Store persists alert definitions and their trigger history
type Store struct {
	db *gorm.DB
}

// NewStore creates a store on db
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetActiveAlerts returns every armed alert (active and not yet triggered)
func (s *Store) GetActiveAlerts(ctx context.Context) ([]models.AlertDefinition, error) {
	var alerts []models.AlertDefinition
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND triggered_at IS NULL", true).
		Order("symbol, id").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered sets triggered_at if it is still empty. It reports false when
// the alert was already triggered, deleted or edited away, so a caller never
// notifies twice for the same firing.
func (s *Store) MarkTriggered(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ? AND is_active = ? AND triggered_at IS NULL", id, true).
		Update("triggered_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark alert %d triggered: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordTrigger appends to the trigger history
func (s *Store) RecordTrigger(ctx context.Context, entry *models.AlertTriggerHistory) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record trigger for alert %d: %w", entry.AlertID, err)
	}
	return nil
}

// Recipient loads the contact details of a user
func (s *Store) Recipient(ctx context.Context, userID uint) (notify.Recipient, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return notify.Recipient{UserID: userID}, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return notify.Recipient{UserID: user.ID, Email: user.Email, Phone: user.Phone}, nil
}

// Create inserts a new alert
func (s *Store) Create(ctx context.Context, alert *models.AlertDefinition) error {
	alert.ID = 0
	alert.TriggeredAt = nil
	active, email := alert.IsActive, alert.NotifyEmail
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	// gorm skips zero values for columns with a default tag
	if !active || !email {
		err := s.db.WithContext(ctx).Model(alert).
			Select("is_active", "notify_email").
			Updates(map[string]interface{}{"is_active": active, "notify_email": email}).Error
		if err != nil {
			return fmt.Errorf("failed to create alert: %w", err)
		}
		alert.IsActive, alert.NotifyEmail = active, email
	}
	return nil
}

// Get returns one of a user's alerts
func (s *Store) Get(ctx context.Context, userID, id uint) (*models.AlertDefinition, error) {
	var alert models.AlertDefinition
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to load alert %d: %w", id, err)
	}
	return &alert, nil
}

// ListByUser returns a user's alerts, newest first
func (s *Store) ListByUser(ctx context.Context, userID uint) ([]models.AlertDefinition, error) {
	var alerts []models.AlertDefinition
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// CountByUser returns how many alerts a user owns
func (s *Store) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// Update saves an edited alert. Every edit re-arms the alert by clearing triggered_at.
func (s *Store) Update(ctx context.Context, alert *models.AlertDefinition) error {
	alert.TriggeredAt = nil
	res := s.db.WithContext(ctx).
		Model(&models.AlertDefinition{}).
		Where("id = ? AND user_id = ?", alert.ID, alert.UserID).
		Select("symbol", "type", "sub_type", "threshold", "percentage_threshold", "previous_day_close",
			"conditions", "condition_logic", "indicator", "notify_email", "notify_push", "notify_sms",
			"is_active", "triggered_at").
		Updates(alert)
	if res.Error != nil {
		return fmt.Errorf("failed to update alert %d: %w", alert.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// Delete soft-deletes one of a user's alerts
func (s *Store) Delete(ctx context.Context, userID, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.AlertDefinition{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete alert %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// History returns a user's most recent trigger history
func (s *Store) History(ctx context.Context, userID uint, limit int) ([]models.AlertTriggerHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AlertTriggerHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes history entries older than before
func (s *Store) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("triggered_at < ?", before).
		Delete(&models.AlertTriggerHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune trigger history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
