package controllers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"quote_alert_backend/middleware"
	"quote_alert_backend/models"
	"quote_alert_backend/services/alerts"
	"quote_alert_backend/services/entitlement"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AlertController handles alert CRUD for the authenticated user
type AlertController struct {
	store    *alerts.Store
	resolver entitlement.PlanResolver
}

// NewAlertController creates a new alert controller
func NewAlertController(store *alerts.Store, resolver entitlement.PlanResolver) *AlertController {
	return &AlertController{store: store, resolver: resolver}
}

// alertRequest is the body of create and update calls
type alertRequest struct {
	Symbol              string                           `json:"symbol" binding:"required"`
	Type                models.AlertDirection            `json:"type" binding:"required"`
	SubType             models.AlertSubType              `json:"sub_type" binding:"required"`
	Threshold           decimal.NullDecimal              `json:"threshold"`
	PercentageThreshold decimal.NullDecimal              `json:"percentage_threshold"`
	PreviousDayClose    decimal.NullDecimal              `json:"previous_day_close"`
	Conditions          []models.Condition               `json:"conditions"`
	ConditionLogic      models.LogicalOperator           `json:"condition_logic"`
	Indicator           *models.TechnicalIndicatorConfig `json:"indicator"`
	NotifyEmail         *bool                            `json:"notify_email"`
	NotifyPush          bool                             `json:"notify_push"`
	NotifySMS           bool                             `json:"notify_sms"`
	IsActive            *bool                            `json:"is_active"`
}

// validate checks the request and normalizes symbol and logic
func (r *alertRequest) validate() error {
	r.Symbol = models.NormalizeSymbol(r.Symbol)
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	if !models.IsValidAlertDirection(r.Type) {
		return fmt.Errorf("type must be %q or %q", models.AlertUpper, models.AlertLower)
	}
	if !models.IsValidAlertSubType(r.SubType) {
		return fmt.Errorf("unsupported sub_type %q", r.SubType)
	}

	switch r.SubType {
	case models.AlertSubTypePrice, models.AlertSubTypeVolume:
		if !r.Threshold.Valid {
			return errors.New("threshold is required")
		}
	case models.AlertSubTypePercentage:
		if !r.PercentageThreshold.Valid {
			return errors.New("percentage_threshold is required")
		}
	case models.AlertSubTypeTechnical:
		if len(r.Conditions) == 0 && r.Indicator == nil {
			return errors.New("technical alerts need conditions or an indicator")
		}
	}

	for i, cond := range r.Conditions {
		switch cond.Type {
		case models.ConditionPrice, models.ConditionVolume, models.ConditionPercentage:
		default:
			return fmt.Errorf("condition %d: unsupported type %q", i, cond.Type)
		}
		switch cond.Operator {
		case models.OperatorGreaterThan, models.OperatorLessThan, models.OperatorGreaterThanEqual,
			models.OperatorLessThanEqual, models.OperatorEqual:
		default:
			return fmt.Errorf("condition %d: unsupported operator %q", i, cond.Operator)
		}
	}

	switch r.ConditionLogic {
	case "":
		r.ConditionLogic = models.LogicalAnd
	case models.LogicalAnd, models.LogicalOr:
	default:
		return fmt.Errorf("condition_logic must be %q or %q", models.LogicalAnd, models.LogicalOr)
	}

	if r.Indicator != nil {
		switch r.Indicator.Type {
		case models.IndicatorRSI, models.IndicatorMA, models.IndicatorMACD:
		default:
			return fmt.Errorf("unsupported indicator %q", r.Indicator.Type)
		}
		if r.Indicator.Period < 0 || r.Indicator.LongPeriod < 0 {
			return errors.New("indicator periods must not be negative")
		}
		switch r.Indicator.Crossover {
		case "", models.CrossoverGolden, models.CrossoverDeath:
		default:
			return fmt.Errorf("unsupported crossover %q", r.Indicator.Crossover)
		}
	}
	return nil
}

// apply copies the request onto an alert
func (r *alertRequest) apply(alert *models.AlertDefinition) {
	alert.Symbol = r.Symbol
	alert.Type = r.Type
	alert.SubType = r.SubType
	alert.Threshold = r.Threshold
	alert.PercentageThreshold = r.PercentageThreshold
	alert.PreviousDayClose = r.PreviousDayClose
	alert.Conditions = r.Conditions
	alert.ConditionLogic = r.ConditionLogic
	alert.Indicator = r.Indicator
	alert.NotifyEmail = r.NotifyEmail == nil || *r.NotifyEmail
	alert.NotifyPush = r.NotifyPush
	alert.NotifySMS = r.NotifySMS
	alert.IsActive = r.IsActive == nil || *r.IsActive
}

// currentUser resolves the authenticated subject to a user and plan
func (ac *AlertController) currentUser(c *gin.Context) (entitlement.Entitlement, bool) {
	subject, err := middleware.SubjectFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return entitlement.Entitlement{}, false
	}

	ent, err := ac.resolver.ResolvePlan(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, entitlement.ErrUnknownPrincipal) {
			c.JSON(http.StatusForbidden, gin.H{"error": "User not registered"})
			return entitlement.Entitlement{}, false
		}
		log.Printf("ERROR: failed to resolve plan for %s: %v", subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return entitlement.Entitlement{}, false
	}
	return ent, true
}

func alertID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return 0, false
	}
	return uint(id), true
}

// GetAlerts returns the user's alerts
// GET /api/v1/alerts
func (ac *AlertController) GetAlerts(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}

	list, err := ac.store.ListByUser(c.Request.Context(), user.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       list,
		"count":      len(list),
		"max_alerts": user.MaxAlerts,
	})
}

// GetAlert returns a single alert
// GET /api/v1/alerts/:id
func (ac *AlertController) GetAlert(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}
	id, ok := alertID(c)
	if !ok {
		return
	}

	alert, err := ac.store.Get(c.Request.Context(), user.UserID, id)
	if err != nil {
		ac.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// CreateAlert creates an alert within the plan's alert quota
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}

	var request alertRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := request.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if user.MaxAlerts > 0 {
		count, err := ac.store.CountByUser(c.Request.Context(), user.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count alerts"})
			return
		}
		if count >= int64(user.MaxAlerts) {
			c.JSON(http.StatusForbidden, gin.H{
				"error": fmt.Sprintf("Alert limit reached for %s plan (%d)", user.Plan, user.MaxAlerts),
			})
			return
		}
	}

	alert := models.AlertDefinition{UserID: user.UserID}
	request.apply(&alert)
	if err := ac.store.Create(c.Request.Context(), &alert); err != nil {
		log.Printf("ERROR: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

// UpdateAlert replaces an alert's definition and re-arms it
// PUT /api/v1/alerts/:id
func (ac *AlertController) UpdateAlert(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}
	id, ok := alertID(c)
	if !ok {
		return
	}

	var request alertRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := request.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := ac.store.Get(c.Request.Context(), user.UserID, id)
	if err != nil {
		ac.storeError(c, err)
		return
	}
	request.apply(alert)
	if err := ac.store.Update(c.Request.Context(), alert); err != nil {
		ac.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// DeleteAlert removes an alert
// DELETE /api/v1/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}
	id, ok := alertID(c)
	if !ok {
		return
	}

	if err := ac.store.Delete(c.Request.Context(), user.UserID, id); err != nil {
		ac.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted successfully"})
}

// GetHistory returns the user's recent triggers
// GET /api/v1/alerts/history?limit=50
func (ac *AlertController) GetHistory(c *gin.Context) {
	user, ok := ac.currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := ac.store.History(c.Request.Context(), user.UserID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alert history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (ac *AlertController) storeError(c *gin.Context, err error) {
	if errors.Is(err, alerts.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}
	log.Printf("ERROR: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process alert"})
}
