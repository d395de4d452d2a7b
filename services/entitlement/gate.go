package entitlement

import (
	"context"
	"errors"
	"log"
	"strings"

	"quote_alert_backend/middleware"
	"quote_alert_backend/models"
)

// Denial reasons
const (
	ReasonMissingAuth      = "missing authentication"
	ReasonInvalidAuth      = "invalid authentication"
	ReasonInsufficientPlan = "insufficient plan"
	ReasonUnavailable      = "entitlement unavailable"
)

// ErrUnknownPrincipal is returned by resolvers when no active user matches the subject
var ErrUnknownPrincipal = errors.New("unknown principal")

// Decision is the outcome of an admission check
type Decision struct {
	Admit  bool
	Reason string
	UserID uint
	Plan   string
	// Internal marks denials caused by a server-side fault rather than by the principal
	Internal bool
}

// Entitlement is the plan a principal currently holds
type Entitlement struct {
	UserID    uint
	Plan      string
	MaxAlerts int
}

// IdentityVerifier turns a presented token into verified claims
type IdentityVerifier interface {
	Verify(token string) (*middleware.Claims, error)
}

// PlanResolver maps a verified subject to its current entitlement
type PlanResolver interface {
	ResolvePlan(ctx context.Context, subject string) (Entitlement, error)
}

// Gate admits or denies realtime connections based on the principal's plan
type Gate struct {
	verifier     IdentityVerifier
	resolver     PlanResolver
	requiredPlan string
	requiredRank int
}

// NewGate creates a gate requiring at least requiredPlan
func NewGate(verifier IdentityVerifier, resolver PlanResolver, requiredPlan string) *Gate {
	requiredPlan = strings.ToLower(strings.TrimSpace(requiredPlan))
	rank, ok := models.PlanRank(requiredPlan)
	if !ok {
		log.Printf("Warning: unknown required plan %q, defaulting to %s", requiredPlan, models.PlanPremium)
		requiredPlan = models.PlanPremium
		rank, _ = models.PlanRank(requiredPlan)
	}
	return &Gate{
		verifier:     verifier,
		resolver:     resolver,
		requiredPlan: requiredPlan,
		requiredRank: rank,
	}
}

// RequiredPlan returns the minimum plan for admission
func (g *Gate) RequiredPlan() string {
	return g.requiredPlan
}

// Check verifies the identity presented at connection time
func (g *Gate) Check(ctx context.Context, identity string) Decision {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return Decision{Reason: ReasonMissingAuth}
	}

	claims, err := g.verifier.Verify(identity)
	if err != nil {
		if errors.Is(err, middleware.ErrMissingToken) {
			return Decision{Reason: ReasonMissingAuth}
		}
		return Decision{Reason: ReasonInvalidAuth}
	}

	ent, err := g.resolver.ResolvePlan(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUnknownPrincipal) {
			return Decision{Reason: ReasonInvalidAuth}
		}
		log.Printf("ERROR: entitlement lookup failed for %s: %v", claims.Subject, err)
		return Decision{Reason: ReasonUnavailable, Internal: true}
	}

	rank, ok := models.PlanRank(ent.Plan)
	if !ok || rank < g.requiredRank {
		return Decision{Reason: ReasonInsufficientPlan, UserID: ent.UserID, Plan: ent.Plan}
	}

	return Decision{Admit: true, UserID: ent.UserID, Plan: ent.Plan}
}
