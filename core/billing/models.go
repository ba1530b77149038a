package billing

import (
	"time"
)

// Status is the subscription payment status mirrored on the learner profile.
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{StatusNone, StatusActive, StatusPending, StatusFailed, StatusCancelled}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// HasAccess reports whether a learner may use paid features:
// an active subscription, or a failed one still inside its grace period.
// Grace expiry is evaluated lazily against `now`; nothing flips the status when it lapses.
func HasAccess(status Status, gracePeriodEndsAt *time.Time, now time.Time) bool {
	switch status {
	case StatusActive:
		return true
	case StatusFailed:
		return gracePeriodEndsAt != nil && now.Before(*gracePeriodEndsAt)
	default:
		return false
	}
}

type Payment struct {
	ID                        string     `json:"id"`
	StudentID                 string     `json:"student_id"`
	ProviderCustomerID        string     `json:"provider_customer_id"`
	ProviderSubscriptionID    string     `json:"provider_subscription_id"`
	ProviderCheckoutSessionID string     `json:"provider_checkout_session_id"`
	ProviderPaymentIntentID   string     `json:"provider_payment_intent_id,omitempty"`
	Status                    Status     `json:"status"`
	CurrentPeriodStart        *time.Time `json:"current_period_start"`
	CurrentPeriodEnd          *time.Time `json:"current_period_end"`
	FailedAt                  *time.Time `json:"failed_at"`
	GracePeriodEndsAt         *time.Time `json:"grace_period_ends_at"`
	CancelAtPeriodEnd         bool       `json:"cancel_at_period_end"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

func (p Payment) HasAccess(now time.Time) bool {
	return HasAccess(p.Status, p.GracePeriodEndsAt, now)
}

// Account is the billing view of a learner: the profile status and their latest payment, if any.
type Account struct {
	StudentID string   `json:"student_id"`
	Status    Status   `json:"payment_status"`
	Payment   *Payment `json:"payment"`
	HasAccess bool     `json:"has_access"`
}

type QueryFilter struct {
	StudentID string `query:"student_id"`
	Status    Status `query:"status"`
}

// Event types handled by the state machine.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
)

type (
	// Event is a verified, provider-agnostic billing event.
	// Exactly one of Checkout, Invoice or Subscription is set for the handled types.
	Event struct {
		ID           string
		Type         string
		CreatedAt    time.Time
		Checkout     *CheckoutCompleted
		Invoice      *Invoice
		Subscription *Subscription
	}

	CheckoutCompleted struct {
		SessionID       string
		StudentID       string // client reference set when the session was created
		CustomerID      string
		SubscriptionID  string
		PaymentIntentID string
	}

	Invoice struct {
		ID             string
		CustomerID     string
		SubscriptionID string
		PeriodStart    time.Time
		PeriodEnd      time.Time
	}

	Subscription struct {
		ID                 string
		CustomerID         string
		CurrentPeriodStart time.Time
		CurrentPeriodEnd   time.Time
	}
)

type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeIgnored Outcome = "ignored"
)

// WebhookResult reports what was done with one event.
type WebhookResult struct {
	EventID string  `json:"event_id"`
	Type    string  `json:"type"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

type (
	CheckoutRequest struct {
		StudentID  string
		Email      string
		CustomerID string // reused when the learner already has one
	}

	CheckoutSession struct {
		ID  string `json:"session_id"`
		URL string `json:"url"`
	}
)
