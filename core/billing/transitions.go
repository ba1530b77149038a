package billing

import "time"

// The transitions below are pure: applying one twice yields the same Payment,
// which is what makes webhook redelivery safe.
//
//	none -> active (checkout) | active <-> failed | active, failed -> cancelled

func newPayment(co CheckoutCompleted) Payment {
	return Payment{
		StudentID:                 co.StudentID,
		ProviderCustomerID:        co.CustomerID,
		ProviderSubscriptionID:    co.SubscriptionID,
		ProviderCheckoutSessionID: co.SessionID,
		ProviderPaymentIntentID:   co.PaymentIntentID,
		Status:                    StatusActive,
	}
}

func applyInvoicePaid(p Payment, inv Invoice) Payment {
	p.Status = StatusActive
	p.FailedAt = nil
	p.GracePeriodEndsAt = nil
	if !inv.PeriodStart.IsZero() {
		p.CurrentPeriodStart = timePtr(inv.PeriodStart)
	}
	if !inv.PeriodEnd.IsZero() {
		p.CurrentPeriodEnd = timePtr(inv.PeriodEnd)
	}
	if p.ProviderCustomerID == "" {
		p.ProviderCustomerID = inv.CustomerID
	}
	return p
}

// applyPaymentFailed starts the grace period at the event time. A payment that is already
// failed keeps its first failure so that redelivery never extends the grace period.
func applyPaymentFailed(p Payment, failedAt time.Time, grace time.Duration) Payment {
	if p.Status == StatusFailed && p.FailedAt != nil {
		return p
	}
	p.Status = StatusFailed
	p.FailedAt = timePtr(failedAt)
	p.GracePeriodEndsAt = timePtr(failedAt.Add(grace))
	return p
}

func applySubscriptionDeleted(p Payment, sub Subscription) Payment {
	p.Status = StatusCancelled
	p.CancelAtPeriodEnd = true
	if !sub.CurrentPeriodEnd.IsZero() {
		p.CurrentPeriodEnd = timePtr(sub.CurrentPeriodEnd)
	}
	return p
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

// sameState reports whether two versions of a payment hold the same subscription state.
// Bookkeeping timestamps are ignored.
func (p Payment) sameState(o Payment) bool {
	return p.Status == o.Status &&
		p.ProviderCustomerID == o.ProviderCustomerID &&
		p.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		sameTime(p.CurrentPeriodStart, o.CurrentPeriodStart) &&
		sameTime(p.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		sameTime(p.FailedAt, o.FailedAt) &&
		sameTime(p.GracePeriodEndsAt, o.GracePeriodEndsAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
