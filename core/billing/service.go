package billing

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrPaymentNotFound   = core.NewNotFoundError("payment not found")
	ErrStudentNotFound   = core.NewNotFoundError("student profile not found")
	ErrNoSubscription    = core.NewNotFoundError("no live subscription")
	ErrAlreadySubscribed = core.NewConflictError("an active subscription already exists")
	ErrPaymentExists     = errors.New("a payment for this checkout session or subscription already exists")
	ErrInvalidEvent      = errors.New("invalid webhook event")
)

type (
	Repository interface {
		GetPaymentBySubscriptionID(ctx context.Context, subscriptionID string) (Payment, error)
		GetPaymentByCheckoutSessionID(ctx context.Context, sessionID string) (Payment, error)
		GetLatestPayment(ctx context.Context, studentID string) (Payment, error)
		QueryPayments(ctx context.Context, filter *QueryFilter) ([]Payment, error)
		// SavePayment inserts (empty ID) or updates the Payment and, when it is the learner's latest
		// payment, mirrors its status and customer id on the learner profile, in a single transaction.
		// Returns ErrPaymentExists when another row holds the same checkout session or subscription.
		SavePayment(ctx context.Context, p Payment) (Payment, error)
		// UpdatePayment reads the payment of a subscription under the learner's profile lock, hands it
		// to change and saves the result like SavePayment does, all in one transaction.
		// Nothing is written when change returns false; the current payment is returned then.
		// Returns ErrPaymentNotFound when no payment holds the subscription.
		UpdatePayment(ctx context.Context, subscriptionID string, change PaymentChange) (Payment, error)
		GetStudentBilling(ctx context.Context, studentID string) (StudentBilling, error)
		SetStudentStatus(ctx context.Context, studentID string, status Status) error
	}

	// Provider is the payment processor. ParseEvent must verify the signature before anything else.
	Provider interface {
		ParseEvent(payload []byte, signature string) (Event, error)
		CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
		CancelSubscription(ctx context.Context, subscriptionID string) error
	}

	// PaymentChange computes the next version of a payment, or returns false to leave it as it is.
	// It runs inside the repository transaction and must not call the repository.
	PaymentChange func(p Payment) (next Payment, ok bool)

	StudentBilling struct {
		StudentID  string
		Status     Status
		CustomerID string
	}

	Service struct {
		repo        Repository
		provider    Provider
		contacts    core.ContactBook
		mailSvc     core.EmailService
		logger      core.Logger
		gracePeriod time.Duration
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	provider Provider,
	contacts core.ContactBook,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:        repo,
		provider:    provider,
		contacts:    contacts,
		mailSvc:     mailSvc,
		logger:      logger,
		gracePeriod: conf.Billing.GracePeriod,
	}
}

// HandleWebhook verifies and applies one provider event.
// Unverifiable payloads are rejected with a validation error and no side effects.
// Events that do not concern a known learner or subscription are accepted and ignored.
func (svc *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	ev, err := svc.provider.ParseEvent(payload, signature)
	if err != nil {
		return WebhookResult{}, core.NewValidationError(errors.Wrap(err, "verifying webhook"))
	}

	res := WebhookResult{EventID: ev.ID, Type: ev.Type}
	handled := true
	var reason string
	switch ev.Type {
	case EventCheckoutCompleted:
		reason, err = svc.checkoutCompleted(ctx, ev)
	case EventInvoicePaid:
		reason, err = svc.invoicePaid(ctx, ev)
	case EventInvoicePaymentFailed:
		reason, err = svc.invoicePaymentFailed(ctx, ev)
	case EventSubscriptionDeleted:
		reason, err = svc.subscriptionDeleted(ctx, ev)
	default:
		handled = false
		reason = "unhandled event type"
	}
	if err != nil {
		return res, errors.Wrapf(err, "handling %s event %s", ev.Type, ev.ID)
	}

	if reason != "" {
		res.Outcome = OutcomeIgnored
		res.Reason = reason
		if handled {
			svc.logger.Warn(fmt.Sprintf("billing: %s event %s ignored: %s", ev.Type, ev.ID, reason))
		}
	} else {
		res.Outcome = OutcomeApplied
	}
	return res, nil
}

func (svc *Service) checkoutCompleted(ctx context.Context, ev Event) (string, error) {
	co := ev.Checkout
	if co == nil || co.SessionID == "" {
		return "", core.NewValidationError(errors.Wrap(ErrInvalidEvent, "missing checkout session"))
	}
	if co.StudentID == "" {
		return "checkout session without client reference", nil
	}

	if _, err := svc.repo.GetPaymentByCheckoutSessionID(ctx, co.SessionID); err == nil {
		return "checkout session already recorded", nil
	} else if err != ErrPaymentNotFound {
		return "", errors.Wrap(err, "getting payment by checkout session")
	}
	if _, err := svc.repo.GetStudentBilling(ctx, co.StudentID); err != nil {
		if err == ErrStudentNotFound {
			return "unknown student", nil
		}
		return "", errors.Wrap(err, "getting student billing")
	}

	p := newPayment(*co)
	now := nowFunc().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if _, err := svc.repo.SavePayment(ctx, p); err != nil {
		if err == ErrPaymentExists { // concurrent delivery
			return "checkout session already recorded", nil
		}
		return "", errors.Wrap(err, "saving payment")
	}
	return "", nil
}

// changeSubscription applies transition to the payment of a subscription, atomically.
// It returns the payment as it was before and after, and the reason when the event is ignored.
// A transition that leaves the payment as it is writes nothing, so a redelivered or stale
// event never touches the learner profile.
func (svc *Service) changeSubscription(
	ctx context.Context,
	subscriptionID string,
	transition func(p Payment) (Payment, string),
) (before, after Payment, reason string, err error) {
	if subscriptionID == "" {
		return before, after, "", core.NewValidationError(errors.Wrap(ErrInvalidEvent, "missing subscription"))
	}

	after, err = svc.repo.UpdatePayment(ctx, subscriptionID, func(p Payment) (Payment, bool) {
		before = p
		next, why := transition(p)
		if why != "" {
			reason = why
			return p, false
		}
		if next.sameState(p) {
			return p, false
		}
		next.UpdatedAt = nowFunc().UTC()
		return next, true
	})
	if err != nil {
		if err == ErrPaymentNotFound {
			return before, after, "unknown subscription", nil
		}
		return before, after, "", errors.Wrap(err, "updating payment")
	}
	return before, after, reason, nil
}

func (svc *Service) invoicePaid(ctx context.Context, ev Event) (string, error) {
	if ev.Invoice == nil {
		return "", core.NewValidationError(errors.Wrap(ErrInvalidEvent, "missing invoice"))
	}
	_, _, reason, err := svc.changeSubscription(ctx, ev.Invoice.SubscriptionID, func(p Payment) (Payment, string) {
		if p.Status == StatusCancelled {
			return p, "subscription cancelled"
		}
		return applyInvoicePaid(p, *ev.Invoice), ""
	})
	return reason, err
}

func (svc *Service) invoicePaymentFailed(ctx context.Context, ev Event) (string, error) {
	if ev.Invoice == nil {
		return "", core.NewValidationError(errors.Wrap(ErrInvalidEvent, "missing invoice"))
	}
	failedAt := ev.CreatedAt
	if failedAt.IsZero() {
		failedAt = nowFunc()
	}
	before, p, reason, err := svc.changeSubscription(ctx, ev.Invoice.SubscriptionID, func(p Payment) (Payment, string) {
		if p.Status == StatusCancelled {
			return p, "subscription cancelled"
		}
		return applyPaymentFailed(p, failedAt, svc.gracePeriod), ""
	})
	if reason != "" || err != nil {
		return reason, err
	}

	if before.Status != StatusFailed && p.Status == StatusFailed && svc.isLatest(ctx, p) {
		svc.notify(ctx, p.StudentID, "Payment failed", "payment_failed", func(name string) interface{} {
			return map[string]string{
				"Name":              name,
				"GracePeriodEndsAt": p.GracePeriodEndsAt.Format("Mon, 02 Jan 2006 15:04 MST"),
			}
		})
	}
	return "", nil
}

func (svc *Service) subscriptionDeleted(ctx context.Context, ev Event) (string, error) {
	if ev.Subscription == nil {
		return "", core.NewValidationError(errors.Wrap(ErrInvalidEvent, "missing subscription"))
	}
	before, p, reason, err := svc.changeSubscription(ctx, ev.Subscription.ID, func(p Payment) (Payment, string) {
		return applySubscriptionDeleted(p, *ev.Subscription), ""
	})
	if reason != "" || err != nil {
		return reason, err
	}

	if before.Status != StatusCancelled && svc.isLatest(ctx, p) {
		svc.notify(ctx, p.StudentID, "Subscription cancelled", "subscription_cancelled", func(name string) interface{} {
			return map[string]string{"Name": name}
		})
	}
	return "", nil
}

// isLatest reports whether p is the most recent payment of its learner, the one the profile mirrors.
// Learners are not told about state changes of superseded subscriptions.
func (svc *Service) isLatest(ctx context.Context, p Payment) bool {
	latest, err := svc.repo.GetLatestPayment(ctx, p.StudentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("billing: getting latest payment of student %s: %v", p.StudentID, err))
		return false
	}
	return latest.ID == p.ID
}

// notify emails a learner. Failures are logged and never undo the state change.
func (svc *Service) notify(ctx context.Context, studentID, subject, tmpl string, data func(name string) interface{}) {
	addr, err := svc.contacts.Contact(ctx, studentID)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("billing: no contact for student %s: %v", studentID, err))
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{addr},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: data(addr.Name),
	})
}

// StartCheckout opens a provider checkout session for the learner.
// A learner with no live subscription becomes pending until the provider confirms the payment.
func (svc *Service) StartCheckout(ctx context.Context, p core.Principal) (CheckoutSession, error) {
	acct, err := svc.repo.GetStudentBilling(ctx, p.UserID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if acct.Status == StatusActive {
		return CheckoutSession{}, ErrAlreadySubscribed
	}

	addr, err := svc.contacts.Contact(ctx, p.UserID)
	if err != nil {
		return CheckoutSession{}, errors.Wrap(err, "getting contact")
	}

	sess, err := svc.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		StudentID:  p.UserID,
		Email:      addr.Address,
		CustomerID: acct.CustomerID,
	})
	if err != nil {
		return CheckoutSession{}, core.NewExternalError("billing provider", err)
	}

	if acct.Status == StatusNone || acct.Status == StatusCancelled {
		if err := svc.repo.SetStudentStatus(ctx, p.UserID, StatusPending); err != nil {
			return CheckoutSession{}, errors.Wrap(err, "setting pending status")
		}
	}
	return sess, nil
}

// CancelSubscription asks the provider to cancel at the end of the paid period.
// The local state only changes when the provider confirms with customer.subscription.deleted.
func (svc *Service) CancelSubscription(ctx context.Context, p core.Principal) error {
	pmt, err := svc.repo.GetLatestPayment(ctx, p.UserID)
	if err != nil {
		if err == ErrPaymentNotFound {
			return ErrNoSubscription
		}
		return errors.Wrap(err, "getting latest payment")
	}
	if pmt.Status == StatusCancelled || pmt.ProviderSubscriptionID == "" {
		return ErrNoSubscription
	}
	if err := svc.provider.CancelSubscription(ctx, pmt.ProviderSubscriptionID); err != nil {
		return core.NewExternalError("billing provider", err)
	}
	return nil
}

// Access returns the billing account of a learner and whether they may use paid features now.
func (svc *Service) Access(ctx context.Context, studentID string) (Account, error) {
	acct, err := svc.repo.GetStudentBilling(ctx, studentID)
	if err != nil {
		return Account{}, err
	}

	res := Account{StudentID: studentID, Status: acct.Status}
	var graceEnd *time.Time
	if pmt, err := svc.repo.GetLatestPayment(ctx, studentID); err == nil {
		res.Payment = &pmt
		graceEnd = pmt.GracePeriodEndsAt
	} else if err != ErrPaymentNotFound {
		return Account{}, errors.Wrap(err, "getting latest payment")
	}
	res.HasAccess = HasAccess(acct.Status, graceEnd, nowFunc())
	return res, nil
}

func (svc *Service) QueryPayments(ctx context.Context, filter *QueryFilter) ([]Payment, error) {
	return svc.repo.QueryPayments(ctx, filter)
}
