package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
	"github.com/trezcool/lingua/core/student"
	"github.com/trezcool/lingua/core/user"
	emailsvc "github.com/trezcool/lingua/services/email"
	dummydb "github.com/trezcool/lingua/storage/database/dummy"
	testutil "github.com/trezcool/lingua/tests"
)

const validSig = "valid"

// fakeProvider looks events up by payload; only the "valid" signature verifies.
type fakeProvider struct {
	events      map[string]billing.Event
	checkoutErr error
	checkouts   []billing.CheckoutRequest
	cancelled   []string
}

func (p *fakeProvider) ParseEvent(payload []byte, signature string) (billing.Event, error) {
	if signature != validSig {
		return billing.Event{}, errors.New("no signatures found matching the expected signature for payload")
	}
	ev, ok := p.events[string(payload)]
	if !ok {
		return billing.Event{}, errors.New("unparseable payload")
	}
	return ev, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	if p.checkoutErr != nil {
		return billing.CheckoutSession{}, p.checkoutErr
	}
	p.checkouts = append(p.checkouts, req)
	return billing.CheckoutSession{ID: "cs_new", URL: "https://checkout.test/cs_new"}, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string) error {
	p.cancelled = append(p.cancelled, subscriptionID)
	return nil
}

type fixture struct {
	svc      *billing.Service
	repo     billing.Repository
	students student.Repository
	provider *fakeProvider
	learner  student.Profile
	now      *time.Time
}

func setup(t *testing.T) fixture {
	t.Helper()
	conf := core.NewTestConfig()
	validate, _ := testutil.NewValidator()
	logger := testutil.NewLogger(conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	emailsvc.ClearSentMessages()

	db := dummydb.Open()
	studRepo := dummydb.NewStudentRepository(db)
	repo := dummydb.NewBillingRepository(db)
	studSvc := student.NewService(studRepo, user.NewService(conf, dummydb.NewUserRepository(db), mailSvc, validate), mailSvc, validate)

	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	restore := billing.SetNowFunc(func() time.Time { return now })
	t.Cleanup(restore)

	lrn := testutil.CreateStudent(t, studRepo, "Amani", "amani@lingua.test", nil)
	prov := &fakeProvider{events: map[string]billing.Event{
		"checkout": {
			ID: "evt_checkout", Type: billing.EventCheckoutCompleted, CreatedAt: now,
			Checkout: &billing.CheckoutCompleted{
				SessionID: "cs_1", StudentID: lrn.UserID, CustomerID: "cus_1", SubscriptionID: "sub_1",
			},
		},
		"paid": {
			ID: "evt_paid", Type: billing.EventInvoicePaid, CreatedAt: now,
			Invoice: &billing.Invoice{
				ID: "in_1", CustomerID: "cus_1", SubscriptionID: "sub_1",
				PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
			},
		},
		"failed": {
			ID: "evt_failed", Type: billing.EventInvoicePaymentFailed, CreatedAt: now.Add(24 * time.Hour),
			Invoice: &billing.Invoice{ID: "in_2", CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		"failed_again": {
			ID: "evt_failed_2", Type: billing.EventInvoicePaymentFailed, CreatedAt: now.Add(48 * time.Hour),
			Invoice: &billing.Invoice{ID: "in_2", CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		"deleted": {
			ID: "evt_deleted", Type: billing.EventSubscriptionDeleted, CreatedAt: now,
			Subscription: &billing.Subscription{ID: "sub_1", CustomerID: "cus_1", CurrentPeriodEnd: now.AddDate(0, 1, 0)},
		},
		"unknown_sub": {
			ID: "evt_unknown", Type: billing.EventInvoicePaid, CreatedAt: now,
			Invoice: &billing.Invoice{ID: "in_9", SubscriptionID: "sub_9"},
		},
		"unknown_student": {
			ID: "evt_stranger", Type: billing.EventCheckoutCompleted, CreatedAt: now,
			Checkout: &billing.CheckoutCompleted{SessionID: "cs_9", StudentID: "nobody"},
		},
		"other": {ID: "evt_other", Type: "customer.created", CreatedAt: now},
		"broken": {ID: "evt_broken", Type: billing.EventInvoicePaid, CreatedAt: now},
	}}

	return fixture{
		svc:      billing.NewService(conf, repo, prov, studSvc, mailSvc, logger),
		repo:     repo,
		students: studRepo,
		provider: prov,
		learner:  lrn,
		now:      &now,
	}
}

func (f fixture) deliver(t *testing.T, payload string) billing.WebhookResult {
	t.Helper()
	res, err := f.svc.HandleWebhook(context.Background(), []byte(payload), validSig)
	require.NoError(t, err)
	return res
}

func (f fixture) status(t *testing.T) billing.Status {
	t.Helper()
	p, err := f.students.GetProfile(context.Background(), f.learner.UserID)
	require.NoError(t, err)
	return p.PaymentStatus
}

func TestService_HandleWebhook_checkout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res := f.deliver(t, "checkout")
	assert.Equal(t, billing.WebhookResult{EventID: "evt_checkout", Type: billing.EventCheckoutCompleted, Outcome: billing.OutcomeApplied}, res)
	assert.Equal(t, billing.StatusActive, f.status(t))

	pmt, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", pmt.ProviderCheckoutSessionID)
	assert.Equal(t, "cus_1", pmt.ProviderCustomerID)

	acct, err := f.repo.GetStudentBilling(ctx, f.learner.UserID)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", acct.CustomerID)

	// redelivery
	res = f.deliver(t, "checkout")
	assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	payments, err := f.svc.QueryPayments(ctx, &billing.QueryFilter{StudentID: f.learner.UserID})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestService_HandleWebhook_invoicePaidIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	f.deliver(t, "failed")

	f.deliver(t, "paid")
	first, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, first.Status)
	assert.Nil(t, first.FailedAt)
	assert.Nil(t, first.GracePeriodEndsAt)
	require.NotNil(t, first.CurrentPeriodEnd)
	assert.Equal(t, f.now.AddDate(0, 1, 0), *first.CurrentPeriodEnd)

	for i := 0; i < 3; i++ {
		res := f.deliver(t, "paid")
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)
	}
	again, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, billing.StatusActive, f.status(t))
}

func TestService_HandleWebhook_paymentFailed(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	emailsvc.ClearSentMessages()

	f.deliver(t, "failed")
	pmt, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	failedAt := f.now.Add(24 * time.Hour)
	assert.Equal(t, billing.StatusFailed, pmt.Status)
	require.NotNil(t, pmt.FailedAt)
	assert.Equal(t, failedAt, *pmt.FailedAt)
	require.NotNil(t, pmt.GracePeriodEndsAt)
	assert.Equal(t, failedAt.Add(72*time.Hour), *pmt.GracePeriodEndsAt)
	assert.Equal(t, billing.StatusFailed, f.status(t))
	assert.Len(t, emailsvc.GetSentMessages(), 1)

	// a later failure of the same subscription never extends the grace period
	f.deliver(t, "failed_again")
	again, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, *pmt.GracePeriodEndsAt, *again.GracePeriodEndsAt)
	assert.Len(t, emailsvc.GetSentMessages(), 1, "notified once")
}

func TestService_Access_grace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	f.deliver(t, "failed")
	graceEnd := f.now.Add(24*time.Hour + 72*time.Hour)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "right after failure", at: f.now.Add(25 * time.Hour), want: true},
		{name: "one second before grace end", at: graceEnd.Add(-time.Second), want: true},
		{name: "at grace end", at: graceEnd, want: false},
		{name: "after grace end", at: graceEnd.Add(time.Hour), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*f.now = tt.at
			acct, err := f.svc.Access(ctx, f.learner.UserID)
			require.NoError(t, err)
			assert.Equal(t, billing.StatusFailed, acct.Status)
			assert.Equal(t, tt.want, acct.HasAccess)
			require.NotNil(t, acct.Payment)
		})
	}
}

func TestService_HandleWebhook_subscriptionDeleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	emailsvc.ClearSentMessages()

	f.deliver(t, "deleted")
	f.deliver(t, "deleted")
	pmt, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, pmt.Status)
	assert.True(t, pmt.CancelAtPeriodEnd)
	assert.Equal(t, billing.StatusCancelled, f.status(t))
	assert.Len(t, emailsvc.GetSentMessages(), 1)

	// a late invoice does not revive a cancelled subscription
	res := f.deliver(t, "paid")
	assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	assert.Equal(t, billing.StatusCancelled, f.status(t))
}

func TestService_HandleWebhook_ignoredAndRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		payload     string
		sig         string
		wantOutcome billing.Outcome
		wantReason  string
		wantErr     bool
	}{
		{name: "unknown subscription", payload: "unknown_sub", sig: validSig, wantOutcome: billing.OutcomeIgnored, wantReason: "unknown subscription"},
		{name: "unknown student", payload: "unknown_student", sig: validSig, wantOutcome: billing.OutcomeIgnored, wantReason: "unknown student"},
		{name: "unhandled type", payload: "other", sig: validSig, wantOutcome: billing.OutcomeIgnored, wantReason: "unhandled event type"},
		{name: "bad signature", payload: "checkout", sig: "forged", wantErr: true},
		{name: "unparseable", payload: "garbage", sig: validSig, wantErr: true},
		{name: "missing invoice", payload: "broken", sig: validSig, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.HandleWebhook(ctx, []byte(tt.payload), tt.sig)
			if tt.wantErr {
				require.Error(t, err)
				var vErr *core.ValidationError
				assert.True(t, errors.As(err, &vErr), "got %T", errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantReason, res.Reason)
		})
	}

	// none of the above touched the learner
	assert.Equal(t, billing.StatusNone, f.status(t))
	payments, err := f.svc.QueryPayments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestService_StartCheckout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := core.Principal{UserID: f.learner.UserID, Roles: []string{user.RoleStudent}}

	sess, err := f.svc.StartCheckout(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "cs_new", sess.ID)
	assert.Equal(t, billing.StatusPending, f.status(t))
	require.Len(t, f.provider.checkouts, 1)
	assert.Equal(t, billing.CheckoutRequest{StudentID: f.learner.UserID, Email: "amani@lingua.test"}, f.provider.checkouts[0])

	f.deliver(t, "checkout")
	_, err = f.svc.StartCheckout(ctx, p)
	assert.Equal(t, billing.ErrAlreadySubscribed, err)

	f.deliver(t, "failed")
	_, err = f.svc.StartCheckout(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", f.provider.checkouts[1].CustomerID, "the provider customer is reused")
	assert.Equal(t, billing.StatusFailed, f.status(t), "a failed subscription stays failed until paid")

	f.provider.checkoutErr = errors.New("stripe down")
	_, err = f.svc.StartCheckout(ctx, p)
	assert.IsType(t, &core.ExternalError{}, err)
}

func TestService_CancelSubscription(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := core.Principal{UserID: f.learner.UserID, Roles: []string{user.RoleStudent}}

	assert.Equal(t, billing.ErrNoSubscription, f.svc.CancelSubscription(ctx, p))

	f.deliver(t, "checkout")
	require.NoError(t, f.svc.CancelSubscription(ctx, p))
	assert.Equal(t, []string{"sub_1"}, f.provider.cancelled)
	assert.Equal(t, billing.StatusActive, f.status(t), "local state waits for the webhook")

	f.deliver(t, "deleted")
	assert.Equal(t, billing.ErrNoSubscription, f.svc.CancelSubscription(ctx, p))
}

func TestService_HandleWebhook_supersededSubscription(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	f.deliver(t, "failed")
	require.Equal(t, billing.StatusFailed, f.status(t))

	// the learner subscribes again while the first subscription is still failed
	*f.now = f.now.Add(time.Hour)
	f.provider.events["checkout_2"] = billing.Event{
		ID: "evt_checkout_2", Type: billing.EventCheckoutCompleted, CreatedAt: *f.now,
		Checkout: &billing.CheckoutCompleted{
			SessionID: "cs_2", StudentID: f.learner.UserID, CustomerID: "cus_1", SubscriptionID: "sub_2",
		},
	}
	f.deliver(t, "checkout_2")
	require.Equal(t, billing.StatusActive, f.status(t))
	emailsvc.ClearSentMessages()

	tests := []struct {
		name        string
		payload     string
		wantOutcome billing.Outcome
		wantSub1    billing.Status
	}{
		{name: "old failure redelivered", payload: "failed", wantOutcome: billing.OutcomeApplied, wantSub1: billing.StatusFailed},
		{name: "old subscription deleted", payload: "deleted", wantOutcome: billing.OutcomeApplied, wantSub1: billing.StatusCancelled},
		{name: "old deletion redelivered", payload: "deleted", wantOutcome: billing.OutcomeApplied, wantSub1: billing.StatusCancelled},
		{name: "late failure of the old subscription", payload: "failed_again", wantOutcome: billing.OutcomeIgnored, wantSub1: billing.StatusCancelled},
		{name: "late invoice of the old subscription", payload: "paid", wantOutcome: billing.OutcomeIgnored, wantSub1: billing.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*f.now = f.now.Add(time.Minute)
			res := f.deliver(t, tt.payload)
			assert.Equal(t, tt.wantOutcome, res.Outcome, res.Reason)

			old, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub1, old.Status)

			assert.Equal(t, billing.StatusActive, f.status(t), "the newer subscription wins")
			acct, err := f.svc.Access(ctx, f.learner.UserID)
			require.NoError(t, err)
			assert.True(t, acct.HasAccess)
			require.NotNil(t, acct.Payment)
			assert.Equal(t, "sub_2", acct.Payment.ProviderSubscriptionID)
		})
	}
	assert.Empty(t, emailsvc.GetSentMessages(), "nothing to tell about a superseded subscription")
}

func TestService_HandleWebhook_unchangedEventWritesNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deliver(t, "checkout")
	f.deliver(t, "deleted")

	prof, err := f.students.GetProfile(ctx, f.learner.UserID)
	require.NoError(t, err)
	before, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)

	*f.now = f.now.Add(time.Hour)
	res := f.deliver(t, "deleted")
	assert.Equal(t, billing.OutcomeApplied, res.Outcome)

	after, err := f.repo.GetPaymentBySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	again, err := f.students.GetProfile(ctx, f.learner.UserID)
	require.NoError(t, err)
	assert.Equal(t, prof.UpdatedAt, again.UpdatedAt)
}
