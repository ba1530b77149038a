package tests

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lingua/core/billing"
	emailsvc "github.com/trezcool/lingua/services/email"
	testutil "github.com/trezcool/lingua/tests"
)

func checkoutEvent(id, studentID string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed","created":%d,
		"data":{"object":{"id":"cs_api","object":"checkout.session","client_reference_id":%q,
		"customer":"cus_api","subscription":"sub_api"}}}`, id, time.Now().Unix(), studentID)
}

func invoiceEvent(id, typ string) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":%d,
		"data":{"object":{"id":"in_api","object":"invoice","customer":"cus_api","subscription":"sub_api"}}}`,
		id, typ, time.Now().Unix())
}

func Test_billingApi_webhook(t *testing.T) {
	app := newTestApp(t)
	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", nil)
	token := app.studentToken(t, p)

	account := func(t *testing.T) billing.Account {
		t.Helper()
		rec := app.do(t, http.MethodGet, "/v1/billing/me", token, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var acct billing.Account
		unmarshall(t, rec, &acct)
		return acct
	}
	assert.False(t, account(t).HasAccess)

	steps := []struct {
		name        string
		payload     string
		wantOutcome billing.Outcome
		wantStatus  billing.Status
		wantAccess  bool
	}{
		{name: "checkout", payload: checkoutEvent("evt_1", p.UserID), wantOutcome: billing.OutcomeApplied, wantStatus: billing.StatusActive, wantAccess: true},
		{name: "checkout redelivered", payload: checkoutEvent("evt_1", p.UserID), wantOutcome: billing.OutcomeIgnored, wantStatus: billing.StatusActive, wantAccess: true},
		{name: "payment failed", payload: invoiceEvent("evt_2", billing.EventInvoicePaymentFailed), wantOutcome: billing.OutcomeApplied, wantStatus: billing.StatusFailed, wantAccess: true},
		{name: "invoice paid", payload: invoiceEvent("evt_3", billing.EventInvoicePaid), wantOutcome: billing.OutcomeApplied, wantStatus: billing.StatusActive, wantAccess: true},
		{name: "unhandled type", payload: invoiceEvent("evt_4", "invoice.created"), wantOutcome: billing.OutcomeIgnored, wantStatus: billing.StatusActive, wantAccess: true},
	}
	for _, tt := range steps {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.serve(app.signedWebhook(tt.payload))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var res billing.WebhookResult
			unmarshall(t, rec, &res)
			assert.Equal(t, tt.wantOutcome, res.Outcome)

			acct := account(t)
			assert.Equal(t, tt.wantStatus, acct.Status)
			assert.Equal(t, tt.wantAccess, acct.HasAccess)
		})
	}

	msgs := emailsvc.GetSentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Payment failed", msgs[0].Subject)
}

func Test_billingApi_webhook_rejected(t *testing.T) {
	app := newTestApp(t)
	p := testutil.CreateStudent(t, app.students, "Learner", "learner@lingua.test", nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no signature"},
		{name: "bad signature", header: "t=1,v1=deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := app.signedWebhook(checkoutEvent("evt_1", p.UserID))
			req.Header.Set("Stripe-Signature", tt.header)
			rec := app.serve(req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	// a valid signature over a tampered body is rejected too
	req := app.signedWebhook(checkoutEvent("evt_1", p.UserID))
	body := strings.Replace(checkoutEvent("evt_1", p.UserID), "cus_api", "cus_evil", 1)
	tampered := app.signedWebhook(body)
	tampered.Header.Set("Stripe-Signature", req.Header.Get("Stripe-Signature"))
	rec := app.serve(tampered)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	prof, err := app.students.GetProfile(req.Context(), p.UserID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusNone, prof.PaymentStatus, "nothing applied")
}

func Test_billingApi_access(t *testing.T) {
	app := newTestApp(t)
	_, adminToken := app.admin(t)
	paid := testutil.CreateStudent(t, app.students, "Paid", "paid@lingua.test", nil)
	testutil.SetPayment(t, app.payments, paid.UserID, billing.StatusActive, nil)
	unpaid := testutil.CreateStudent(t, app.students, "Unpaid", "unpaid@lingua.test", nil)

	rec := app.do(t, http.MethodPost, "/v1/billing/cancel", app.studentToken(t, unpaid), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "no subscription to cancel")

	rec = app.do(t, http.MethodPost, "/v1/billing/checkout", app.studentToken(t, paid), nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already subscribed")

	rec = app.do(t, http.MethodGet, "/v1/billing/payments", app.studentToken(t, paid), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/billing/payments?status=active", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var payments []billing.Payment
	unmarshall(t, rec, &payments)
	require.Len(t, payments, 1)
	assert.Equal(t, paid.UserID, payments[0].StudentID)
}
