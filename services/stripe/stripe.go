// Package stripesvc is the Stripe implementation of billing.Provider.
package stripesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/billing"
)

type Provider struct {
	api           *client.API
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

var _ billing.Provider = (*Provider)(nil)

func NewProvider(conf *core.Config) *Provider {
	return newProvider(conf, nil)
}

// newProvider lets tests point the API client at a fake backend.
func newProvider(conf *core.Config, backends *stripe.Backends) *Provider {
	api := new(client.API)
	api.Init(conf.Billing.StripeSecretKey, backends)
	return &Provider{
		api:           api,
		webhookSecret: conf.Billing.StripeWebhookSecret,
		priceID:       conf.Billing.StripePriceID,
		successURL:    conf.Billing.CheckoutSuccessURL,
		cancelURL:     conf.Billing.CheckoutCancelURL,
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// ParseEvent verifies the Stripe-Signature header, then decodes the events the state machine handles.
// Other event types are returned with their id and type only.
func (p *Provider) ParseEvent(payload []byte, signature string) (billing.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return billing.Event{}, errors.Wrap(err, "verifying signature")
	}

	res := billing.Event{
		ID:        ev.ID,
		Type:      string(ev.Type),
		CreatedAt: unixTime(ev.Created),
	}
	if ev.Data == nil {
		return res, nil
	}

	switch res.Type {
	case billing.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding checkout session")
		}
		co := &billing.CheckoutCompleted{
			SessionID: sess.ID,
			StudentID: sess.ClientReferenceID,
		}
		if sess.Customer != nil {
			co.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			co.SubscriptionID = sess.Subscription.ID
		}
		if sess.PaymentIntent != nil {
			co.PaymentIntentID = sess.PaymentIntent.ID
		}
		res.Checkout = co

	case billing.EventInvoicePaid, billing.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding invoice")
		}
		in := &billing.Invoice{
			ID:          inv.ID,
			PeriodStart: unixTime(inv.PeriodStart),
			PeriodEnd:   unixTime(inv.PeriodEnd),
		}
		// the subscription line holds the period being paid for
		if inv.Lines != nil {
			for _, line := range inv.Lines.Data {
				if line != nil && line.Period != nil && line.Period.End > 0 {
					in.PeriodStart, in.PeriodEnd = unixTime(line.Period.Start), unixTime(line.Period.End)
					break
				}
			}
		}
		if inv.Customer != nil {
			in.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			in.SubscriptionID = inv.Subscription.ID
		}
		res.Invoice = in

	case billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return billing.Event{}, errors.Wrap(err, "decoding subscription")
		}
		s := &billing.Subscription{
			ID:                 sub.ID,
			CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
			CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		}
		if sub.Customer != nil {
			s.CustomerID = sub.Customer.ID
		}
		res.Subscription = s
	}
	return res, nil
}

// CreateCheckoutSession opens a hosted subscription checkout for the configured price.
// The learner id travels as client reference and comes back in checkout.session.completed.
func (p *Provider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(p.successURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(p.cancelURL),
		ClientReferenceID: stripe.String(req.StudentID),
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return billing.CheckoutSession{}, errors.Wrap(err, "creating checkout session")
	}
	return billing.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// CancelSubscription cancels at the end of the paid period. Stripe sends customer.subscription.deleted then.
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return errors.Wrap(err, "cancelling subscription")
	}
	return nil
}
