package echoapi

import (
	"io/ioutil"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core/billing"
)

// maxWebhookBytes bounds the size of a provider event.
const maxWebhookBytes = 65536

type billingApi struct {
	svc *billing.Service
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *billing.Service) {
	api := billingApi{svc: svc}

	bg := g.Group("/billing")
	// called by the payment provider, authenticated by the payload signature
	bg.POST("/webhook", api.webhook)

	ag := bg.Group("", jwt)
	ag.POST("/checkout", api.checkout, studentMiddleware())
	ag.POST("/cancel", api.cancel, studentMiddleware())
	ag.GET("/me", api.me, studentMiddleware())
	ag.GET("/payments", api.payments, adminMiddleware())
}

func (api *billingApi) webhook(ctx echo.Context) error {
	req := ctx.Request()
	payload, err := ioutil.ReadAll(http.MaxBytesReader(ctx.Response(), req.Body, maxWebhookBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	res, err := api.svc.HandleWebhook(req.Context(), payload, req.Header.Get("Stripe-Signature"))
	if err != nil {
		return errors.Wrap(err, "handling webhook")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *billingApi) checkout(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	sess, err := api.svc.StartCheckout(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "starting checkout")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *billingApi) cancel(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.CancelSubscription(ctx.Request().Context(), p); err != nil {
		return errors.Wrap(err, "cancelling subscription")
	}
	return ctx.JSON(http.StatusAccepted, SuccessResponse{
		Success: "Your subscription will end at the close of the current billing period.",
	})
}

func (api *billingApi) me(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	acct, err := api.svc.Access(ctx.Request().Context(), p.UserID)
	if err != nil {
		return errors.Wrap(err, "getting billing account")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *billingApi) payments(ctx echo.Context) error {
	filter := new(billing.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	payments, err := api.svc.QueryPayments(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []billing.Payment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}
