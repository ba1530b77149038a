package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core/placement"
)

type placementApi struct {
	svc *placement.Service
}

func registerPlacementAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *placement.Service) {
	api := placementApi{svc: svc}

	pg := g.Group("/placement", jwt)

	sg := pg.Group("", studentMiddleware())
	sg.GET("/eligibility", api.eligibility)
	sg.POST("/start", api.start)
	sg.POST("/submit", api.submit)
	sg.GET("/results", api.history)
	sg.GET("/results/:id", api.result)

	tg := pg.Group("/tests", adminMiddleware())
	tg.POST("", api.publish)
	tg.GET("", api.listTests)
	tg.GET("/active", api.activeTest)
	tg.GET("/:id", api.retrieveTest)
}

func (api *placementApi) eligibility(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	elig, err := api.svc.Eligibility(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "checking eligibility")
	}
	return ctx.JSON(http.StatusOK, elig)
}

func (api *placementApi) start(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	test, err := api.svc.Start(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "starting test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *placementApi) submit(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data placement.Submission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submission")
	}

	res, err := api.svc.Submit(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "submitting test")
	}
	res.Answers = nil
	return ctx.JSON(http.StatusCreated, res)
}

func (api *placementApi) history(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	results, err := api.svc.History(ctx.Request().Context(), p.UserID)
	if err != nil {
		return errors.Wrap(err, "querying results")
	}
	if results == nil {
		results = []placement.Result{}
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *placementApi) result(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	res, err := api.svc.GetResult(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting result")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *placementApi) publish(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	var data placement.NewTest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTest")
	}

	test, err := api.svc.Publish(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "publishing test")
	}
	return ctx.JSON(http.StatusCreated, test)
}

func (api *placementApi) listTests(ctx echo.Context) error {
	tests, err := api.svc.ListTests(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying tests")
	}
	if tests == nil {
		tests = []placement.Test{}
	}
	return ctx.JSON(http.StatusOK, tests)
}

func (api *placementApi) activeTest(ctx echo.Context) error {
	test, err := api.svc.ActiveTest(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting active test")
	}
	return ctx.JSON(http.StatusOK, test)
}

func (api *placementApi) retrieveTest(ctx echo.Context) error {
	test, err := api.svc.GetTest(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting test")
	}
	return ctx.JSON(http.StatusOK, test)
}
