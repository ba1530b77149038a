package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core/cefr"
	"github.com/trezcool/lingua/core/classes"
)

type classesApi struct {
	svc *classes.Service
}

func registerClassesAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *classes.Service) {
	api := classesApi{svc: svc}

	cg := g.Group("/classes", jwt)
	cg.GET("", api.list)
	cg.POST("", api.create, adminMiddleware())
	cg.GET("/enrollments/me", api.myEnrollments, studentMiddleware())

	dg := cg.Group("/:id")
	dg.GET("", api.retrieve, staffMiddleware())
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.POST("/enroll", api.enroll, studentMiddleware())
	dg.GET("/enrollments", api.enrollments, staffMiddleware())
	dg.PUT("/enrollments/:student_id/attendance", api.attendance, staffMiddleware())
}

type EnrollResponse struct {
	ZoomURL string `json:"zoom_url"`
}

func (api *classesApi) list(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	filter, err := bindSessionFilter(ctx)
	if err != nil {
		return err
	}

	sessions, err := api.svc.ListSessions(ctx.Request().Context(), p, filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []classes.Session{}
	}
	if !p.IsStaff() {
		// the meeting link is only handed out on enrollment
		for i := range sessions {
			sessions[i].ZoomURL = ""
		}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *classesApi) create(ctx echo.Context) error {
	var data classes.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}

	sess, err := api.svc.CreateSession(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *classesApi) retrieve(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *classesApi) update(ctx echo.Context) error {
	var data classes.UpdateSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSession")
	}

	sess, err := api.svc.UpdateSession(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *classesApi) destroy(ctx echo.Context) error {
	if err := api.svc.DeleteSession(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classesApi) enroll(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	url, err := api.svc.Enroll(ctx.Request().Context(), p.UserID, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, EnrollResponse{ZoomURL: url})
}

func (api *classesApi) myEnrollments(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	enrollments, err := api.svc.MyEnrollments(ctx.Request().Context(), p.UserID)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []classes.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *classesApi) enrollments(ctx echo.Context) error {
	enrollments, err := api.svc.ListEnrollments(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []classes.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *classesApi) attendance(ctx echo.Context) error {
	var data classes.Attendance
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Attendance")
	}

	enr, err := api.svc.MarkAttendance(ctx.Request().Context(), ctx.Param("id"), ctx.Param("student_id"), data)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func bindSessionFilter(ctx echo.Context) (*classes.SessionFilter, error) {
	var err error
	filter := &classes.SessionFilter{
		Level:     cefr.Level(ctx.QueryParam("level")),
		TeacherID: ctx.QueryParam("teacher_id"),
	}
	if filter.From, err = timeQueryParam(ctx, "from"); err != nil {
		return nil, err
	}
	if filter.To, err = timeQueryParam(ctx, "to"); err != nil {
		return nil, err
	}
	return filter, nil
}
