package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/lingua/core"
	"github.com/trezcool/lingua/core/material"
	storagesvc "github.com/trezcool/lingua/services/storage"
)

type materialApi struct {
	svc *material.Service
}

func registerMaterialAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *material.Service) {
	api := materialApi{svc: svc}

	mg := g.Group("/materials", jwt)
	mg.GET("", api.list)
	mg.POST("", api.upload, adminMiddleware())
	mg.GET("/:id", api.retrieve, adminMiddleware())
	mg.DELETE("/:id", api.destroy, adminMiddleware())
	mg.GET("/:id/download", api.download)
}

func (api *materialApi) list(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	filter := new(material.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	materials, err := api.svc.List(ctx.Request().Context(), p, filter)
	if err != nil {
		return errors.Wrap(err, "querying materials")
	}
	if materials == nil {
		materials = []material.Material{}
	}
	return ctx.JSON(http.StatusOK, materials)
}

func (api *materialApi) upload(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	data := material.NewMaterial{
		Title:       ctx.FormValue("title"),
		Description: ctx.FormValue("description"),
		Level:       ctx.FormValue("level"),
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file is a required field"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	m, err := api.svc.Upload(ctx.Request().Context(), p, data, material.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		return errors.Wrap(err, "uploading material")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *materialApi) retrieve(ctx echo.Context) error {
	m, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting material")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *materialApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting material")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *materialApi) download(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return err
	}
	dl, err := api.svc.Download(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "signing download")
	}
	return ctx.JSON(http.StatusOK, dl)
}

// serveMedia serves the files of a LocalStorage behind the URLs it signed.
func serveMedia(files *storagesvc.LocalStorage) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		key := ctx.Param("*")
		switch err := files.Verify(key, ctx.QueryParam("expires"), ctx.QueryParam("signature")); err {
		case nil:
		case storagesvc.ErrURLExpired:
			return echo.NewHTTPError(http.StatusForbidden, "link expired")
		default:
			return errHttpForbidden
		}

		path, err := files.Path(key)
		if err != nil {
			return errHttpNotFound
		}
		return ctx.File(path)
	}
}
