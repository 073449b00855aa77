package echoapi

import (
	"context"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/session"
)

type sessionApi struct {
	svc        session.ServiceInterface
	validate   *validator.Validate
	translator ut.Translator
}

func registerSessionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc session.ServiceInterface,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := sessionApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	sg := g.Group("/sessions", jwt, instructorMiddleware())
	sg.POST("", api.create)
	sg.GET("/active", api.retrieveActive)
	sg.GET("/subject-groups", api.querySubjectGroups)
	sg.GET("/:id", api.status)
	sg.DELETE("/:id", api.terminate)
}

type (
	// CreateSessionRequest carries the subject selection plus the anchor
	// coordinate captured on the instructor's device. A missing anchor
	// means the device could not produce a fix.
	CreateSessionRequest struct {
		SubjectGroupID string              `json:"subject_group_id"`
		Anchor         *session.Coordinate `json:"anchor"`
		LocationDenied bool                `json:"location_denied"`
	}

	DeliveryResponse struct {
		Recipients int `json:"recipients"`
		Attempted  int `json:"attempted_batches"`
		Succeeded  int `json:"succeeded_batches"`
		Failed     int `json:"failed_batches"`
	}

	CreateSessionResponse struct {
		Session  session.Session  `json:"session"`
		Delivery DeliveryResponse `json:"delivery"`
		Status   session.Status   `json:"status"`
	}
)

func (r *CreateSessionRequest) Validate(validate *validator.Validate) error {
	// a request reporting denied permission cannot also carry a fix
	if r.LocationDenied && r.Anchor != nil {
		return core.NewValidationError(nil, core.FieldError{
			Field: "location_denied",
			Error: "cannot be combined with an anchor",
		})
	}
	if r.Anchor != nil {
		return validate.Struct(r.Anchor)
	}
	return nil
}

// locator maps the request to the engine's geofence capture semantics.
func (r *CreateSessionRequest) locator() session.Locator {
	if r.LocationDenied {
		return session.LocatorFunc(func(ctx context.Context) (session.Coordinate, error) {
			return session.Coordinate{}, session.ErrLocationDenied
		})
	}
	if r.Anchor == nil {
		return session.LocatorFunc(func(ctx context.Context) (session.Coordinate, error) {
			return session.Coordinate{}, session.ErrLocationUnavailable
		})
	}
	return session.DeviceCoordinate(*r.Anchor)
}

// Handlers

func (api *sessionApi) create(ctx echo.Context) error {
	var data CreateSessionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CreateSessionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	ns := session.NewSession{
		OwnerID:        claims.Subject,
		SubjectGroupID: core.CleanString(data.SubjectGroupID, true /* lower */),
	}
	if err := ns.Validate(api.validate); err != nil {
		return err
	}
	handle, err := api.svc.Start(ctx.Request().Context(), ns, data.locator())
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusCreated, CreateSessionResponse{
		Session: handle.Session,
		Delivery: DeliveryResponse{
			Recipients: handle.Report.Recipients,
			Attempted:  handle.Report.Attempted,
			Succeeded:  handle.Report.Succeeded,
			Failed:     handle.Report.Failed,
		},
		Status: handle.Status(),
	})
}

func (api *sessionApi) retrieveActive(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sess, err := api.svc.ActiveForOwner(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) querySubjectGroups(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	groups, err := api.svc.SubjectGroups(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying subject groups")
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *sessionApi) status(ctx echo.Context) error {
	sess, err := api.ownedSession(ctx)
	if err != nil {
		return err
	}

	status, err := api.svc.Status(ctx.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, status)
}

func (api *sessionApi) terminate(ctx echo.Context) error {
	sess, err := api.ownedSession(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.Terminate(ctx.Request().Context(), sess.ID, session.ReasonManual); err != nil {
		return errors.Wrap(err, "terminating session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ownedSession resolves :id and checks the caller owns it (admins pass).
func (api *sessionApi) ownedSession(ctx echo.Context) (session.Session, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return session.Session{}, errors.Wrap(err, "getting context claims")
	}

	sess, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return session.Session{}, err
	}
	if sess.OwnerID != claims.Subject && !claims.IsAdmin {
		return session.Session{}, errHttpForbidden
	}
	return sess, nil
}
