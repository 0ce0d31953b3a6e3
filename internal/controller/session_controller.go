package controller

import (
	"knowledge-qa-be/internal/dto"
	"knowledge-qa-be/internal/pkg/serverutils"
	"knowledge-qa-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ISessionController interface {
	RegisterRoutes(r fiber.Router)
	List(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Pin(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type sessionController struct {
	sessionService service.ISessionService
}

func NewSessionController(sessionService service.ISessionService) ISessionController {
	return &sessionController{
		sessionService: sessionService,
	}
}

func (c *sessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/qa/v1/sessions")
	h.Use(serverutils.JwtMiddleware)
	h.Get("", c.List)
	h.Get(":id", c.Show)
	h.Put(":id/pin", c.Pin)
	h.Delete(":id", c.Delete)
}

func (c *sessionController) List(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	limit := ctx.QueryInt("limit", 20)
	offset := ctx.QueryInt("offset", 0)
	filter := service.ListFilter{
		OnlyPinned: ctx.QueryBool("pinned", false),
		OnlyFailed: ctx.QueryBool("failed", false),
	}

	res, err := c.sessionService.List(ctx.Context(), userId, filter, limit, offset)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success fetching sessions", res))
}

func (c *sessionController) Show(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewAppError(fiber.StatusBadRequest, "invalid session id")
	}

	res, err := c.sessionService.Show(ctx.Context(), userId, id)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session detail", res))
}

func (c *sessionController) Pin(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewAppError(fiber.StatusBadRequest, "invalid session id")
	}

	var req dto.PinSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}

	if err := c.sessionService.SetPinned(ctx.Context(), userId, id, req.Pinned); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session pin updated", nil))
}

func (c *sessionController) Delete(ctx *fiber.Ctx) error {
	userId, err := currentUserId(ctx)
	if err != nil {
		return err
	}

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return serverutils.NewAppError(fiber.StatusBadRequest, "invalid session id")
	}

	if err := c.sessionService.Delete(ctx.Context(), userId, id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Session deleted", nil))
}

// currentUserId pulls the authenticated user out of the JWT middleware's
// locals.
func currentUserId(ctx *fiber.Ctx) (uuid.UUID, error) {
	userIdStr, ok := ctx.Locals("user_id").(string)
	if !ok {
		return uuid.Nil, serverutils.NewAppError(fiber.StatusUnauthorized, "unauthorized")
	}
	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		return uuid.Nil, serverutils.NewAppError(fiber.StatusUnauthorized, "unauthorized")
	}
	return userId, nil
}
