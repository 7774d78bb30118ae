package api

import (
	"context"

	"docrag/app/middleware"
	"docrag/service"
	"docrag/types"

	"github.com/gofiber/fiber/v2"
)

type QueryService interface {
	AskSafe(ctx context.Context, params types.AskParams) (*service.AskResult, error)
}

type RequestHandler struct {
	querier QueryService
}

func NewRequestHandler(querier QueryService) *RequestHandler {
	return &RequestHandler{
		querier: querier,
	}
}

type askBody struct {
	Query string `json:"query"`
}

// HandleAsk answers a question about the document in the path. Failures inside
// the pipeline still produce a 200 with an apologetic answer.
func (h *RequestHandler) HandleAsk(c *fiber.Ctx) error {
	var body askBody
	if c.BodyParser(&body) != nil {
		return ErrBadRequest()
	}

	params := types.AskParams{
		DocumentID: c.Params("id"),
		Query:      body.Query,
		Owner:      middleware.Owner(c),
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	res, err := h.querier.AskSafe(c.UserContext(), params)
	if err != nil {
		return err
	}
	return c.JSON(res.Response())
}
