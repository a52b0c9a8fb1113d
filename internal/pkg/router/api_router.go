package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/MartinHagen/SubEngine/internal/api/v1"
	"github.com/MartinHagen/SubEngine/internal/pkg/middleware"
)

type ApiRouter struct {
	apiServer *apiv1.APIServer
}

func NewApiRouter(apiServer *apiv1.APIServer) ApiRouter {
	return ApiRouter{apiServer: apiServer}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(), middleware.APIKeyAuthMiddleware())

	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, h.apiServer)
}
