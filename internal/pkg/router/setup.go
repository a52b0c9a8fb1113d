package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/MartinHagen/SubEngine/internal/api/v1"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter attaches every router to the app.
func InstallRouter(app *fiber.App, apiServer *apiv1.APIServer) {
	setup(app, NewApiRouter(apiServer))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
