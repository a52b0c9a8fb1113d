package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MartinHagen/SubEngine/app/repository"
	apiv1 "github.com/MartinHagen/SubEngine/internal/api/v1"
	"github.com/MartinHagen/SubEngine/internal/pkg/billingrun"
	"github.com/MartinHagen/SubEngine/internal/pkg/cache"
	"github.com/MartinHagen/SubEngine/internal/pkg/database"
	"github.com/MartinHagen/SubEngine/internal/pkg/env"
	"github.com/MartinHagen/SubEngine/internal/pkg/keyedlock"
	"github.com/MartinHagen/SubEngine/internal/pkg/lifecycle"
	"github.com/MartinHagen/SubEngine/internal/pkg/payment"
	"github.com/MartinHagen/SubEngine/internal/pkg/proration"
	"github.com/MartinHagen/SubEngine/internal/pkg/router"
	"github.com/MartinHagen/SubEngine/internal/pkg/scheduler"
)

func main() {
	app, sched := NewApplication()
	sched.Start()

	// graceful shutdown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info("[SubEngine] Shutting down")
		<-sched.Stop().Done()
		_ = app.Shutdown()
	}()

	if err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))); err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *scheduler.Scheduler) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	locks := keyedlock.New()
	lc := lifecycle.NewService(repos.Subscription, repos.StatusHistory, locks)
	pr := proration.NewService(database.GetDB(), locks)
	gateway := payment.NewHTTPGatewayFromEnv()

	workers, _ := strconv.Atoi(env.GetEnv("BILLING_WORKERS", "3"))
	processor := billingrun.NewProcessor(repos, lc, gateway, locks, billingrun.Options{
		Workers:        workers,
		RefundOnCancel: env.GetEnv("REFUND_ON_CANCEL", "false") == "true",
	})

	sched := scheduler.New(processor)

	app := fiber.New(fiber.Config{
		AppName: "SubEngine",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	apiServer := apiv1.NewAPIServer(processor, lc, pr, repos)
	router.InstallRouter(app, apiServer)

	return app, sched
}
