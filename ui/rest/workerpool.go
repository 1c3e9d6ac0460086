package rest

import (
	"context"

	"github.com/AzielCF/az-dispatch/pkg/msgworker"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// DispatchRuntime is the slice of the messaging manager the ops endpoints need.
type DispatchRuntime interface {
	PoolStats() msgworker.PoolStats
	TriggerScheduler(ctx context.Context) (int, error)
}

type Runtime struct {
	Manager DispatchRuntime
}

func InitRestRuntime(app fiber.Router, manager DispatchRuntime) Runtime {
	rest := Runtime{Manager: manager}
	app.Get("/dispatch/pool/stats", rest.GetWorkerPoolStats)
	app.Post("/dispatch/scheduler/run", rest.RunScheduler)
	return rest
}

// GetWorkerPoolStats returns real-time dispatch worker pool statistics
func (handler *Runtime) GetWorkerPoolStats(c *fiber.Ctx) error {
	if handler.Manager == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Dispatch worker pool not initialized",
		})
	}
	return c.JSON(handler.Manager.PoolStats())
}

// RunScheduler promotes due scheduled dispatches without waiting for the next tick.
func (handler *Runtime) RunScheduler(c *fiber.Ctx) error {
	promoted, err := handler.Manager.TriggerScheduler(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Scheduler pass completed",
		Results: fiber.Map{"promoted": promoted},
	})
}
