package rest

import (
	"github.com/AzielCF/az-dispatch/core/config"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type App struct {
	Version  string
	ServerID string
}

func InitRestApp(app fiber.Router, version, serverID string) App {
	rest := App{Version: version, ServerID: serverID}
	app.Get("/app/version", rest.GetVersion)
	app.Get("/app/settings", rest.GetSettings)
	return rest
}

func (handler *App) GetVersion(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version":   handler.Version,
		"server_id": handler.ServerID,
	})
}

func (handler *App) GetSettings(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Runtime settings",
		Results: config.GetAllSettings(),
	})
}
