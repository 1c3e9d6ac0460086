package rest

import (
	domainInstance "github.com/AzielCF/az-dispatch/domains/instance"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Instance struct {
	Service domainInstance.IInstanceUsecase
}

func InitRestInstance(app fiber.Router, service domainInstance.IInstanceUsecase) Instance {
	rest := Instance{Service: service}

	group := app.Group("/instances")
	group.Post("/", rest.Create)
	group.Get("/", rest.List)
	group.Get("/:id", rest.Get)
	group.Delete("/:id", rest.Delete)
	group.Get("/:id/status", rest.Status)
	group.Post("/:id/pairing", rest.StartPairing)
	group.Delete("/:id/pairing", rest.CancelPairing)
	group.Get("/:id/qr", rest.PairingQR)

	return rest
}

func (handler *Instance) Create(c *fiber.Ctx) error {
	var request domainInstance.CreateInstanceRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	inst, err := handler.Service.Create(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: "Instance created",
		Results: inst,
	})
}

func (handler *Instance) List(c *fiber.Ctx) error {
	instances, err := handler.Service.List(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch instances",
		Results: instances,
	})
}

func (handler *Instance) Get(c *fiber.Ctx) error {
	inst, err := handler.Service.GetByID(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch instance",
		Results: inst,
	})
}

func (handler *Instance) Status(c *fiber.Ctx) error {
	status, err := handler.Service.Status(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance status retrieved",
		Results: status,
	})
}

func (handler *Instance) Delete(c *fiber.Ctx) error {
	err := handler.Service.Delete(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Instance removed",
	})
}

func (handler *Instance) StartPairing(c *fiber.Ctx) error {
	pairing, err := handler.Service.StartPairing(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pairing started, scan the code to confirm",
		Results: pairing,
	})
}

func (handler *Instance) CancelPairing(c *fiber.Ctx) error {
	err := handler.Service.CancelPairing(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Pairing cancelled",
	})
}

// PairingQR serves the current pairing token as a PNG.
func (handler *Instance) PairingQR(c *fiber.Ctx) error {
	png, err := handler.Service.PairingQRCode(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(png)
}
