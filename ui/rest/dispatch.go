package rest

import (
	domainDispatch "github.com/AzielCF/az-dispatch/domains/dispatch"
	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Dispatch struct {
	Service domainDispatch.IDispatchUsecase
}

func InitRestDispatch(app fiber.Router, service domainDispatch.IDispatchUsecase) Dispatch {
	rest := Dispatch{Service: service}

	group := app.Group("/dispatch")
	group.Post("/campaigns", rest.CreateCampaign)
	group.Post("/schedules", rest.Schedule)
	group.Delete("/schedules/:id", rest.Cancel)
	group.Get("/jobs", rest.List)
	group.Get("/jobs/:id", rest.Get)
	group.Post("/contacts/import", rest.ImportContacts)
	group.Post("/media", rest.UploadMedia)

	return rest
}

func (controller *Dispatch) CreateCampaign(c *fiber.Ctx) error {
	var request domainDispatch.CampaignRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	response, err := controller.Service.CreateCampaign(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  fiber.StatusAccepted,
		Code:    "SUCCESS",
		Message: "Campaign queued",
		Results: response,
	})
}

func (controller *Dispatch) Schedule(c *fiber.Ctx) error {
	var request domainDispatch.ScheduleRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	response, err := controller.Service.Schedule(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: "Dispatch scheduled",
		Results: response,
	})
}

func (controller *Dispatch) Cancel(c *fiber.Ctx) error {
	err := controller.Service.Cancel(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Scheduled dispatch cancelled",
	})
}

func (controller *Dispatch) Get(c *fiber.Ctx) error {
	job, err := controller.Service.Get(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch job",
		Results: job,
	})
}

func (controller *Dispatch) List(c *fiber.Ctx) error {
	var request domainDispatch.ListRequest
	err := c.QueryParser(&request)
	utils.PanicIfNeeded(err)

	jobs, err := controller.Service.List(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Success fetch jobs",
		Results: jobs,
	})
}

// ImportContacts reads a CSV upload from the "contacts" form field.
func (controller *Dispatch) ImportContacts(c *fiber.Ctx) error {
	header, err := c.FormFile("contacts")
	if err != nil {
		panic(pkgError.ValidationError("contacts: a CSV file is required"))
	}

	file, err := header.Open()
	utils.PanicIfNeeded(err)
	defer file.Close()

	recipients, err := controller.Service.ImportContacts(c.UserContext(), file)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Contacts imported",
		Results: recipients,
	})
}

// UploadMedia stores the "file" form field for a later campaign.
func (controller *Dispatch) UploadMedia(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		panic(pkgError.ValidationError("file: an attachment is required"))
	}

	file, err := header.Open()
	utils.PanicIfNeeded(err)
	defer file.Close()

	media, err := controller.Service.StoreMedia(c.UserContext(), domainDispatch.UploadMediaRequest{
		FileName: header.Filename,
		MimeType: header.Header.Get(fiber.HeaderContentType),
		Size:     header.Size,
	}, file)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: "Media stored",
		Results: media,
	})
}
