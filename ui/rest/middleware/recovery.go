package middleware

import (
	"fmt"

	pkgError "github.com/AzielCF/az-dispatch/pkg/error"
	"github.com/AzielCF/az-dispatch/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Recovery turns panics raised by utils.PanicIfNeeded into JSON responses.
// Errors implementing pkgError.GenericError keep their status and code; anything
// else is a 500 and gets logged.
func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err == nil {
				return
			}

			res := utils.ResponseData{
				Status:  fiber.StatusInternalServerError,
				Code:    "INTERNAL_SERVER_ERROR",
				Message: fmt.Sprintf("%v", err),
			}

			if generic, ok := err.(pkgError.GenericError); ok {
				res.Status = generic.StatusCode()
				res.Code = generic.ErrCode()
				res.Message = generic.Error()
			} else if fiberErr, ok := err.(*fiber.Error); ok {
				res.Status = fiberErr.Code
				res.Code = "BAD_REQUEST"
				res.Message = fiberErr.Message
			}

			entry := logrus.WithFields(logrus.Fields{
				"method": ctx.Method(),
				"path":   ctx.Path(),
				"status": res.Status,
			})
			if res.Status >= fiber.StatusInternalServerError {
				entry.Errorf("[REST] Panic recovered: %v", err)
			} else {
				entry.Debugf("[REST] Request rejected: %s", res.Message)
			}

			_ = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}
