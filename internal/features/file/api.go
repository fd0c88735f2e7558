package file

import (
	"go-evidence/internal/common/api"
	"go-evidence/internal/config"
	"go-evidence/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type FileApi struct {
	controller *FileController
	config     *config.Config
}

func NewFileApi(controller *FileController, config *config.Config) api.Route {
	return &FileApi{
		controller: controller,
		config:     config,
	}
}

func (h *FileApi) Setup(app *fiber.App) {
	files := app.Group("/api/files", middleware.AuthMiddleware(h.config.SkipAuth))

	files.Post("/", h.controller.UploadFile)
	files.Get("/", h.controller.ListFiles)
	files.Get("/stats", h.controller.GetStorageStats)
	files.Get("/:id", h.controller.GetFile)
	files.Get("/:id/download", h.controller.DownloadFile)
	files.Get("/:id/view", h.controller.ViewFile)
	files.Delete("/:id", h.controller.DeleteFile)
	files.Post("/:id/duplicate", h.controller.DuplicateFile)
	files.Post("/:id/process", h.controller.ProcessFile)
	files.Put("/:id/expiry", h.controller.SetExpiry)
}
