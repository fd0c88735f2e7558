package lifecycle

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type LifecycleController struct {
	LifecycleService LifecycleService
	log              *zap.Logger
}

func NewLifecycleController(service LifecycleService, log *zap.Logger) *LifecycleController {
	return &LifecycleController{
		LifecycleService: service,
		log:              log,
	}
}

// Sweep runs a sweep. It is a dry run unless dry_run=false is passed explicitly.
func (ctrl *LifecycleController) Sweep(c *fiber.Ctx) error {
	dryRun := c.Query("dry_run", "true") != "false"

	report, err := ctrl.LifecycleService.SweepExpired(c.UserContext(), dryRun)
	if err != nil {
		ctrl.log.Error("Sweep failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sweep failed"})
	}
	return c.JSON(report)
}

func (ctrl *LifecycleController) ExportReport(c *fiber.Ctx) error {
	data, err := ctrl.LifecycleService.ExportDryRun(c.UserContext())
	if err != nil {
		ctrl.log.Error("Sweep report export failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "export failed"})
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Attachment("sweep-report.xlsx")
	return c.Send(data)
}

func (ctrl *LifecycleController) ListRuns(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	runs, err := ctrl.LifecycleService.ListRuns(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(runs)
}
