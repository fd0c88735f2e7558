package file

import (
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"go-evidence/internal/middleware"
	"go-evidence/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type FileController struct {
	FileService FileService
	log         *zap.Logger
}

func NewFileController(fileService FileService, log *zap.Logger) *FileController {
	return &FileController{
		FileService: fileService,
		log:         log.With(zap.String("component", "file_controller")),
	}
}

// multipartSource adapts a fiber form file to Source.
type multipartSource struct {
	fh *multipart.FileHeader
}

func (m multipartSource) Open() (io.ReadCloser, error) { return m.fh.Open() }
func (m multipartSource) Name() string                 { return m.fh.Filename }
func (m multipartSource) MimeType() string             { return m.fh.Header.Get("Content-Type") }
func (m multipartSource) Size() int64                  { return m.fh.Size }

func actorFrom(c *fiber.Ctx) Actor {
	return Actor{UserID: middleware.CurrentUserID(c), SourceAddr: c.IP()}
}

// RespondRejection writes the 422 body shared by every refused upload.
func RespondRejection(c *fiber.Ctx, rejection *RejectionError) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"error":      "upload rejected",
		"rejections": rejection.Result.Rejections,
	})
}

// respondError maps service errors onto HTTP responses.
func (ctrl *FileController) respondError(c *fiber.Ctx, err error) error {
	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		return RespondRejection(c, rejection)
	case errors.Is(err, ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "File not found"})
	case errors.Is(err, ErrSweeping):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "File is being removed after expiry"})
	case errors.Is(err, ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "File is being updated, retry later"})
	}
	ctrl.log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

// UploadFile accepts a multipart "file" plus optional access_level,
// description and expires_at fields.
func (ctrl *FileController) UploadFile(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Error retrieving file"})
	}

	hints := UploadHints{
		AccessLevel: AccessLevel(c.FormValue("access_level")),
		Description: c.FormValue("description"),
	}
	if hints.AccessLevel != "" && !hints.AccessLevel.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid access level"})
	}
	if v := c.FormValue("expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expires_at must be RFC 3339"})
		}
		hints.ExpiresAt = &t
	}

	rec, err := ctrl.FileService.UploadFile(c.UserContext(), actorFrom(c), multipartSource{fh: fh}, hints)
	if err != nil {
		return ctrl.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (ctrl *FileController) ListFiles(c *fiber.Ctx) error {
	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.Query("offset", "0"), 10, 64)

	files, err := ctrl.FileService.ListFiles(c.UserContext(), ListFilter{
		UploadedBy: c.Query("uploaded_by"),
		Category:   Category(c.Query("category")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return ctrl.respondError(c, err)
	}
	return c.JSON(files)
}

func (ctrl *FileController) GetFile(c *fiber.Ctx) error {
	rec, err := ctrl.FileService.GetFile(c.UserContext(), c.Params("id"))
	if err != nil {
		return ctrl.respondError(c, err)
	}
	return c.JSON(rec)
}

// DownloadFile streams the primary blob and counts the download.
func (ctrl *FileController) DownloadFile(c *fiber.Ctx) error {
	return ctrl.send(c, CounterDownload)
}

// ViewFile serves the file inline and counts a view.
func (ctrl *FileController) ViewFile(c *fiber.Ctx) error {
	return ctrl.send(c, CounterView)
}

func (ctrl *FileController) send(c *fiber.Ctx, counter Counter) error {
	id := c.Params("id")
	dl, err := ctrl.FileService.GetDownloadBlob(c.UserContext(), id)
	if err != nil {
		return ctrl.respondError(c, err)
	}

	if err := ctrl.FileService.TrackAccess(c.UserContext(), id, counter); err != nil {
		ctrl.log.Warn("Failed to track access", zap.String("file_id", id), zap.String("counter", string(counter)), zap.Error(err))
	}

	name := utils.SafeFileName(dl.FileName)
	if counter == CounterDownload {
		c.Attachment(name)
	} else {
		c.Set(fiber.HeaderContentDisposition, `inline; filename="`+name+`"`)
	}
	if dl.MimeType != "" {
		c.Set(fiber.HeaderContentType, dl.MimeType)
	}
	c.Set("X-Content-Type-Options", "nosniff")
	return c.SendStream(dl.Body, int(dl.Size))
}

func (ctrl *FileController) DeleteFile(c *fiber.Ctx) error {
	deleted, err := ctrl.FileService.DeleteFile(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return ctrl.respondError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "File not found"})
	}
	return c.JSON(fiber.Map{"message": "File deleted successfully"})
}

func (ctrl *FileController) DuplicateFile(c *fiber.Ctx) error {
	rec, err := ctrl.FileService.DuplicateFile(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return ctrl.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (ctrl *FileController) ProcessFile(c *fiber.Ctx) error {
	if err := ctrl.FileService.EnqueueProcessing(c.UserContext(), c.Params("id")); err != nil {
		return ctrl.respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Processing queued"})
}

type expiryRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// SetExpiry sets or, with a null expires_at, clears the expiry.
func (ctrl *FileController) SetExpiry(c *fiber.Ctx) error {
	var req expiryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := ctrl.FileService.SetExpiry(c.UserContext(), actorFrom(c), c.Params("id"), req.ExpiresAt); err != nil {
		return ctrl.respondError(c, err)
	}
	return c.JSON(fiber.Map{"expires_at": req.ExpiresAt})
}

func (ctrl *FileController) GetStorageStats(c *fiber.Ctx) error {
	stats, err := ctrl.FileService.GetStorageStats(c.UserContext())
	if err != nil {
		return ctrl.respondError(c, err)
	}
	return c.JSON(stats)
}
