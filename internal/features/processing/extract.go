package processing

import (
	"bytes"
	"image"
	"image/color"
	"time"

	"go-evidence/internal/features/file"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// headLimit is how much of the blob is read for sniffing and embedded
// attributes. EXIF lives in the first segments of a JPEG.
const headLimit = 1 << 20

// exifAllowlist is the only embedded metadata ever copied onto a record.
// Location and owner fields stay out.
var exifAllowlist = map[exif.FieldName]string{
	exif.DateTimeOriginal: "captured_at",
	exif.Make:             "camera_make",
	exif.Model:            "camera_model",
	exif.Software:         "software",
	exif.ColorSpace:       "color_space",
	exif.PixelXDimension:  "pixel_x_dimension",
	exif.PixelYDimension:  "pixel_y_dimension",
}

// extractAttributes builds the attribute bag and the sniffed MIME type from
// the leading bytes of the blob.
func extractAttributes(rec *file.FileRecord, head []byte) (map[string]any, string) {
	attrs := map[string]any{
		"size_bytes": rec.SizeBytes,
		"mime_type":  rec.MimeType,
		"extension":  rec.Extension,
		"category":   string(rec.Category),
		"created_at": rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	detected := mimetype.Detect(head).String()

	if rec.Category != file.CategoryImage {
		return attrs, detected
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(head)); err == nil {
		attrs["width"] = cfg.Width
		attrs["height"] = cfg.Height
		attrs["format"] = format
		attrs["color_model"] = colorModelName(cfg.ColorModel)
	}
	for k, v := range embeddedAttributes(head) {
		attrs[k] = v
	}
	return attrs, detected
}

func embeddedAttributes(head []byte) (out map[string]any) {
	defer func() {
		// malformed EXIF must not fail the step
		if recover() != nil {
			out = nil
		}
	}()

	x, err := exif.Decode(bytes.NewReader(head))
	if err != nil {
		return nil
	}
	out = make(map[string]any)
	for field, key := range exifAllowlist {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		switch tag.Format() {
		case tiff.StringVal:
			if s, err := tag.StringVal(); err == nil {
				out[key] = s
			}
		case tiff.IntVal:
			if n, err := tag.Int(0); err == nil {
				out[key] = n
			}
		}
	}
	return out
}

func colorModelName(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "paletted"
	}
	switch m {
	case color.RGBAModel, color.RGBA64Model:
		return "rgba"
	case color.NRGBAModel, color.NRGBA64Model:
		return "nrgba"
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	}
	return "other"
}
