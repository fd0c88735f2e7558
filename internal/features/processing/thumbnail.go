package processing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	thumbnailQuality = 85
	svgMime          = "image/svg+xml"
)

// ErrImageTooLarge is returned for rasters whose declared dimensions exceed
// the pixel budget. Such images are never decoded.
var ErrImageTooLarge = errors.New("image exceeds pixel budget")

type thumbnailOptions struct {
	bound     int
	maxPixels int64
}

// fitWithin scales w×h down to fit a bound×bound box, keeping the aspect
// ratio. Images already inside the box keep their size.
func fitWithin(w, h, bound int) (int, int) {
	if w <= bound && h <= bound {
		return w, h
	}
	if w >= h {
		return bound, max(1, h*bound/w)
	}
	return max(1, w*bound/h), bound
}

// renderThumbnail returns a JPEG preview of the image in r plus its
// dimensions. SVG documents are rasterized straight at the target size.
func renderThumbnail(r io.Reader, opts thumbnailOptions) ([]byte, image.Point, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, image.Point{}, fmt.Errorf("read image: %w", err)
	}

	var dst *image.RGBA
	if mimetype.Detect(data).Is(svgMime) {
		dst, err = rasterizeSVG(data, opts.bound)
	} else {
		dst, err = scaleRaster(data, opts)
	}
	if err != nil {
		return nil, image.Point{}, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, image.Point{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), dst.Bounds().Size(), nil
}

func scaleRaster(data []byte, opts thumbnailOptions) (*image.RGBA, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: empty %s", format)
	}
	if opts.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > opts.maxPixels {
		return nil, fmt.Errorf("%w: %s is %dx%d, limit %d pixels",
			ErrImageTooLarge, format, cfg.Width, cfg.Height, opts.maxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	sb := src.Bounds()
	tw, th := fitWithin(sb.Dx(), sb.Dy(), opts.bound)

	dst := whiteCanvas(tw, th)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	return dst, nil
}

// rasterizeSVG renders the document into the thumbnail box. A document
// without a usable viewBox is drawn into the full box.
func rasterizeSVG(data []byte, bound int) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode svg: %w", err)
	}

	tw, th := bound, bound
	if w, h := int(icon.ViewBox.W), int(icon.ViewBox.H); w > 0 && h > 0 {
		tw, th = fitWithin(w, h, bound)
	}

	dst := whiteCanvas(tw, th)
	scanner := rasterx.NewScannerGV(tw, th, dst, dst.Bounds())
	icon.SetTarget(0, 0, float64(tw), float64(th))
	icon.Draw(rasterx.NewDasher(tw, th, scanner), 1.0)
	return dst, nil
}

// JPEG has no alpha channel, so previews are flattened onto white.
func whiteCanvas(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	return dst
}
