package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	// Register WebP decoding for image.Decode; imaging only registers the
	// stdlib formats.
	_ "golang.org/x/image/webp"
)

const imageEncodeQuality = 85

// ImageWorker re-encodes raster images in-process. No external binary needed.
type ImageWorker struct{}

func NewImageWorker() *ImageWorker { return &ImageWorker{} }

func (w *ImageWorker) Convert(_ context.Context, req Request) (Result, error) {
	src, err := imaging.Decode(bytes.NewReader(req.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("decode image: %w", err)
	}
	req.report(50)

	buf := new(bytes.Buffer)
	mime, err := encodeImage(buf, src, req.TargetFormat)
	if err != nil {
		return Result{}, err
	}
	req.report(90)

	return Result{Data: buf.Bytes(), MIME: mime}, nil
}

func encodeImage(buf *bytes.Buffer, src image.Image, target string) (string, error) {
	switch target {
	case "jpg", "jpeg":
		if err := imaging.Encode(buf, src, imaging.JPEG, imaging.JPEGQuality(imageEncodeQuality)); err != nil {
			return "", fmt.Errorf("encode jpeg: %w", err)
		}
		return "image/jpeg", nil
	case "png":
		if err := imaging.Encode(buf, src, imaging.PNG); err != nil {
			return "", fmt.Errorf("encode png: %w", err)
		}
		return "image/png", nil
	case "gif":
		if err := imaging.Encode(buf, src, imaging.GIF); err != nil {
			return "", fmt.Errorf("encode gif: %w", err)
		}
		return "image/gif", nil
	case "bmp":
		if err := imaging.Encode(buf, src, imaging.BMP); err != nil {
			return "", fmt.Errorf("encode bmp: %w", err)
		}
		return "image/bmp", nil
	case "tif", "tiff":
		if err := imaging.Encode(buf, src, imaging.TIFF); err != nil {
			return "", fmt.Errorf("encode tiff: %w", err)
		}
		return "image/tiff", nil
	case "webp":
		if err := webp.Encode(buf, src, &webp.Options{Quality: imageEncodeQuality}); err != nil {
			return "", fmt.Errorf("encode webp: %w", err)
		}
		return "image/webp", nil
	default:
		return "", fmt.Errorf("%w: cannot encode images as %q", ErrUnsupportedFormat, target)
	}
}
