//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/sepiatone/internal/imagebuf"
)

type govipsCodec struct{}

func (govipsCodec) Decode(data []byte) (*imagebuf.Buffer, string, error) {
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return nil, "", fmt.Errorf("%w: auto-rotate: %v", ErrDecode, err)
	}

	// libvips hands pixels over as PNG so the bridge stays lossless.
	raw, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return imagebuf.FromImage(decoded), formatFromVips(vips.DetermineImageType(data)), nil
}

func (govipsCodec) Encode(buf *imagebuf.Buffer, format string, quality int) ([]byte, error) {
	var img image.Image = buf.Image()
	if format == "jpeg" {
		img = buf.RGB().Image()
	}

	var raw bytes.Buffer
	if err := png.Encode(&raw, img); err != nil {
		return nil, fmt.Errorf("stage pixels for libvips: %w", err)
	}
	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load pixels into libvips: %w", err)
	}
	defer ref.Close()

	return exportGovipsImage(ref, format, quality)
}

func formatFromVips(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypePNG:
		return "png"
	default:
		return "jpeg"
	}
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = DefaultJPEGQuality
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, format)
	}
}
