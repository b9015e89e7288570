package pipeline

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/sepiatone/internal/imagebuf"
	_ "golang.org/x/image/webp"
)

type imagingCodec struct{}

func (imagingCodec) Decode(data []byte) (*imagebuf.Buffer, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return imagebuf.FromImage(img), format, nil
}

func (imagingCodec) Encode(buf *imagebuf.Buffer, format string, quality int) ([]byte, error) {
	var out bytes.Buffer

	switch format {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = DefaultJPEGQuality
		}
		if err := imaging.Encode(&out, buf.RGB().Image(), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		if err := imaging.Encode(&out, buf.Image(), imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "webp":
		return nil, fmt.Errorf("%w: webp export requires govips build tag", ErrUnsupportedOutputFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, format)
	}

	return out.Bytes(), nil
}
