package imagebuf

import (
	"image"
	"image/draw"
)

// FromImage converts img to a Buffer. Gray images become one channel;
// everything else becomes non-premultiplied RGBA.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	switch src := img.(type) {
	case *image.Gray:
		pix := make([]uint8, w*h)
		for y := 0; y < h; y++ {
			start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(pix[y*w:(y+1)*w], src.Pix[start:start+w])
		}
		return wrap(w, h, 1, pix)
	case *image.NRGBA:
		return wrap(w, h, 4, nrgbaRows(src, bounds))
	default:
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
		return wrap(w, h, 4, dst.Pix)
	}
}

func nrgbaRows(src *image.NRGBA, bounds image.Rectangle) []uint8 {
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, w*h*4)
	for y := 0; y < h; y++ {
		start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		copy(pix[y*w*4:(y+1)*w*4], src.Pix[start:start+w*4])
	}
	return pix
}

// Image returns a standard library image backed by a copy of the samples.
// Three-channel buffers get an opaque alpha channel. Two-channel buffers are
// read as gray plus alpha.
func (b *Buffer) Image() image.Image {
	rect := image.Rect(0, 0, b.width, b.height)
	if b.channels == 1 {
		return &image.Gray{Pix: b.Samples(), Stride: b.width, Rect: rect}
	}

	dst := image.NewNRGBA(rect)
	n := b.width * b.height
	for i := 0; i < n; i++ {
		s := b.pix[i*b.channels : (i+1)*b.channels]
		d := dst.Pix[i*4 : i*4+4 : i*4+4]
		switch b.channels {
		case 2:
			d[0], d[1], d[2], d[3] = s[0], s[0], s[0], s[1]
		case 3:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], 0xff
		default:
			d[0], d[1], d[2], d[3] = s[0], s[1], s[2], s[3]
		}
	}
	return dst
}

// RGB returns b with any alpha channel dropped and gray expanded, so the
// result always has three channels.
func (b *Buffer) RGB() *Buffer {
	if b.channels == 3 {
		return b
	}
	n := b.width * b.height
	out := make([]uint8, n*3)
	for i := 0; i < n; i++ {
		s := b.pix[i*b.channels : (i+1)*b.channels]
		if b.channels < 3 {
			out[i*3], out[i*3+1], out[i*3+2] = s[0], s[0], s[0]
			continue
		}
		out[i*3], out[i*3+1], out[i*3+2] = s[0], s[1], s[2]
	}
	return wrap(b.width, b.height, 3, out)
}
