package imagebuf

// FromBGR builds an RGB(A) buffer from BGR(A) samples, the layout OpenCV
// style collaborators produce. Single-channel data is taken as is.
func FromBGR(width, height, channels int, pix []uint8) (*Buffer, error) {
	if err := checkGeometry(width, height, channels, len(pix)); err != nil {
		return nil, err
	}
	out := make([]uint8, len(pix))
	copy(out, pix)
	swapRB(out, channels)
	return wrap(width, height, channels, out), nil
}

// BGR returns a copy of the samples with red and blue swapped.
func (b *Buffer) BGR() []uint8 {
	out := b.Samples()
	swapRB(out, b.channels)
	return out
}

func swapRB(pix []uint8, channels int) {
	if channels < 3 {
		return
	}
	for i := 0; i+2 < len(pix); i += channels {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
