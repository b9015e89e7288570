//go:build !govips || !cgo

package pipeline

// CodecName reports which codec NewTransformer builds.
const CodecName = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newCodec() (Codec, error) {
	return imagingCodec{}, nil
}
