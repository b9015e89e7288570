package pipeline

import "errors"

var (
	ErrEmptyImage              = errors.New("image has zero width or height")
	ErrUnsupportedChannelCount = errors.New("unsupported channel count")
	ErrInvalidPercentage       = errors.New("resize percentage must be positive")
	ErrDegenerateTarget        = errors.New("resize target has a zero dimension")
	ErrDecode                  = errors.New("decode source image")
	ErrUnsupportedSourceType   = errors.New("unsupported source_type")
	ErrInvalidStepAction       = errors.New("invalid pipeline action")
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
)

// IsInputError reports whether err comes from a bad image or step rather
// than from infrastructure. Retrying such errors cannot succeed.
func IsInputError(err error) bool {
	for _, target := range []error{
		ErrEmptyImage,
		ErrUnsupportedChannelCount,
		ErrInvalidPercentage,
		ErrDegenerateTarget,
		ErrDecode,
		ErrUnsupportedSourceType,
		ErrInvalidStepAction,
		ErrUnsupportedOutputFormat,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
