package capture

import "errors"

var (
	ErrClosed           = errors.New("capture: closed")
	ErrPipelineStart    = errors.New("capture: pipeline failed to start")
	ErrUnsupportedCodec = errors.New("capture: unsupported codec")
)
