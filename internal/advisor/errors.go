package advisor

import "errors"

var (
	ErrProviderUnavailable = errors.New("advisor unavailable")
	ErrTimeout             = errors.New("advisor timeout")
	ErrInvalidResponse     = errors.New("advisor returned invalid response")
)
