package attention

import "errors"

// ErrUnsupportedConfig is wrapped by every construction-time rejection so the
// engine can fail backend initialization before any request is admitted.
var ErrUnsupportedConfig = errors.New("unsupported attention configuration")

// ErrUnsupportedOperation is wrapped by capabilities this backend declares
// unsupported (cross-device block migration, fused output scaling).
var ErrUnsupportedOperation = errors.New("unsupported attention operation")
