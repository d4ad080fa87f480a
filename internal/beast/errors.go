package beast

import "errors"

var errLivenessTimeout = errors.New("beast: no status message within liveness interval")
