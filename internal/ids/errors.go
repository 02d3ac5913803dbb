package ids

import "errors"

var errExhausted = errors.New("ids: sequence exhausted")
