package account

import "errors"

var (
	ErrInvalidLimit = errors.New("limit must be between 1 and 100")
	ErrInternal     = errors.New("internal error")
)
