package httpparse

import "errors"

var (
	errNoRequest      = errors.New("httpparse: no request to parse")
	errBadRequestLine = errors.New("httpparse: malformed request line")
	errBadHeaderLine  = errors.New("httpparse: malformed header line")
	errBadBody        = errors.New("httpparse: malformed body")
)
