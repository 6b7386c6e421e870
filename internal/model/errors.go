package model

import "errors"

// Error taxonomy shared by the client side. Wrap with fmt.Errorf("%w: ...")
// and match with errors.Is.
var (
	// ErrConfiguration marks a missing token or base URL. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport marks a failed REST or stream call.
	ErrTransport = errors.New("transport error")
	// ErrParse marks a malformed inbound event or history payload.
	ErrParse = errors.New("parse error")
	// ErrJobFailed marks a job the server reported as failed.
	ErrJobFailed = errors.New("job failed")
)
