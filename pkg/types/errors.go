package types

import "errors"

// Error kinds surfaced by publish and fetch. Callers match them with errors.Is;
// the concrete error usually wraps one of these with more context.
var (
	ErrSourceNotFound             = errors.New("source not found")
	ErrMalformedTicket            = errors.New("malformed ticket")
	ErrPeerUnreachable            = errors.New("peer unreachable")
	ErrStagingCreateFailed        = errors.New("failed to create staging directory")
	ErrDestinationExists          = errors.New("destination already exists")
	ErrTransferVerificationFailed = errors.New("transfer verification failed")
	ErrCancelled                  = errors.New("operation cancelled")
)
