package civic

import "errors"

// Error taxonomy shared by the reconciliation and resolution paths.
// Conflicts are counted in reconcile reports, not raised as errors.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrLookupFailed  = errors.New("external lookup failed")
	ErrValidation    = errors.New("draft failed validation")
	ErrTimeout       = errors.New("operation timed out")
	ErrBatchTooLarge = errors.New("bulk request exceeds the address limit")
)
