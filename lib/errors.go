package harborseal

import "errors"

// Error taxonomy shared across the core. Services wrap these sentinels with
// document/operation context so callers can branch with errors.Is.
var (
	// ErrInvalidInput marks a user-correctable problem with a path or file
	// type. Surfaced immediately, never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a missing document record.
	ErrNotFound = errors.New("document not found")

	// ErrIndexNotFound marks a Load against a collection that does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrProvider marks an upstream embedding/generation/index outage.
	ErrProvider = errors.New("provider failure")

	// ErrIngestion marks a composite failure during a multi-step ingest
	// after partial state has been rolled back.
	ErrIngestion = errors.New("ingestion failed")

	// ErrQuery marks a generation failure during a conversational query.
	// History is left unmodified.
	ErrQuery = errors.New("query failed")
)
