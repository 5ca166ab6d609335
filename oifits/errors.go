package oifits

import "errors"

var (
	// ErrTargetExists is returned when a second target table is registered
	// in the same file.
	ErrTargetExists = errors.New("target table already registered")

	// ErrTableRegistered is returned when a table already belongs to a file.
	ErrTableRegistered = errors.New("table already registered")

	// ErrUnknownKind is returned for an extension name outside the table model.
	ErrUnknownKind = errors.New("unknown table kind")

	// ErrSchemaViolation indicates a column or keyword that does not fit its table.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrInvalidWavelength indicates a non-positive or NaN wavelength.
	ErrInvalidWavelength = errors.New("invalid wavelength")

	// ErrInvalidRange indicates a malformed range list.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidFilter indicates a filter name and value type that do not fit.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrMergerDone is returned when a Merger is asked to process twice.
	ErrMergerDone = errors.New("merger already processed")

	// ErrInvalidFormat indicates an archive that cannot be decoded.
	ErrInvalidFormat = errors.New("invalid archive format")
)
