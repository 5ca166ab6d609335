// Package oifits provides cross-file data fusion for OIFITS interferometric
// observations.
//
// Files are registries of typed tables (targets, arrays, wavelengths,
// correlations and measurements). A Collection analyses many files into
// granules keyed by target, instrument mode and night. A Selector filters
// the collection into a SelectorResult, and a Merger rebuilds the selected
// measurements as a single self-consistent File.
//
// Persistence is pluggable: an Archive combines a Store, a Codec and a
// Compressor to load and write files.
package oifits

import (
	"context"
	"io"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store holds archived file payloads by slash-separated path. The fs and
// memory stores live here; package s3 adds an object-store backend.
type Store interface {
	// Put stores r at path, failing with ErrPathExists when path is taken.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get opens path, or fails with ErrNotFound.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	Exists(ctx context.Context, path string) (bool, error)

	// List returns the sorted paths under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes path. Missing paths are not an error.
	Delete(ctx context.Context, path string) error
}

// StoreFactory creates a Store on demand.
type StoreFactory func() (Store, error)

// -----------------------------------------------------------------------------
// Codec interface
// -----------------------------------------------------------------------------

// Codec handles serialization and deserialization of archived files.
//
// Codecs are pluggable and orthogonal to storage and compression.
type Codec interface {
	// Name returns the codec identifier (for example, "jsonl").
	Name() string

	// Encode writes the document to the given writer.
	Encode(w io.Writer, doc *Document) error

	// Decode reads a document from the given reader.
	Decode(r io.Reader) (*Document, error)
}

// -----------------------------------------------------------------------------
// Compressor interface
// -----------------------------------------------------------------------------

// Compressor wraps archive payload streams.
type Compressor interface {
	// Name is recorded in the archive header: "noop", "gzip" or "zstd".
	Name() string

	// Extension is the conventional path suffix, such as ".zst".
	Extension() string

	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Loading and validation
// -----------------------------------------------------------------------------

// Loader produces a File from a path.
type Loader interface {
	Load(ctx context.Context, path string) (*File, error)
}

// FileWriter persists a File at a path.
type FileWriter interface {
	Write(ctx context.Context, path string, f *File) error
}

// Validator runs extra checks on a File. File.Check always adds the
// cross-reference rules on top of whatever the validator reports.
type Validator interface {
	Validate(f *File) *Report
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(f *File) *Report

// Validate calls fn(f).
func (fn ValidatorFunc) Validate(f *File) *Report { return fn(f) }

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Store sentinels.
var (
	// ErrNotFound is returned when an archive path does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists is returned when writing over an archived file.
	ErrPathExists = errPathExists{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }
