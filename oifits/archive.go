package oifits

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Archive loads and writes files through a Store, a Codec and a Compressor.
// It implements Loader and FileWriter.
type Archive struct {
	store      Store
	codec      Codec
	compressor Compressor
	log        *slog.Logger
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithCodec sets the codec. Defaults to JSONL.
func WithCodec(c Codec) ArchiveOption {
	return func(a *Archive) { a.codec = c }
}

// WithCompressor sets the compressor. Defaults to noop.
func WithCompressor(c Compressor) ArchiveOption {
	return func(a *Archive) { a.compressor = c }
}

// WithArchiveLogger sets the archive logger.
func WithArchiveLogger(l *slog.Logger) ArchiveOption {
	return func(a *Archive) {
		if l != nil {
			a.log = l
		}
	}
}

// NewArchive opens the store of factory.
func NewArchive(factory StoreFactory, opts ...ArchiveOption) (*Archive, error) {
	if factory == nil {
		return nil, errors.New("oifits: store factory is required")
	}
	store, err := factory()
	if err != nil {
		return nil, fmt.Errorf("oifits: open store: %w", err)
	}
	if store == nil {
		return nil, errors.New("oifits: store factory returned nil")
	}
	a := &Archive{
		store:      store,
		codec:      NewJSONLCodec(),
		compressor: NewNoOpCompressor(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.codec == nil || a.compressor == nil {
		return nil, errors.New("oifits: codec and compressor are required")
	}
	return a, nil
}

// Store returns the underlying store.
func (a *Archive) Store() Store { return a.store }

// List returns the archive paths under prefix.
func (a *Archive) List(ctx context.Context, prefix string) ([]string, error) {
	return a.store.List(ctx, prefix)
}

// Write encodes f and stores it at path. Existing paths are never
// overwritten.
func (a *Archive) Write(ctx context.Context, path string, f *File) error {
	if exists, err := a.store.Exists(ctx, path); err != nil {
		return fmt.Errorf("oifits: write %s: %w", path, err)
	} else if exists {
		return fmt.Errorf("oifits: write %s: %w", path, ErrPathExists)
	}

	var buf bytes.Buffer
	if err := a.Encode(&buf, f); err != nil {
		return fmt.Errorf("oifits: write %s: %w", path, err)
	}
	size := buf.Len()
	if err := a.store.Put(ctx, path, &buf); err != nil {
		return fmt.Errorf("oifits: write %s: %w", path, err)
	}
	a.log.Debug("archive written", "path", path, "tables", len(f.tables), "bytes", size)
	return nil
}

// Encode writes f, compressed, to w.
func (a *Archive) Encode(w io.Writer, f *File) error {
	doc := &Document{
		Header: Header{
			SchemaName:    ArchiveSchemaName,
			FormatVersion: ArchiveFormatVersion,
			ID:            uuid.NewString(),
			CreatedAt:     time.Now().UTC(),
			TableCount:    len(f.tables),
			Codec:         a.codec.Name(),
			Compressor:    a.compressor.Name(),
		},
	}
	for _, t := range f.tables {
		doc.Tables = append(doc.Tables, tableToRecord(t))
	}

	cw, err := a.compressor.Compress(w)
	if err != nil {
		return err
	}
	if err := a.codec.Encode(cw, doc); err != nil {
		_ = cw.Close()
		return err
	}
	return cw.Close()
}

// Load reads the file stored at path.
func (a *Archive) Load(ctx context.Context, path string) (*File, error) {
	rc, err := a.store.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("oifits: load %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()

	f, err := a.Decode(rc, path)
	if err != nil {
		return nil, fmt.Errorf("oifits: load %s: %w", path, err)
	}
	return f, nil
}

// Decode reads a compressed archive from r into a file recorded at path.
func (a *Archive) Decode(r io.Reader, path string) (*File, error) {
	dr, err := a.compressor.Decompress(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	defer func() { _ = dr.Close() }()

	doc, err := a.codec.Decode(dr)
	if err != nil {
		return nil, err
	}
	h := doc.Header
	switch {
	case h.SchemaName != ArchiveSchemaName:
		return nil, fmt.Errorf("%w: schema %q", ErrInvalidFormat, h.SchemaName)
	case h.Codec != a.codec.Name():
		return nil, fmt.Errorf("%w: written with codec %q, reading with %q", ErrInvalidFormat, h.Codec, a.codec.Name())
	case h.TableCount != len(doc.Tables):
		return nil, fmt.Errorf("%w: header announces %d tables, found %d", ErrInvalidFormat, h.TableCount, len(doc.Tables))
	}

	f := NewFile(WithPath(path), WithFileLogger(a.log))
	for _, rec := range doc.Tables {
		t, err := recordToTable(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
		if err := f.Register(t); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}
	}
	return f, nil
}
