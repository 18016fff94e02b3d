// Package compression encodes and decodes HTTP payload bodies.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression. This is what the ingest API expects.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses snappy block compression.
	TypeSnappy Type = "snappy"
	// TypeZlib uses zlib compression.
	TypeZlib Type = "zlib"
	// TypeDeflate uses raw deflate compression.
	TypeDeflate Type = "deflate"
)

// Level represents an algorithm-specific compression level. Zero selects
// the algorithm default.
type Level int

const (
	LevelDefault Level = 0
	LevelFastest Level = 1
	LevelBest    Level = 9
)

// Config holds compression configuration.
type Config struct {
	Type  Type
	Level Level
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "identity":
		return TypeNone, nil
	case "gzip", "x-gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "zlib":
		return TypeZlib, nil
	case "deflate":
		return TypeDeflate, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for the type.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate:
		return string(t)
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value to a type.
// Unknown encodings map to TypeNone.
func ParseContentEncoding(encoding string) Type {
	t, err := ParseType(encoding)
	if err != nil {
		return TypeNone
	}
	return t
}

var gzipWriters sync.Pool

func getGzipWriter(w io.Writer, level Level) (*gzip.Writer, error) {
	if level == LevelDefault {
		if gw, ok := gzipWriters.Get().(*gzip.Writer); ok {
			poolGets.Inc()
			gw.Reset(w)
			return gw, nil
		}
		poolMisses.Inc()
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	}
	return gzip.NewWriterLevel(w, int(level))
}

func putGzipWriter(gw *gzip.Writer, level Level) {
	if level == LevelDefault {
		gw.Reset(io.Discard)
		gzipWriters.Put(gw)
	}
}

// Compress compresses data using the configured type and level.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if cfg.Type == TypeNone || cfg.Type == "" {
		return data, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	var err error
	switch cfg.Type {
	case TypeGzip:
		err = compressGzip(&buf, data, cfg.Level)
	case TypeZstd:
		err = compressZstd(&buf, data, cfg.Level)
	case TypeSnappy:
		out := snappy.Encode(nil, data)
		recordRatio(cfg.Type, len(data), len(out))
		return out, nil
	case TypeZlib:
		err = compressWith(&buf, data, func(w io.Writer) (io.WriteCloser, error) {
			return zlib.NewWriterLevel(w, levelOr(cfg.Level, zlib.DefaultCompression))
		})
	case TypeDeflate:
		err = compressWith(&buf, data, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, levelOr(cfg.Level, flate.DefaultCompression))
		})
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	recordRatio(cfg.Type, len(data), buf.Len())
	return buf.Bytes(), nil
}

// ErrTooLarge is returned by DecompressLimit when the decoded payload
// exceeds the limit.
var ErrTooLarge = errors.New("decompressed payload exceeds limit")

// Decompress reverses Compress for the given type.
func Decompress(data []byte, t Type) ([]byte, error) {
	return DecompressLimit(data, t, 0)
}

// DecompressLimit is Decompress with an upper bound on the decoded size.
// A limit of zero or less means no bound.
func DecompressLimit(data []byte, t Type, limit int64) ([]byte, error) {
	switch t {
	case TypeNone, "":
		if limit > 0 && int64(len(data)) > limit {
			return nil, ErrTooLarge
		}
		return data, nil
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return readLimited(gr, limit)
	case TypeZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		return readLimited(dec, limit)
	case TypeSnappy:
		if limit > 0 {
			n, err := snappy.DecodedLen(data)
			if err != nil {
				return nil, err
			}
			if int64(n) > limit {
				return nil, ErrTooLarge
			}
		}
		return snappy.Decode(nil, data)
	case TypeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		defer zr.Close()
		return readLimited(zr, limit)
	case TypeDeflate:
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		return readLimited(fr, limit)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, ErrTooLarge
	}
	return out, nil
}

func levelOr(level Level, def int) int {
	if level == LevelDefault {
		return def
	}
	return int(level)
}

func compressGzip(w io.Writer, data []byte, level Level) error {
	gw, err := getGzipWriter(w, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	putGzipWriter(gw, level)
	return nil
}

func compressZstd(w io.Writer, data []byte, level Level) error {
	zl := zstd.SpeedDefault
	switch {
	case level == LevelDefault:
	case level <= LevelFastest:
		zl = zstd.SpeedFastest
	case level >= LevelBest:
		zl = zstd.SpeedBestCompression
	default:
		zl = zstd.SpeedBetterCompression
	}
	return compressWith(w, data, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zl))
	})
}

func compressWith(w io.Writer, data []byte, open func(io.Writer) (io.WriteCloser, error)) error {
	cw, err := open(w)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	if _, err := cw.Write(data); err != nil {
		return fmt.Errorf("failed to write compressed data: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	return nil
}
