// Package compression provides streaming codecs for files written by the
// sync stores and exporters.
//
// # Algorithm Selection
//
//   - Snappy/S2: fastest, moderate ratio
//   - LZ4: very fast, decent ratio
//   - Zstd: best ratio, good speed
//   - Gzip: readable everywhere (zcat, jq, spreadsheets)
//
// # Basic Usage
//
//	alg, err := compression.Parse("zstd")
//	w, err := compression.NewWriter(alg, file, compression.Default)
//	defer w.Close()
//
//	r, err := compression.NewReader(alg, file)
//	defer r.Close()
package compression

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/discordwell/cliaas/pkg/errors"
)

// Algorithm names a compression codec
type Algorithm string

const (
	None   Algorithm = "none"
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
	LZ4    Algorithm = "lz4"
	Zstd   Algorithm = "zstd"
	S2     Algorithm = "s2"
)

// Level trades speed for ratio
type Level int

const (
	Fastest Level = 1
	Default Level = 5
	Better  Level = 7
	Best    Level = 9
)

// Parse resolves a configured algorithm name. Empty means None.
func Parse(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	case "gz":
		return Gzip, nil
	case "zst", "zstandard":
		return Zstd, nil
	default:
		return None, errors.Newf(errors.ErrorTypeConfig, "compression: unknown algorithm %q", name)
	}
}

// Extension is the file suffix for a, empty for None
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	default:
		return ""
	}
}

// Enabled reports whether a actually compresses
func (a Algorithm) Enabled() bool { return a != "" && a != None }

// NewWriter wraps w. Closing the result flushes the codec but leaves w open.
func NewWriter(a Algorithm, w io.Writer, level Level) (io.WriteCloser, error) {
	switch a {
	case "", None:
		return nopWriteCloser{w}, nil
	case Gzip:
		gz, err := gzip.NewWriterLevel(w, mapGzipLevel(level))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "compression: failed to create gzip writer")
		}
		return gz, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case S2:
		return s2.NewWriter(w), nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "compression: failed to configure lz4 writer")
		}
		return lw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "compression: failed to create zstd writer")
		}
		return zw, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "compression: unknown algorithm %q", a)
	}
}

// NewReader wraps r. Closing the result releases codec state but leaves r open.
func NewReader(a Algorithm, r io.Reader) (io.ReadCloser, error) {
	switch a {
	case "", None:
		return io.NopCloser(r), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "compression: invalid gzip stream")
		}
		return gz, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "compression: invalid zstd stream")
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "compression: unknown algorithm %q", a)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
