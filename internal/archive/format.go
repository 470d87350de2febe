package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format identifies the outer compression wrapping an archive.
type Format string

const (
	FormatNone Format = "none"
	FormatGzip Format = "gzip"
	FormatZstd Format = "zstd"
	FormatLZ4  Format = "lz4"
)

// Magic byte prefixes for each supported compression container.
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case FormatNone, FormatGzip, FormatZstd, FormatLZ4:
		return Format(name), nil
	case "":
		return FormatGzip, nil
	default:
		return "", fmt.Errorf("unsupported archive compression %q (none, gzip, zstd, lz4)", name)
	}
}

// Extension returns the conventional file suffix for archives in this format.
func (f Format) Extension() string {
	switch f {
	case FormatGzip:
		return ".tar.gz"
	case FormatZstd:
		return ".tar.zst"
	case FormatLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

// DetectFormat sniffs the compression container from the stream's
// leading bytes. The returned reader replays the peeked bytes.
func DetectFormat(r io.Reader) (Format, io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return "", nil, err
	}

	switch {
	case len(head) >= 2 && bytes.Equal(head[:2], magicGzip):
		return FormatGzip, br, nil
	case len(head) >= 4 && bytes.Equal(head, magicZstd):
		return FormatZstd, br, nil
	case len(head) >= 4 && bytes.Equal(head, magicLZ4):
		return FormatLZ4, br, nil
	default:
		return FormatNone, br, nil
	}
}

// compressWriter wraps w in the format's compressing writer. The
// returned closer must be closed before the underlying file.
func compressWriter(w io.Writer, format Format, level int) (io.WriteCloser, error) {
	switch format {
	case FormatGzip:
		if level == 0 {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(w, level)
	case FormatZstd:
		encoderLevel := zstd.SpeedDefault
		switch {
		case level <= 1 && level > 0:
			encoderLevel = zstd.SpeedFastest
		case level > 6:
			encoderLevel = zstd.SpeedBestCompression
		case level > 3:
			encoderLevel = zstd.SpeedBetterCompression
		}
		return zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel))
	case FormatLZ4:
		lw := lz4.NewWriter(w)
		if level > 6 {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, err
			}
		}
		return lw, nil
	case FormatNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported archive compression %q", format)
	}
}

// decompressReader wraps r in the format's decompressing reader.
func decompressReader(r io.Reader, format Format) (io.Reader, func(), error) {
	switch format {
	case FormatGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { gr.Close() }, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr.IOReadCloser(), func() { zr.Close() }, nil
	case FormatLZ4:
		return lz4.NewReader(r), func() {}, nil
	case FormatNone:
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported archive compression %q", format)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
