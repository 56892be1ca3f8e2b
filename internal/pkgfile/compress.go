package pkgfile

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Decompress wraps r with the decoder for a named compression scheme.
// The returned closer releases decoder resources, never the underlying reader.
func Decompress(name string, r io.Reader) (io.Reader, func(), error) {
	switch name {
	case "gzip", "gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case "xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open xz stream: %w", err)
		}
		return xr, func() {}, nil
	case "zstd", "zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr.IOReadCloser(), zr.Close, nil
	case "", "uncompressed":
		return r, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unsupported compression %q", name)
}
