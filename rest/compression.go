package rest

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errDecompressedTooLarge is returned once a response inflates past the limit.
var errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// Any further byte means the limit was really exceeded.
		var peek [1]byte
		for {
			n, err := r.reader.Read(peek[:])
			if n > 0 {
				return 0, errDecompressedTooLarge
			}
			if err != nil {
				return 0, err
			}
		}
	}
	if remaining := r.limit - r.consumed; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// limitedBody fails once more than limit bytes have been read.
type limitedBody struct {
	r     io.Reader
	limit int64
	read  int64
}

type maxBytesError struct{ limit int64 }

func (e *maxBytesError) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.limit)
}

func isMaxBytes(err error) bool {
	var mb *maxBytesError
	return errors.As(err, &mb)
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if l.read > l.limit {
		return 0, &maxBytesError{limit: l.limit}
	}
	if remaining := l.limit + 1 - l.read; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.limit {
		return n, &maxBytesError{limit: l.limit}
	}
	return n, err
}

// safeResponseReader enforces the compressed limit on the raw body and, for
// gzip responses, the decompressed limit on the inflated stream.
func safeResponseReader(resp *http.Response, limits Limits) (io.Reader, func(), error) {
	maxBody := limits.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultLimits().MaxBodyBytes
	}
	maxDecompressed := limits.MaxDecompressedBytes
	if maxDecompressed <= 0 {
		maxDecompressed = DefaultLimits().MaxDecompressedBytes
	}

	if resp.ContentLength > maxBody {
		return nil, func() {}, &maxBytesError{limit: maxBody}
	}
	body := &limitedBody{r: resp.Body, limit: maxBody}

	encoding := strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return body, func() {}, nil
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, func() {}, fmt.Errorf("invalid gzip data: %w", err)
		}
		return &maxDecompressedReader{reader: gz, limit: maxDecompressed}, func() { gz.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
}
