package fetch

import (
	"errors"
	"io"

	"github.com/t6/parfetch/internal/mirror"
	"github.com/t6/parfetch/internal/progress"
)

// copyBufSize matches the chunk size the initial verifier uses for its
// own reads; the same buffer size is reused here for consistency.
const copyBufSize = 64 * 1024

// ErrMaxSizeExceeded is returned when a transfer writes past the
// expected size, the analogue of curl's CURLOPT_MAXFILESIZE guard.
var ErrMaxSizeExceeded = errors.New("maximum file size exceeded")

// trackingWriter is the per-attempt write callback: on every byte
// batch it writes to the sink (if present), advances bytes_written,
// feeds the hasher, and notifies the progress reporter with the delta.
// A short sink write aborts the transfer.
type trackingWriter struct {
	attempt  *mirror.Attempt
	sink     io.Writer // nil in ephemeral makesum mode
	progress *progress.Reporter
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	if w.sink != nil {
		n, err := w.sink.Write(p)
		if err != nil {
			return n, err
		}
		if n != len(p) {
			return n, io.ErrShortWrite
		}
	}
	w.attempt.Hasher.Write(p)
	w.attempt.BytesWritten += int64(len(p))
	if w.progress != nil {
		w.progress.Add(int64(len(p)))
	}
	return len(p), nil
}

// limitingReader enforces maxSize by erroring once more than maxSize
// bytes have been read, the read-side equivalent of curl's maximum file
// size option. A negative limit disables the check.
type limitingReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (l *limitingReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 {
		l.read += int64(n)
		if l.limit >= 0 && l.read > l.limit {
			return n, ErrMaxSizeExceeded
		}
	}
	return n, err
}

// copyLimited streams src into dst in copyBufSize chunks, enforcing
// maxSize (pass -1 to disable).
func copyLimited(dst io.Writer, src io.Reader, maxSize int64) error {
	r := src
	if maxSize >= 0 {
		r = &limitingReader{r: src, limit: maxSize}
	}
	buf := make([]byte, copyBufSize)
	_, err := io.CopyBuffer(dst, r, buf)
	return err
}

// acceptableCode implements the response-code acceptance table:
// HTTP/HTTPS must be 200, FTP/FTPS must be 226.
func acceptableCode(protocol string, code int) bool {
	switch protocol {
	case "http", "https":
		return code == 200
	case "ftp", "ftps":
		return code == 226
	default:
		return false
	}
}
