package fetch

import (
	"context"
	"io"
	"net/http"
)

// fetchHTTP issues a single GET for rawURL, streaming the body through
// w (the trackingWriter), and returns the HTTP status code observed.
// Per spec.md §4.2's completion handling, a non-200 status is not
// itself a Go error — it is reported back to the caller, which consults
// the acceptance table to decide whether to treat it as a next-mirror
// "status <code>" condition.
func (o *Orchestrator) fetchHTTP(ctx context.Context, rawURL string, w io.Writer, maxSize int64) (code int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := copyLimited(w, resp.Body, maxSize); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}
