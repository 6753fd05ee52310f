package fetch

import (
	"context"
	"io"
	"net/url"

	"github.com/jlaffaye/ftp"
)

// ftpSuccessCode is the FTP "closing data connection" reply expected
// for a successful FTP/FTPS transfer. jlaffaye/ftp doesn't surface the
// raw numeric reply on the happy path, so fetchFTP reports it
// synthetically once Retr and the full body copy both succeed.
const ftpSuccessCode = 226

// fetchFTP dials, authenticates, and RETRs rawURL, streaming the
// response through w. A fresh control connection is used per attempt;
// connections are never reused or cached across mirrors.
func (o *Orchestrator) fetchFTP(ctx context.Context, rawURL string, w io.Writer, maxSize int64) (code int, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, err
	}

	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "ftps" {
			host += ":990"
		} else {
			host += ":21"
		}
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if u.Scheme == "ftps" {
		opts = append(opts, ftp.DialWithExplicitTLS(o.tlsConfig))
	}

	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous@"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, err
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return 0, err
	}
	defer resp.Close()

	if err := copyLimited(w, resp, maxSize); err != nil {
		return 0, err
	}
	return ftpSuccessCode, nil
}
