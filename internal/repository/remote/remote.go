package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/util"
)

const (
	headerETag            = "ETag"
	headerLastModified    = "Last-Modified"
	headerContentLength   = "Content-Length"
	headerAcceptEncoding  = "Accept-Encoding"
	encodingIdentity      = "identity"
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
)

type remoteRepository struct {
	url          string
	cl           *http.Client
	probeTimeout time.Duration
	log          *slog.Logger
}

// NewHTTPClient returns a client without an overall deadline so large archives
// are not cut off; only connection setup and response headers are bounded.
func NewHTTPClient(dialTimeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			MaxIdleConns:          4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

func NewRemoteRepository(url string, cl *http.Client, probeTimeout time.Duration, log *slog.Logger) *remoteRepository {
	if cl == nil {
		cl = http.DefaultClient
	}

	return &remoteRepository{
		url:          url,
		cl:           cl,
		probeTimeout: probeTimeout,
		log:          log.With(slog.String("item", "RemoteRepository")),
	}
}

// Signature issues a HEAD request and returns the archive signature.
func (r *remoteRepository) Signature(ctx context.Context) (string, error) {
	if r.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
	}

	resp, err := r.do(ctx, http.MethodHead)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return SignatureFromResponse(resp), nil
}

// Download streams the archive into w and returns the signature of the response.
// progress receives the number of bytes received so far and the expected total
// (0 when the server does not send Content-Length).
func (r *remoteRepository) Download(ctx context.Context, w io.Writer, progress func(received, total int64)) (string, error) {
	resp, err := r.do(ctx, http.MethodGet)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	pw := &util.ProgressWriter{W: w}
	if progress != nil {
		pw.OnWrite = func(written int64) { progress(written, total) }
	}

	n, err := io.Copy(pw, resp.Body)
	metrics.AddBytesDownloaded(n)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", fmt.Errorf("%w: cannot read archive body: %w", common.ErrNetwork, err)
	}

	r.log.Debug("Archive downloaded", slog.Int64("bytes", n))

	return SignatureFromResponse(resp), nil
}

func (r *remoteRepository) do(ctx context.Context, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create %s request: %w", common.ErrNetwork, method, err)
	}
	req.Header.Set(headerAcceptEncoding, encodingIdentity)

	resp, err := r.cl.Do(req)
	if err != nil {
		if ctx.Err() != nil && method == http.MethodGet {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: %s %s: %w", common.ErrNetwork, method, r.url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()

		return nil, fmt.Errorf("%w: %s %s: unexpected status %d", common.ErrNetwork, method, r.url, resp.StatusCode)
	}

	return resp, nil
}

// SignatureFromResponse picks the first non-empty of ETag, Last-Modified and Content-Length.
func SignatureFromResponse(resp *http.Response) string {
	if v := resp.Header.Get(headerETag); v != "" {
		return v
	}

	if v := resp.Header.Get(headerLastModified); v != "" {
		return v
	}

	if v := resp.Header.Get(headerContentLength); v != "" {
		return v
	}

	if resp.ContentLength > 0 {
		return strconv.FormatInt(resp.ContentLength, 10)
	}

	return ""
}
