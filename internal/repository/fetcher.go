package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

// RetryConfig configures retry behavior for transient fetch errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// Fetcher downloads repository metadata and package files over HTTP,
// retrying transient failures with exponential backoff.
type Fetcher struct {
	client *http.Client
	config *RetryConfig
}

// NewFetcher creates a Fetcher with the given retry configuration.
// A nil config selects DefaultRetryConfig.
func NewFetcher(cfg *RetryConfig) *Fetcher {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		config: cfg,
	}
}

// SetTimeout overrides the HTTP client's total request timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	f.client.Timeout = d
}

// httpError carries the status code of a failed response so retry logic
// can distinguish server-side failures from client mistakes.
type httpError struct {
	status int
	url    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.status, e.url)
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *httpError
	if errors.As(err, &he) {
		return he.status >= 500 || he.status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if kind := errdefs.KindOf(err); kind != errdefs.KindUnknown {
		return kind == errdefs.KindNetwork
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	base := float64(f.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(f.config.MaxBackoff) {
		base = float64(f.config.MaxBackoff)
	}
	jitter := base * f.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (f *Fetcher) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < f.config.MaxRetries {
			if err := sleep(ctx, f.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return errdefs.Wrap(errdefs.KindNetwork, lastErr,
		"%s failed after %d retries", operation, f.config.MaxRetries)
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &httpError{status: resp.StatusCode, url: url}
	}
	return resp, nil
}

// Get fetches a URL and returns the body, retrying transient failures.
// A 404 is reported as a NotFound error so parsers can probe alternative
// metadata locations.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.retry(ctx, "fetch "+url, func() error {
		resp, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		var he *httpError
		if errors.As(err, &he) && he.status == http.StatusNotFound {
			return nil, errdefs.New(errdefs.KindNotFound, "%s not found", url)
		}
		return nil, classifyFetchErr(err)
	}
	return body, nil
}

// Download streams a URL to destPath, writing through a temp file and
// renaming on success. When expectedSHA256 is non-empty the downloaded
// bytes are verified against it; a mismatch is retried once before being
// surfaced as a checksum error.
func (f *Fetcher) Download(ctx context.Context, url, destPath, expectedSHA256 string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindStorage, err, "create download directory")
	}

	attempt := func() error {
		resp, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
		if err != nil {
			return errdefs.Wrap(errdefs.KindStorage, err, "create temp file")
		}
		tmpPath := tmp.Name()

		h := sha256.New()
		_, err = io.Copy(io.MultiWriter(tmp, h), resp.Body)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("write %s: %w", tmpPath, err)
		}

		if expectedSHA256 != "" {
			actual := hex.EncodeToString(h.Sum(nil))
			if actual != expectedSHA256 {
				os.Remove(tmpPath)
				return errdefs.New(errdefs.KindChecksumMismatch,
					"download %s: checksum %s does not match expected %s", url, actual, expectedSHA256)
			}
		}
		if err := os.Rename(tmpPath, destPath); err != nil {
			os.Remove(tmpPath)
			return errdefs.Wrap(errdefs.KindStorage, err, "finalize download")
		}
		return nil
	}

	// One extra try on checksum mismatch: a truncated transfer looks the
	// same as a corrupt mirror, and only the former resolves on retry.
	err := f.retry(ctx, "download "+url, attempt)
	if errors.Is(err, errdefs.ErrChecksumMismatch) {
		err = attempt()
	}
	if err != nil {
		return classifyFetchErr(err)
	}
	return nil
}

// classifyFetchErr folds transport-level failures into the network kind
// while leaving already-classified errors untouched.
func classifyFetchErr(err error) error {
	if errdefs.KindOf(err) != errdefs.KindUnknown {
		return err
	}
	return errdefs.Wrap(errdefs.KindNetwork, err, "repository fetch")
}
