package bundle

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Credential modes accepted by HTTPExporter.
const (
	CredentialToken   = "token"
	CredentialAmbient = "ambient"
)

// ErrUnknownCredentialMode is returned for a mode other than token or ambient.
var ErrUnknownCredentialMode = errors.New("unknown credential mode")

// Exporter turns a cloud object id into an archive on local disk.
type Exporter interface {
	Export(ctx context.Context, objectID, name, destDir string) (string, error)
}

// HTTPExporter downloads a form export from the service's item data
// endpoint: <BaseURL>/content/items/<objectID>/data.
type HTTPExporter struct {
	BaseURL string
	// Mode is CredentialToken (Token sent as a bearer header) or
	// CredentialAmbient (no credential attached; the client's transport is
	// expected to authenticate).
	Mode     string
	Token    string
	AppID    string
	Client   *http.Client
	Attempts int
	// Backoff is the base delay doubled on each retry.
	Backoff time.Duration
	Log     *zap.Logger
}

// Validate checks the credential mode and its companion settings.
func (e *HTTPExporter) Validate() error {
	switch e.Mode {
	case CredentialToken:
		if e.Token == "" {
			return errors.New("token credential mode requires a token")
		}
	case CredentialAmbient:
	default:
		return errors.Wrapf(ErrUnknownCredentialMode, "%q", e.Mode)
	}
	if e.BaseURL == "" {
		return errors.New("base url is required")
	}
	return nil
}

// Export downloads objectID to destDir/<name>.zip and returns its path.
func (e *HTTPExporter) Export(ctx context.Context, objectID, name, destDir string) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	if err := ensureDir(destDir); err != nil {
		return "", errors.Wrapf(err, "create %s", destDir)
	}
	dest := filepath.Join(destDir, name+".zip")
	u := strings.TrimRight(e.BaseURL, "/") + "/content/items/" + url.PathEscape(objectID) + "/data"
	if err := e.download(ctx, u, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (e *HTTPExporter) download(ctx context.Context, u, dest string) error {
	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	attempts := e.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := e.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoff << uint(attempt)
			log.Warn("retrying export download", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errors.Wrap(err, "create request")
		}
		if e.Mode == CredentialToken {
			req.Header.Set("Authorization", "Bearer "+e.Token)
		}
		if e.AppID != "" {
			req.Header.Set("X-App-Id", e.AppID)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = errors.Errorf("HTTP %d for %s", resp.StatusCode, u)
			continue
		}
		err = writeBody(resp.Body, dest)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		log.Info("export downloaded", zap.String("path", dest))
		return nil
	}
	return errors.Wrapf(lastErr, "download %s failed after %d attempts", u, attempts)
}

func writeBody(body io.Reader, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
