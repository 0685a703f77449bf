package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/intelletix/sudbury-directory/internal/adapter/observability"
)

// maxDatasetBytes caps a downloaded dataset.
const maxDatasetBytes = 8 << 20

// Source says where the dataset should come from. Empty fields are skipped.
type Source struct {
	Path string
	URL  string
}

// Load reads the dataset from src.URL, then src.Path, and falls back to the
// embedded copy when neither is set or loading fails.
func Load(ctx context.Context, src Source) (*Directory, error) {
	if src.URL != "" {
		d, err := loadURL(ctx, src.URL)
		if err == nil {
			slog.Info("directory loaded", slog.String("source", "url"), slog.Int("businesses", len(d.businesses)))
			return d, nil
		}
		slog.Warn("directory url load failed, falling back", slog.String("url", src.URL), slog.Any("error", err))
	}
	if src.Path != "" {
		d, err := loadFile(src.Path)
		if err == nil {
			slog.Info("directory loaded", slog.String("source", "file"), slog.Int("businesses", len(d.businesses)))
			return d, nil
		}
		slog.Warn("directory file load failed, falling back", slog.String("path", src.Path), slog.Any("error", err))
	}
	d, err := Embedded()
	if err != nil {
		return nil, err
	}
	slog.Info("directory loaded", slog.String("source", "embedded"), slog.Int("businesses", len(d.businesses)))
	return d, nil
}

func loadFile(path string) (*Directory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=directory.loadFile: %w", err)
	}
	ds, err := ParseDataset(b)
	if err != nil {
		return nil, err
	}
	return New(ds)
}

func loadURL(ctx context.Context, url string) (*Directory, error) {
	hc := &http.Client{Timeout: 10 * time.Second, Transport: observability.TracedTransport(http.DefaultTransport)}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := hc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxDatasetBytes))
		return err
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(expo, 2), ctx)); err != nil {
		return nil, fmt.Errorf("op=directory.loadURL: %w", err)
	}
	ds, err := ParseDataset(body)
	if err != nil {
		return nil, err
	}
	return New(ds)
}
