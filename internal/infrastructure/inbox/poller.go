package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Publisher is the part of the message bus the poller needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, msg domain.Message) error
}

type Options struct {
	Interval  time.Duration
	MarkerTTL time.Duration
	// OnSubmit is called once per submitted file.
	OnSubmit func()
}

// Poller submits files dropped into a local folder as ingest requests. A
// per-filename marker keeps a file from being resubmitted while it is fresh.
type Poller struct {
	dir       string
	bus       Publisher
	subject   string
	markers   ports.DedupCache
	interval  time.Duration
	markerTTL time.Duration
	onSubmit  func()
}

func NewPoller(dir string, bus Publisher, subject string, markers ports.DedupCache, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.MarkerTTL <= 0 {
		opts.MarkerTTL = time.Hour
	}
	return &Poller{
		dir:       dir,
		bus:       bus,
		subject:   subject,
		markers:   markers,
		interval:  opts.Interval,
		markerTTL: opts.MarkerTTL,
		onSubmit:  opts.OnSubmit,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	slog.Info("inbox_poller_started", "dir", p.dir, "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("inbox_poll_failed", "dir", p.dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce scans the folder a single time and returns how many files it submitted.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || skipName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	submitted := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return submitted, err
		}
		seen, err := p.markers.Seen(ctx, name)
		if err != nil {
			return submitted, fmt.Errorf("check inbox marker: %w", err)
		}
		if seen {
			continue
		}

		path, err := filepath.Abs(filepath.Join(p.dir, name))
		if err != nil {
			return submitted, fmt.Errorf("resolve inbox path: %w", err)
		}
		req := domain.IngestRequested{FilePath: path, UploadedBy: "inbox", Source: domain.SourceLocal}
		if err := p.bus.Publish(ctx, p.subject, req); err != nil {
			slog.Warn("inbox_submit_failed", "file", name, "error", err)
			continue
		}
		if err := p.markers.Mark(ctx, name, map[string]any{"path": path}, p.markerTTL); err != nil {
			slog.Warn("inbox_marker_failed", "file", name, "error", err)
		}
		slog.Info("inbox_file_submitted", "file", name)
		if p.onSubmit != nil {
			p.onSubmit()
		}
		submitted++
	}
	return submitted, nil
}

// skipName ignores hidden files and partial copies still being written.
func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
}
