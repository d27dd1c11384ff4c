package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Snapshot saves a full-page screenshot under the evidence directory and
// returns its path.
func (s *Session) Snapshot(ctx context.Context, name string) (string, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return "", eris.Wrap(err, "browser: screenshot")
	}
	path, err := writeEvidence(s.opts.EvidenceDir, name, s.nowFunc(), buf)
	if err != nil {
		return "", err
	}
	zap.L().Info("browser: screenshot saved", zap.String("path", path))
	return path, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// evidencePath builds "<dir>/<name>_<unix>.png" with name reduced to
// filesystem-safe characters.
func evidencePath(dir, name string, at time.Time) string {
	clean := unsafeName.ReplaceAllString(name, "_")
	if clean == "" {
		clean = "snapshot"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d.png", clean, at.Unix()))
}

func writeEvidence(dir, name string, at time.Time, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "browser: create evidence dir %s", dir)
	}
	path := evidencePath(dir, name, at)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "browser: write %s", path)
	}
	return path, nil
}
