// internal/monitoring/snapshot.go
package monitoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// SnapshotStore writes failure evidence as files under dir/<target>/.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

func (s *SnapshotStore) Dir() string {
	return s.dir
}

// Save persists the evidence for a failing outcome and returns its path.
func (s *SnapshotStore) Save(targetID, domain string, out *Outcome) (string, error) {
	body := out.Body
	if len(body) == 0 {
		body = placeholderPage(domain, out)
	}

	sum := sha256.Sum256(body)
	name := fmt.Sprintf("%s-%s.html", out.StartedAt.UTC().Format("20060102T150405"), hex.EncodeToString(sum[:])[:12])
	dir := filepath.Join(s.dir, targetID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// Contains reports whether path lives under the snapshot directory.
func (s *SnapshotStore) Contains(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	return err == nil && rel != "." && !filepath.IsAbs(rel) && rel[0] != '.'
}

// PurgeBefore deletes snapshot files last modified before cutoff.
func (s *SnapshotStore) PurgeBefore(cutoff time.Time) (int, error) {
	deleted := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logrus.WithError(err).WithField("path", path).Warn("Failed to remove snapshot")
				return nil
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func placeholderPage(domain string, out *Outcome) []byte {
	reason := "empty response body"
	if out.Err != nil {
		reason = out.Err.Error()
	} else if out.StatusCode != 0 {
		reason = fmt.Sprintf("HTTP %d with empty response body", out.StatusCode)
	}
	return []byte(fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%[1]s unreachable</title></head>
<body>
<h1>No response captured for %[1]s</h1>
<p>Checked at %[2]s</p>
<pre>%[3]s</pre>
</body></html>
`, html.EscapeString(domain), out.StartedAt.UTC().Format(time.RFC3339), html.EscapeString(reason)))
}
