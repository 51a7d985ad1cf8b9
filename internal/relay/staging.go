package relay

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const stagingExt = ".mp4"

// Stager owns the staging directory. Files are named
// "<sanitized item id>-<uuid>.mp4" so concurrent or crashed runs never
// collide on a name.
type Stager struct {
	dir string
}

func NewStager(dir string) (*Stager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "./tmp"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Stager{dir: dir}, nil
}

func (s *Stager) Dir() string { return s.dir }

// Create opens a new, empty staging file for itemID.
func (s *Stager) Create(itemID string) (*os.File, error) {
	name := sanitizeID(itemID) + "-" + uuid.NewString() + stagingExt
	return os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
}

// Remove deletes a staging file. A file that is already gone is not an error.
func (s *Stager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes staging files older than maxAge that a crashed process left
// behind. Files not named by Create are ignored. It returns the number removed.
func (s *Stager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isStagingName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := s.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func isStagingName(name string) bool {
	base, ok := strings.CutSuffix(name, stagingExt)
	if !ok || len(base) < 38 || base[len(base)-37] != '-' {
		return false
	}
	_, err := uuid.Parse(base[len(base)-36:])
	return err == nil
}

// sanitizeID keeps [A-Za-z0-9._-] and caps the length; ids come from an
// untrusted upstream and must not escape the staging directory.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.':
			if b.Len() > 0 {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	if b.Len() == 0 {
		return "item"
	}
	return b.String()
}
