package recorder

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const listKey = "recordings"

// Recording describes one file in the recordings directory.
type Recording struct {
	Name    string    `json:"name"`
	Path    string    `json:"-"`
	Size    int64     `json:"size_bytes"`
	SizeMB  float64   `json:"size_mb"`
	Created time.Time `json:"created"`
}

// List returns the MP4 files in the recordings directory, newest first.
// A missing directory yields an empty list.
func (r *Recorder) List() ([]Recording, error) {
	if r.list != nil {
		if cached, ok := r.list.Get(listKey); ok {
			return append([]Recording(nil), cached.([]Recording)...), nil
		}
	}

	recs, err := ScanDir(r.dir)
	if err != nil {
		return nil, err
	}

	if r.list != nil {
		r.list.Set(listKey, recs, cache.DefaultExpiration)
	}
	return append([]Recording(nil), recs...), nil
}

// ScanDir lists *.mp4 files in dir sorted by name, descending. Names carry
// the start timestamp, so this is newest first.
func ScanDir(dir string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Recording{}, nil
		}
		return nil, fmt.Errorf("failed to read recordings dir: %w", err)
	}

	recs := make([]Recording, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp4") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Stat.
			continue
		}
		recs = append(recs, Recording{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			SizeMB:  roundMB(info.Size()),
			Created: info.ModTime(),
		})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Name > recs[j].Name })
	return recs, nil
}

func roundMB(size int64) float64 {
	return math.Round(float64(size)/(1<<20)*100) / 100
}

func (r *Recorder) invalidate() {
	if r.list != nil {
		r.list.Delete(listKey)
	}
}
