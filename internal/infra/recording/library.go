// Package recording loads recorded arm gestures from CSV files.
package recording

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/focuslamp/internal/domain/action"
	"github.com/osa030/focuslamp/internal/domain/rating"
)

// timestampColumn is recorded alongside joint positions and ignored on playback.
const timestampColumn = "timestamp"

// Library resolves action names to recording files named <name>_<lampID>.csv in Dir.
type Library struct {
	Dir    string
	LampID string
}

// NewLibrary creates a library over dir for the given lamp.
func NewLibrary(dir, lampID string) *Library {
	return &Library{Dir: dir, LampID: lampID}
}

// List returns the names of all recordings available for the lamp, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read recordings dir %s", l.Dir)
	}

	suffix := l.suffix()
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(entry.Name(), suffix)
		if !ok || name == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether a recording file exists for name.
func (l *Library) Has(name string) bool {
	info, err := os.Stat(l.path(name))
	return err == nil && !info.IsDir()
}

// Load parses the recording for name.
func (l *Library) Load(name string) (action.Recording, error) {
	f, err := os.Open(l.path(name))
	if err != nil {
		return action.Recording{}, errors.Mark(
			errors.Wrapf(err, "failed to open recording %s", name), action.ErrActionFailed)
	}
	defer f.Close()

	frames, err := parse(f)
	if err != nil {
		return action.Recording{}, errors.Mark(
			errors.Wrapf(err, "failed to parse recording %s", name), action.ErrActionFailed)
	}
	return action.Recording{Name: name, Frames: frames}, nil
}

// Entry describes one recording in the library.
type Entry struct {
	Name    string
	Frames  int
	Joints  []string // Joint names of the first frame
	Buckets []int    // Rating buckets that trigger this recording
	Err     error    // Set when the recording cannot be loaded
}

// Catalog loads every available recording and pairs it with the rating
// buckets that trigger it. Unloadable recordings are reported, not skipped.
func (l *Library) Catalog() ([]Entry, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}

	triggers := make(map[string][]int)
	for _, req := range rating.Buckets() {
		triggers[req.Name] = append(triggers[req.Name], req.Bucket)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entry := Entry{Name: name, Buckets: triggers[name]}
		rec, err := l.Load(name)
		if err != nil {
			entry.Err = err
		} else {
			entry.Frames = rec.Len()
			if rec.Len() > 0 {
				entry.Joints = rec.Frames[0].Joints()
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *Library) suffix() string {
	return "_" + l.LampID + ".csv"
}

func (l *Library) path(name string) string {
	return filepath.Join(l.Dir, filepath.Base(name)+l.suffix())
}

// parse reads a header row of joint names followed by one row per frame.
func parse(r io.Reader) ([]action.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, err
	}

	var frames []action.Frame
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		positions := make(map[string]float64, len(header))
		for i, column := range header {
			if column == timestampColumn {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, errors.Newf("line %d column %s: invalid position %q", line, column, record[i])
			}
			positions[column] = v
		}
		frames = append(frames, action.Frame{Positions: positions})
	}
	return frames, nil
}
