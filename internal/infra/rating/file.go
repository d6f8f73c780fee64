// Package rating provides rating sources backed by a detection log file or redis.
package rating

import (
	"context"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	domainrating "github.com/osa030/focuslamp/internal/domain/rating"
)

// DefaultPattern matches the rating lines written by the detector.
const DefaultPattern = `专注状态评级: (\d+)`

// tailSize bounds how much of the end of the log is scanned per query.
const tailSize = 64 * 1024

// FileSource reports the last rating found in a detection log.
type FileSource struct {
	path    string
	pattern *regexp.Regexp

	missingWarn rate.Sometimes
}

// NewFileSource creates a file source. An empty pattern uses DefaultPattern;
// the pattern must contain one capture group holding the rating.
func NewFileSource(path, pattern string) (*FileSource, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid rating pattern %q", pattern)
	}
	if re.NumSubexp() < 1 {
		return nil, errors.Newf("rating pattern %q has no capture group", pattern)
	}
	return &FileSource{
		path:        path,
		pattern:     re,
		missingWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}, nil
}

// Latest implements rating.Source.
func (s *FileSource) Latest(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	data, err := s.tail()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.missingWarn.Do(func() {
				zlog.Warn().Msgf("rating: detection log not found: path=%s", s.path)
			})
			return 0, false, nil
		}
		return 0, false, errors.Mark(errors.Wrapf(err, "failed to read %s", s.path), domainrating.ErrSourceUnavailable)
	}

	matches := s.pattern.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return 0, false, nil
	}
	last := matches[len(matches)-1]
	value, err := strconv.Atoi(string(last[1]))
	if err != nil {
		zlog.Debug().Msgf("rating: unparsable rating: value=%q", last[1])
		return 0, false, nil
	}
	return value, true, nil
}

func (s *FileSource) tail() ([]byte, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if offset := info.Size() - tailSize; offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(f)
}
