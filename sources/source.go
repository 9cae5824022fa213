// Package sources yields structured records, one at a time, from local
// files, object stores and the HuggingFace Hub.
package sources

import (
	"errors"
	"strings"

	"github.com/wbrown/lm_data/types"
)

// ErrEmptySource is returned by a looping source whose underlying source
// produced no records during a whole pass.
var ErrEmptySource = errors.New("source produced no records")

// RecordIterator yields records lazily. Next returns io.EOF once a finite
// pass is exhausted. Close releases any open file, mapping or goroutine and
// may be called at any point.
type RecordIterator interface {
	Next() (types.Record, error)
	Close() error
}

// Source starts a new pass over its records on every call to Records.
type Source interface {
	Records() (RecordIterator, error)
}

// FromPath picks the source for a dataset path: a glob pattern or an
// `s3://` prefix ending in `/` becomes a Glob, a local `.parquet` file a
// Parquet source, anything else a single JSONLines file.
func FromPath(path string) Source {
	if strings.HasSuffix(path, ".parquet") && !isValidUrl(path) &&
		!strings.HasPrefix(path, "s3://") {
		return NewParquet(path)
	}
	if strings.ContainsAny(path, "*?[") ||
		(strings.HasPrefix(path, "s3://") && strings.HasSuffix(path, "/")) {
		return NewGlob(path)
	}
	return NewJSONLines(path)
}

// Collect drains a finite source into memory.
func Collect(source Source) ([]types.Record, error) {
	iter, err := source.Records()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	records := make([]types.Record, 0)
	for {
		record, err := iter.Next()
		if err != nil {
			if isEOF(err) {
				return records, nil
			}
			return records, err
		}
		records = append(records, record)
	}
}
