package sources

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"github.com/wbrown/lm_data/types"
)

const maxLineSize = 64 * 1024 * 1024

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// JSONLines reads one JSON object per line from a local, `http(s)://` or
// `s3://` path. Empty lines are ignored; lines that are not JSON objects are
// logged and skipped.
type JSONLines struct {
	Path string
}

func NewJSONLines(path string) *JSONLines {
	return &JSONLines{Path: path}
}

func (jl *JSONLines) Records() (RecordIterator, error) {
	handle, err := Open(jl.Path)
	if err != nil {
		return nil, err
	}
	return NewJSONLinesReader(jl.Path, handle), nil
}

type jsonLinesIterator struct {
	path    string
	handle  io.ReadCloser
	scanner *bufio.Scanner
	lineNo  int
	closed  bool
}

// NewJSONLinesReader iterates the JSON lines of an already opened reader,
// closing it once exhausted. `name` is only used in messages.
func NewJSONLinesReader(name string, handle io.ReadCloser) RecordIterator {
	scanner := bufio.NewScanner(handle)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &jsonLinesIterator{path: name, handle: handle, scanner: scanner}
}

func (it *jsonLinesIterator) Next() (types.Record, error) {
	if it.closed {
		return nil, io.EOF
	}
	for it.scanner.Scan() {
		it.lineNo++
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		record, err := types.RecordFromJSON(line)
		if err != nil {
			Logger.Printf("Error parsing json line %d of %s: %v\n%s",
				it.lineNo, it.path, err, line)
			continue
		}
		return record, nil
	}
	scanErr := it.scanner.Err()
	it.Close()
	if scanErr != nil {
		return nil, errors.Wrapf(scanErr, "error reading %s", it.path)
	}
	return nil, io.EOF
}

func (it *jsonLinesIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.handle.Close()
}
