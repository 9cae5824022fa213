package sources

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/wbrown/lm_data/types"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/schema"
)

// Parquet reads records out of local Parquet shards, one row per record.
// Flat columns become plain fields; repeated and nested columns become their
// JSON text, as they would in a JSON lines file.
type Parquet struct {
	Paths []string
}

func NewParquet(paths ...string) *Parquet {
	return &Parquet{Paths: paths}
}

// externalNames maps parquet-go's Go field names, such as `Answers`, back to
// the column names written in the file, such as `answers`.
func externalNames(sh *schema.SchemaHandler) map[string]string {
	names := make(map[string]string, len(sh.Infos))
	for _, info := range sh.Infos[1:] {
		names[info.InName] = info.ExName
	}
	return names
}

func renameKeys(value interface{}, names map[string]string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		renamed := make(map[string]interface{}, len(v))
		for key, item := range v {
			if name, ok := names[key]; ok {
				key = name
			}
			renamed[key] = renameKeys(item, names)
		}
		return renamed
	case []interface{}:
		for idx, item := range v {
			v[idx] = renameKeys(item, names)
		}
		return v
	default:
		return value
	}
}

// rowToRecord encodes one dynamically typed row as a JSON object keyed by
// column name and decodes it with the JSON record rules.
func rowToRecord(row interface{}, names map[string]string) (types.Record,
	error) {
	encoded, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, err
	}
	if encoded, err = json.Marshal(renameKeys(generic, names)); err != nil {
		return nil, err
	}
	return types.RecordFromJSON(encoded)
}

// ReadParquetRecords decodes a whole Parquet file held in memory.
func ReadParquetRecords(data []byte) ([]types.Record, error) {
	bf := buffer.NewBufferFileFromBytesNoAlloc(data)
	pr, err := reader.NewParquetReader(bf, nil, 1)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create parquet reader")
	}
	defer pr.ReadStop()
	numRows := int(pr.GetNumRows())
	if numRows == 0 {
		return []types.Record{}, nil
	}
	rows, err := pr.ReadByNumber(numRows)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read parquet rows")
	}
	names := externalNames(pr.SchemaHandler)
	records := make([]types.Record, len(rows))
	for idx, row := range rows {
		if records[idx], err = rowToRecord(row, names); err != nil {
			return nil, errors.Wrapf(err, "failed to convert row %d", idx)
		}
	}
	return records, nil
}

type parquetIterator struct {
	paths   []string
	records []types.Record
	pos     int
}

func (p *Parquet) Records() (RecordIterator, error) {
	if len(p.Paths) == 0 {
		return nil, errors.New("no parquet files given")
	}
	return &parquetIterator{paths: p.Paths}, nil
}

// Next decodes one shard at a time, so only the current shard is resident.
func (it *parquetIterator) Next() (types.Record, error) {
	for it.pos >= len(it.records) {
		if len(it.paths) == 0 {
			return nil, io.EOF
		}
		path := it.paths[0]
		it.paths = it.paths[1:]
		Logger.Print("Reading ", path)
		mapped, err := OpenMmap(path)
		if err != nil {
			return nil, err
		}
		records, err := ReadParquetRecords(mapped.Data)
		mapped.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		it.records, it.pos = records, 0
	}
	record := it.records[it.pos]
	it.pos++
	return record, nil
}

func (it *parquetIterator) Close() error {
	it.paths, it.records = nil, nil
	return nil
}
