package sources

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/pkg/errors"
	"github.com/wbrown/lm_data/types"
)

// ParquetRevision is the branch the Hub keeps Parquet conversions of every
// dataset on.
const ParquetRevision = "refs/convert/parquet"

// Hub reads a dataset from the HuggingFace Hub through its Parquet
// conversion. With Streaming set, shards are downloaded one at a time as
// the iterator reaches them; otherwise every shard of the split is
// downloaded before the first record is returned.
type Hub struct {
	ID        string
	Name      string
	Split     string
	Token     string
	Streaming bool
	CacheDir  string
}

func NewHub(id, name, split string, streaming bool) *Hub {
	return &Hub{
		ID:        id,
		Name:      name,
		Split:     split,
		Token:     os.Getenv("HF_TOKEN"),
		Streaming: streaming,
	}
}

func (h *Hub) repo() *hub.Repo {
	repo := hub.New(h.ID).
		WithType(hub.RepoTypeDataset).
		WithRevision(ParquetRevision)
	if h.Token != "" {
		repo = repo.WithAuth(h.Token)
	}
	if h.CacheDir != "" {
		repo = repo.WithCacheDir(h.CacheDir)
	}
	return repo
}

// selectShards picks the Parquet shards of one config and split out of a
// repository listing, in shard order. Large datasets only carry a
// `partial-<split>` conversion, which is accepted when the full split is
// absent.
func selectShards(fileNames []string, name, split string) []string {
	if name == "" {
		name = "default"
	}
	collect := func(dir string) []string {
		prefix := name + "/" + dir + "/"
		var shards []string
		for _, fileName := range fileNames {
			if strings.HasPrefix(fileName, prefix) &&
				strings.HasSuffix(fileName, ".parquet") {
				shards = append(shards, fileName)
			}
		}
		sort.Strings(shards)
		return shards
	}
	if shards := collect(split); len(shards) > 0 {
		return shards
	}
	return collect("partial-" + split)
}

// Shards lists the remote Parquet files backing the configured split.
func (h *Hub) Shards() ([]string, error) {
	var fileNames []string
	for fileName, err := range h.repo().IterFileNames() {
		if err != nil {
			return nil, errors.Wrapf(err, "listing %s", h.ID)
		}
		fileNames = append(fileNames, fileName)
	}
	shards := selectShards(fileNames, h.Name, h.Split)
	if len(shards) == 0 {
		return nil, errors.Errorf("%s has no parquet shards for %s/%s",
			h.ID, h.Name, h.Split)
	}
	return shards, nil
}

type hubIterator struct {
	repo    *hub.Repo
	pending []string
	current RecordIterator
}

func (h *Hub) Records() (RecordIterator, error) {
	shards, err := h.Shards()
	if err != nil {
		return nil, err
	}
	repo := h.repo()
	if h.Streaming {
		return &hubIterator{repo: repo, pending: shards}, nil
	}
	local, err := h.download(repo, shards)
	if err != nil {
		return nil, err
	}
	return NewParquet(local...).Records()
}

// Download fetches every shard of the split into the cache and returns
// their local paths.
func (h *Hub) Download() ([]string, error) {
	shards, err := h.Shards()
	if err != nil {
		return nil, err
	}
	return h.download(h.repo(), shards)
}

func (h *Hub) download(repo *hub.Repo, shards []string) ([]string, error) {
	local := make([]string, 0, len(shards))
	for _, shard := range shards {
		Logger.Print("Downloading ", shard)
		path, err := repo.DownloadFile(shard)
		if err != nil {
			return nil, errors.Wrapf(err, "downloading %s", shard)
		}
		local = append(local, path)
	}
	return local, nil
}

func (it *hubIterator) Next() (types.Record, error) {
	for {
		if it.current == nil {
			if len(it.pending) == 0 {
				return nil, io.EOF
			}
			shard := it.pending[0]
			it.pending = it.pending[1:]
			Logger.Print("Downloading ", shard)
			path, err := it.repo.DownloadFile(shard)
			if err != nil {
				return nil, errors.Wrapf(err, "downloading %s", shard)
			}
			it.current, err = NewParquet(path).Records()
			if err != nil {
				return nil, err
			}
		}
		record, err := it.current.Next()
		if err == nil {
			return record, nil
		}
		it.current.Close()
		it.current = nil
		if !isEOF(err) {
			return nil, err
		}
	}
}

func (it *hubIterator) Close() error {
	it.pending = nil
	if it.current != nil {
		it.current.Close()
		it.current = nil
	}
	return nil
}
