package sources

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Logger receives progress and malformed-input warnings.
var Logger = log.New(os.Stderr, "", log.LstdFlags)

// S3Client is the subset of the S3 API the sources use; *s3.S3 satisfies it.
type S3Client interface {
	GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	ListObjectsV2(input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output,
		error)
}

var (
	s3Client     S3Client
	s3ClientOnce sync.Once
	s3ClientErr  error
)

// SetS3Client overrides the client used for `s3://` paths.
func SetS3Client(client S3Client) {
	s3ClientOnce.Do(func() {})
	s3Client = client
	s3ClientErr = nil
}

func getS3Client() (S3Client, error) {
	s3ClientOnce.Do(func() {
		sess, err := session.NewSessionWithOptions(session.Options{
			SharedConfigState: session.SharedConfigEnable,
		})
		if err != nil {
			s3ClientErr = err
			return
		}
		s3Client = s3.New(sess)
	})
	return s3Client, s3ClientErr
}

// ReadCounter counts the number of bytes read through it, and every 10
// seconds, it logs the number of bytes read so far.
type ReadCounter struct {
	Total uint64
	Last  time.Time
	Path  string
	Size  uint64
}

func (rc *ReadCounter) Write(p []byte) (int, error) {
	n := len(p)
	rc.Total += uint64(n)
	if time.Since(rc.Last).Seconds() > 10 {
		rc.Last = time.Now()
		Logger.Printf("Reading %s... %s / %s completed.", rc.Path,
			humanize.Bytes(rc.Total), humanize.Bytes(rc.Size))
	}
	return n, nil
}

type countedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (crc countedReadCloser) Close() error {
	return crc.closer.Close()
}

func counted(body io.ReadCloser, path string, size int64) io.ReadCloser {
	counter := &ReadCounter{Last: time.Now(), Path: path}
	if size > 0 {
		counter.Size = uint64(size)
	}
	return countedReadCloser{io.TeeReader(body, counter), body}
}

func isValidUrl(toTest string) bool {
	u, err := url.Parse(toTest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// SplitS3Path splits `s3://bucket/key` into its bucket and key.
func SplitS3Path(path string) (bucket string, key string, err error) {
	if !strings.HasPrefix(path, "s3://") {
		return "", "", errors.Errorf("%s is not an s3:// path", path)
	}
	trimmed := strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", errors.Errorf("%s has no bucket", path)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// Open resolves a path to a reader. `s3://` paths are fetched with the S3
// client, `http(s)://` URLs with a GET carrying $HF_TOKEN as a bearer token
// when set, and anything else is memory-mapped from the local filesystem.
func Open(path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "s3://") {
		return FetchS3(path)
	} else if isValidUrl(path) {
		return FetchHTTP(path, os.Getenv("HF_TOKEN"))
	}
	mapped, err := OpenMmap(path)
	if err != nil {
		return nil, err
	}
	return mapped, nil
}

// FetchS3 opens the object at an `s3://bucket/key` path.
func FetchS3(path string) (io.ReadCloser, error) {
	bucket, key, err := SplitS3Path(path)
	if err != nil {
		return nil, err
	}
	client, err := getS3Client()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create S3 session")
	}
	output, err := client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error fetching %s", path)
	}
	return counted(output.Body, path, aws.Int64Value(output.ContentLength)),
		nil
}

// FetchHTTP fetches a remote resource with optional bearer token auth.
func FetchHTTP(uri string, auth string) (io.ReadCloser, error) {
	req, reqErr := http.NewRequest("GET", uri, nil)
	if reqErr != nil {
		return nil, reqErr
	}
	if auth != "" {
		req.Header.Add("Authorization", "Bearer "+auth)
	}
	resp, remoteErr := http.DefaultClient.Do(req)
	if remoteErr != nil {
		return nil, remoteErr
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, errors.New(fmt.Sprintf("HTTP status code %d fetching %s",
			resp.StatusCode, uri))
	}
	return counted(resp.Body, uri, resp.ContentLength), nil
}

// MappedFile is a read-only memory map of a local file.
type MappedFile struct {
	*bytes.Reader
	Data mmap.MMap
	file *os.File
}

func (mf *MappedFile) Close() error {
	var unmapErr error
	if mf.Data != nil {
		unmapErr = mf.Data.Unmap()
		mf.Data = nil
	}
	closeErr := mf.file.Close()
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}

// OpenMmap maps a local file. Empty files cannot be mapped and are served
// from an empty reader.
func OpenMmap(path string) (*MappedFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s", path)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "error reading %s", path)
	}
	if stat.Size() == 0 {
		return &MappedFile{Reader: bytes.NewReader(nil), file: file}, nil
	}
	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "error trying to mmap %s", path)
	}
	return &MappedFile{Reader: bytes.NewReader(data), Data: data, file: file},
		nil
}
