package sources

import (
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// ListS3 returns the `s3://` paths of every object under the prefix of an
// `s3://bucket/prefix` path whose key ends in one of the suffixes.
func ListS3(path string, suffixes ...string) ([]string, error) {
	bucket, prefix, err := SplitS3Path(path)
	if err != nil {
		return nil, err
	}
	client, err := getS3Client()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create S3 session")
	}
	objects, err := listObjectsS3(client, bucket, prefix)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(objects))
	for _, object := range objects {
		key := aws.StringValue(object.Key)
		if strings.HasSuffix(key, "/") {
			continue
		}
		if len(suffixes) > 0 && !hasAnySuffix(key, suffixes) {
			continue
		}
		paths = append(paths, "s3://"+bucket+"/"+key)
	}
	return paths, nil
}

// listObjectsS3 pages through ListObjectsV2 until the listing is no longer
// truncated.
func listObjectsS3(client S3Client, bucket, prefix string) ([]*s3.Object,
	error) {
	objects := make([]*s3.Object, 0)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	for {
		output, err := client.ListObjectsV2(input)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing s3://%s/%s",
				bucket, prefix)
		}
		objects = append(objects, output.Contents...)
		if !aws.BoolValue(output.IsTruncated) ||
			output.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	return objects, nil
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
