package vault

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/pkg/config"
)

const (
	manifestSuffix  = ".manifest"
	segmentsSuffix  = "-segments/"
	deleteBatchSize = 1000
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Segment is one entry of a manifest, listed in payload order.
type Segment struct {
	Name      string `json:"name"`
	Hash      string `json:"hash"`
	SizeBytes int64  `json:"size_bytes"`
}

// ObjectStoreTarget stores objects in an S3 compatible bucket (including
// Swift through its S3 API). Payloads larger than the segment size are
// written as segments plus a manifest and reassembled on Get.
type ObjectStoreTarget struct {
	name          string
	endpoint      string
	bucket        string
	prefix        string
	client        s3API
	segmentSize   int64
	capacityBytes int64
	log           logrus.FieldLogger
}

func NewObjectStoreTarget(ctx context.Context, share config.ShareConfig, segmentSize int64, log logrus.FieldLogger) (*ObjectStoreTarget, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if share.Region != "" {
		opts = append(opts, awsconfig.WithRegion(share.Region))
	}
	if share.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(share.AccessKey, share.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "loading aws config for share %s", share.Name)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = share.PathStyle
		if share.Endpoint != "" {
			o.BaseEndpoint = aws.String(share.Endpoint)
		}
	})

	endpoint := share.Endpoint
	if endpoint == "" {
		endpoint = "s3://" + share.Bucket
	}
	return newObjectStoreTarget(share.Name, endpoint, share.Bucket, share.Prefix, client, segmentSize, share.CapacityBytes, log), nil
}

func newObjectStoreTarget(name, endpoint, bucket, prefix string, client s3API, segmentSize, capacityBytes int64, log logrus.FieldLogger) *ObjectStoreTarget {
	return &ObjectStoreTarget{
		name:          name,
		endpoint:      endpoint,
		bucket:        bucket,
		prefix:        strings.Trim(prefix, "/"),
		client:        client,
		segmentSize:   segmentSize,
		capacityBytes: capacityBytes,
		log:           log.WithFields(logrus.Fields{"share": name, "bucket": bucket}),
	}
}

func (t *ObjectStoreTarget) Name() string     { return t.name }
func (t *ObjectStoreTarget) Type() string     { return string(config.ShareTypeS3) }
func (t *ObjectStoreTarget) Endpoint() string { return t.endpoint }

func (t *ObjectStoreTarget) objectKey(key string) string {
	if t.prefix == "" {
		return key
	}
	return path.Join(t.prefix, key)
}

func (t *ObjectStoreTarget) logicalKey(objectKey string) string {
	if t.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, t.prefix+"/")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (t *ObjectStoreTarget) putObject(ctx context.Context, key string, data []byte) error {
	_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	return errors.Wrapf(err, "error putting object %s", key)
}

func (t *ObjectStoreTarget) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error getting object %s", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	return data, errors.Wrapf(err, "error reading object %s", key)
}

func readSegment(r *bufio.Reader, size int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, false, err
	}
	_, err = r.Peek(1)
	return data, err == nil, nil
}

func (t *ObjectStoreTarget) Put(ctx context.Context, key string, body io.Reader) error {
	br := bufio.NewReader(body)
	data, more, err := readSegment(br, t.segmentSize)
	if err != nil {
		return errors.Wrapf(err, "reading payload for %s", key)
	}

	stale := t.segmentKeys(ctx, key)

	// Payload fits in one object
	if !more {
		if err := t.putObject(ctx, key, data); err != nil {
			return err
		}
		return t.deleteKeys(ctx, stale)
	}

	var manifest []Segment
	var offset int64
	for len(data) > 0 {
		name := fmt.Sprintf("%s%s%016x", key, segmentsSuffix, offset)
		if err := t.putObject(ctx, name, data); err != nil {
			return err
		}
		sum := md5.Sum(data)
		manifest = append(manifest, Segment{Name: name, Hash: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))})
		offset += int64(len(data))

		if !more {
			break
		}
		if data, more, err = readSegment(br, t.segmentSize); err != nil {
			return errors.Wrapf(err, "reading payload for %s", key)
		}
	}

	encoded, err := json.Marshal(manifest)
	if err != nil {
		return errors.Wrapf(err, "encoding manifest for %s", key)
	}
	if err := t.putObject(ctx, key+manifestSuffix, encoded); err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{"key": key, "segments": len(manifest)}).Debug("Wrote segmented object")

	// Drop the plain object and segments of an earlier, longer payload
	written := make(map[string]bool, len(manifest)+1)
	written[key+manifestSuffix] = true
	for _, s := range manifest {
		written[s.Name] = true
	}
	obsolete := []string{key}
	for _, k := range stale {
		if !written[k] {
			obsolete = append(obsolete, k)
		}
	}
	return t.deleteKeys(ctx, obsolete)
}

// segmentKeys lists the manifest and segments stored for key. Listing
// failures are logged and yield nothing, since they only affect cleanup.
func (t *ObjectStoreTarget) segmentKeys(ctx context.Context, key string) []string {
	raw, err := t.listRaw(ctx, key)
	if err != nil {
		t.log.WithError(err).WithField("key", key).Warn("Could not list segments")
		return nil
	}
	var keys []string
	for _, obj := range raw {
		if obj.Key == key+manifestSuffix || strings.HasPrefix(obj.Key, key+segmentsSuffix) {
			keys = append(keys, obj.Key)
		}
	}
	return keys
}

func (t *ObjectStoreTarget) readManifest(ctx context.Context, key string) ([]Segment, error) {
	data, err := t.getObject(ctx, key+manifestSuffix)
	if err != nil {
		return nil, err
	}
	var manifest []Segment
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errors.Wrapf(err, "decoding manifest of %s", key)
	}
	return manifest, nil
}

func (t *ObjectStoreTarget) Get(ctx context.Context, key string) ([]byte, error) {
	manifest, err := t.readManifest(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return t.getObject(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	for _, segment := range manifest {
		data, err := t.getObject(ctx, segment.Name)
		if err != nil {
			return nil, err
		}
		sum := md5.Sum(data)
		if hex.EncodeToString(sum[:]) != segment.Hash {
			return nil, errors.Errorf("checksum mismatch on segment %s of %s", segment.Name, key)
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}

func (t *ObjectStoreTarget) listRaw(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.objectKey(prefix)),
	}
	if prefix == "" && t.prefix != "" {
		input.Prefix = aws.String(t.prefix + "/")
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(t.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing %s", prefix)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:     t.logicalKey(aws.ToString(obj.Key)),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// List returns logical keys: manifests stand for their payload and segments are hidden.
func (t *ObjectStoreTarget) List(ctx context.Context, prefix string) ([]string, error) {
	raw, err := t.listRaw(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var keys []string
	for _, obj := range raw {
		key := obj.Key
		if strings.Contains(key, segmentsSuffix) {
			continue
		}
		key = strings.TrimSuffix(key, manifestSuffix)
		if !strings.HasPrefix(key, prefix) || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (t *ObjectStoreTarget) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	manifest, err := t.readManifest(ctx, key)
	if err == nil {
		info := ObjectInfo{Key: key}
		for _, s := range manifest {
			info.Size += s.SizeBytes
		}
		head, err := t.head(ctx, key+manifestSuffix)
		if err != nil {
			return ObjectInfo{}, err
		}
		info.ModTime = aws.ToTime(head.LastModified)
		return info, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return ObjectInfo{}, err
	}

	head, err := t.head(ctx, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: aws.ToInt64(head.ContentLength), ModTime: aws.ToTime(head.LastModified)}, nil
}

func (t *ObjectStoreTarget) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := t.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, notFound(key)
	}
	return out, errors.Wrapf(err, "error checking object %s", key)
}

// Delete removes key with its manifest and segments, and everything below key/.
func (t *ObjectStoreTarget) Delete(ctx context.Context, key string) error {
	raw, err := t.listRaw(ctx, key)
	if err != nil {
		return err
	}
	var keys []string
	for _, obj := range raw {
		k := obj.Key
		if k == key || k == key+manifestSuffix ||
			strings.HasPrefix(k, key+segmentsSuffix) || strings.HasPrefix(k, strings.TrimSuffix(key, "/")+"/") {
			keys = append(keys, k)
		}
	}
	return t.deleteKeys(ctx, keys)
}

func (t *ObjectStoreTarget) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(t.objectKey(k))})
		}
		out, err := t.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(t.bucket),
			Delete: &types.Delete{Objects: ids},
		})
		if err != nil {
			return errors.Wrapf(err, "error deleting %d objects", len(ids))
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return errors.Errorf("error deleting object %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// Capacity reports the configured bucket capacity and the bytes stored under the prefix.
func (t *ObjectStoreTarget) Capacity(ctx context.Context) (domain.Capacity, error) {
	raw, err := t.listRaw(ctx, "")
	if err != nil {
		return domain.Capacity{}, err
	}
	var used int64
	for _, obj := range raw {
		used += obj.Size
	}
	return domain.Capacity{Total: t.capacityBytes, Used: used}, nil
}
