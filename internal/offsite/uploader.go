// Package offsite copies validated backup sessions to an S3 bucket.
package offsite

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"db2backup/internal/config"
	"db2backup/internal/db2"
	pkgs3 "db2backup/pkg/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ObjectAPI is the part of the S3 client the uploader needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

const (
	// Files above the threshold go up in parts; a single PUT is capped at
	// 5 GiB and backup images routinely exceed that.
	multipartThreshold = 100 * 1024 * 1024
	minPartSize        = 64 * 1024 * 1024
	maxParts           = 10000
)

// Uploader puts every artifact of a session under
// <prefix>/<db_name>/<session_id>/<file>.
type Uploader struct {
	client    ObjectAPI
	bucket    string
	prefix    string
	fs        afero.Fs
	logger    zerolog.Logger
	threshold int64
	partSize  int64
}

func NewUploader(client ObjectAPI, cfg config.OffsiteConfig, fs afero.Fs, logger zerolog.Logger) *Uploader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		fs:        fs,
		logger:    logger.With().Str("bucket", cfg.Bucket).Logger(),
		threshold: multipartThreshold,
		partSize:  minPartSize,
	}
}

// New builds an Uploader backed by a real S3 client.
func New(ctx context.Context, cfg config.OffsiteConfig, fs afero.Fs, logger zerolog.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: offsite.bucket is required when offsite.enabled is set", config.ErrInvalid)
	}
	client, err := pkgs3.NewClient(ctx, pkgs3.Options{
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return NewUploader(client, cfg, fs, logger), nil
}

// Key returns the object key of one artifact.
func Key(prefix, dbName, sessionID, file string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), dbName, sessionID, file), "/")
}

// Upload copies every artifact of set. Uploads continue past a failed file;
// the keys written so far are returned with the combined error.
func (u *Uploader) Upload(ctx context.Context, dbName string, set *db2.ArtifactSet) ([]string, error) {
	var (
		keys   []string
		result *multierror.Error
	)
	for _, a := range set.Artifacts {
		key := Key(u.prefix, dbName, set.Session.ID, a.Name)
		if err := u.put(ctx, key, a); err != nil {
			u.logger.Error().Err(err).Str("key", key).Msg("offsite upload failed")
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		keys = append(keys, key)
	}
	return keys, result.ErrorOrNil()
}

func (u *Uploader) put(ctx context.Context, key string, a db2.Artifact) error {
	file, err := u.fs.Open(a.Path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	start := time.Now()
	if a.Size > u.threshold {
		err = u.putMultipart(ctx, key, file, a)
	} else {
		err = u.putSingle(ctx, key, file, a)
	}
	if err != nil {
		return err
	}

	u.logger.Info().
		Str("key", key).
		Str("size", humanize.IBytes(uint64(a.Size))).
		Dur("duration", time.Since(start)).
		Msg("artifact uploaded")
	return nil
}

func (u *Uploader) putSingle(ctx context.Context, key string, file io.Reader, a db2.Artifact) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(a.Size),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{"sha256": a.Checksum},
	}
	if sum := base64Checksum(a.Checksum); sum != "" {
		input.ChecksumSHA256 = aws.String(sum)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload: %w", err)
	}
	return nil
}

// putMultipart uploads the file in parts and aborts the upload on failure
// so no orphaned parts keep accruing storage.
func (u *Uploader) putMultipart(ctx context.Context, key string, file io.ReaderAt, a db2.Artifact) error {
	created, err := u.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"sha256": a.Checksum},
	})
	if err != nil {
		return fmt.Errorf("failed to start multipart upload: %w", err)
	}

	parts, err := u.uploadParts(ctx, key, created.UploadId, file, a.Size)
	if err == nil {
		_, err = u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(u.bucket),
			Key:             aws.String(key),
			UploadId:        created.UploadId,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err == nil {
			return nil
		}
		err = fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	if _, abortErr := u.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.bucket),
		Key:      aws.String(key),
		UploadId: created.UploadId,
	}); abortErr != nil {
		u.logger.Warn().Err(abortErr).Str("key", key).Msg("failed to abort multipart upload")
	}
	return err
}

func (u *Uploader) uploadParts(ctx context.Context, key string, uploadID *string, file io.ReaderAt, size int64) ([]types.CompletedPart, error) {
	partSize := u.partSize
	if n := (size + maxParts - 1) / maxParts; n > partSize {
		partSize = n
	}

	var parts []types.CompletedPart
	for offset, number := int64(0), int32(1); offset < size; offset, number = offset+partSize, number+1 {
		length := min(partSize, size-offset)
		out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(number),
			Body:          io.NewSectionReader(file, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload part %d: %w", number, err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	}
	return parts, nil
}

// base64Checksum converts a hex SHA-256 digest to the form S3 expects.
func base64Checksum(hexSum string) string {
	sum, err := hex.DecodeString(hexSum)
	if err != nil || len(sum) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sum)
}
