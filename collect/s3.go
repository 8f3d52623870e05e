package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/jyothri/detach/config"
	"github.com/jyothri/detach/detach"
)

// S3Store keeps backups in an S3 compatible bucket.
type S3Store struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

var _ detach.FolderStore = (*S3Store)(nil)

func NewS3Store(conf config.Storage) (*S3Store, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is blank: %w", detach.ErrUnconfigured)
	}
	awsConf := &aws.Config{
		Region: aws.String(conf.Region),
	}
	if conf.Endpoint != "" {
		awsConf.Endpoint = aws.String(conf.Endpoint)
		awsConf.S3ForcePathStyle = aws.Bool(true)
	}
	if conf.AccessKey != "" {
		awsConf.Credentials = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     conf.AccessKey,
					SecretAccessKey: conf.SecretKey,
				},
			},
		})
	}
	sess, err := session.NewSession(awsConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	client := s3.New(sess)
	return &S3Store{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   conf.Bucket,
	}, nil
}

func (s *S3Store) Root(ctx context.Context) (detach.Folder, error) {
	return detach.Folder{}, nil
}

func (s *S3Store) FindFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, bool, error) {
	f := objectFolder(parent, name)
	ok, err := s.exists(ctx, f.ID)
	if err != nil || !ok {
		return detach.Folder{}, false, err
	}
	return f, true, nil
}

func (s *S3Store) CreateFolder(ctx context.Context, parent detach.Folder, name string) (detach.Folder, error) {
	f := objectFolder(parent, name)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(f.ID),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return detach.Folder{}, classify(fmt.Errorf("failed to create folder object %s in bucket %s: %w", f.ID, s.bucket, err))
	}
	return f, nil
}

func (s *S3Store) CreateFile(ctx context.Context, parent detach.Folder, name, mimeType string, content io.Reader) (detach.File, error) {
	key, err := uniqueKey(ctx, parent.ID, name, s.exists)
	if err != nil {
		return detach.File{}, err
	}
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   content,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return detach.File{}, classify(fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err))
	}
	return detach.File{ID: key, Name: name}, nil
}

func (s *S3Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return false, nil
		}
	}
	return false, classify(fmt.Errorf("failed to stat %s in bucket %s: %w", key, s.bucket, err))
}
