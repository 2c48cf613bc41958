package invoice

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/imrishuroy/textile-storefront/internal/aws"
)

// Store keeps rendered invoices in an S3 bucket.
type Store struct {
	s3      aws.S3API
	presign aws.S3PresignAPI
	bucket  string
	urlTTL  time.Duration
}

func NewStore(client aws.S3API, presign aws.S3PresignAPI, bucket string, urlTTL time.Duration) *Store {
	return &Store{s3: client, presign: presign, bucket: bucket, urlTTL: urlTTL}
}

// Key is the object key of an order's invoice.
func Key(orderID string) string {
	return "invoices/" + orderID + ".pdf"
}

// Put uploads pdf and returns a presigned download URL.
func (s *Store) Put(ctx context.Context, orderID string, pdf []byte) (string, error) {
	key := Key(orderID)
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             &s.bucket,
		Key:                &key,
		Body:               bytes.NewReader(pdf),
		ContentType:        aws.String("application/pdf"),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", Filename(orderID))),
	})
	if err != nil {
		return "", fmt.Errorf("put invoice: %w", err)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.urlTTL))
	if err != nil {
		return "", fmt.Errorf("presign invoice: %w", err)
	}
	return req.URL, nil
}

// Filename is the download name of an order's invoice.
func Filename(orderID string) string {
	return "invoice-" + orderID + ".pdf"
}
