package repositories

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	R2Client     *s3.Client
	R2BucketName string
	R2Endpoint   string
)

// InitR2 initializes the R2 client used for encrypted vault exports.
func InitR2(accessKey, secretKey, accountID, bucketName, region string) error {
	R2BucketName = bucketName
	R2Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)

	cfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		Region:      region,
	}

	R2Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(R2Endpoint)
		o.UsePathStyle = true
	})

	log.Println("Successfully initialized R2 client")

	return nil
}

// UploadObject stores an export blob under the given key. Overridable
// so handler tests can capture uploads instead of hitting R2.
var UploadObject = uploadObject

func uploadObject(ctx context.Context, key, contentType string, data []byte) error {
	_, err := R2Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(R2BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

// GeneratePresignedGetURL creates a presigned URL for downloading an
// object from R2. Overridable like UploadObject.
var GeneratePresignedGetURL = generatePresignedGetURL

func generatePresignedGetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presigner := s3.NewPresignClient(R2Client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(R2BucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
