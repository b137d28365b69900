// Package s3 處理商品圖片在物件儲存上的存取。
package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type ImageStore struct {
	// Client 是 S3 客戶端。
	Client *s3.Client
	// Bucket 是 S3 存儲桶的名稱。
	Bucket string
	// PublicEndpoint 是 S3 存儲桶的公開 Endpoint。
	PublicEndpoint *url.URL
}

func NewImageStore(client *s3.Client, bucket, publicBaseURL string) (*ImageStore, error) {
	const op = "NewImageStore"
	publicEndpoint, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse public base URL, err=%w", op, err)
	}
	return &ImageStore{Client: client, Bucket: bucket, PublicEndpoint: publicEndpoint}, nil
}

// ListingImageKey 產生商品圖片的物件路徑
func ListingImageKey(ext string) string {
	return fmt.Sprintf("listings/%s.%s", uuid.NewString(), ext)
}

// Upload 將圖片內容上傳到S3並返回公開存取的URL
func (s *ImageStore) Upload(ctx context.Context, key, contentType string, content []byte) (string, error) {
	const op = "Upload"
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to upload file to S3, err=%w", op, err)
	}
	uri := *s.PublicEndpoint
	uri.Path = key
	return uri.String(), nil
}
