package interfaces

import "context"

// Blob buckets, one per ETL stage.
const (
	BucketRawData     = "raw-data"
	BucketAIProcessed = "ai-processed"
	BucketCleanedData = "cleaned-data"
	BucketFinalData   = "final-data"
)

// BlobStore stores opaque stage artifacts. A local-filesystem fallback is
// provided at the same interface when the remote store is unreachable.
type BlobStore interface {
	UploadBytes(ctx context.Context, bucket, key string, data []byte) (string, error)
	UploadText(ctx context.Context, bucket, key, text string) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Delete(ctx context.Context, bucket, key string) error
}
