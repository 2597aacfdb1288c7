package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// uploadChunkSize keeps ProgressFunc callbacks frequent enough for a progress bar; the writer only
// reports after each chunk is flushed.
const uploadChunkSize = 256 * 1024

// UploadObject describes a single object write.
type UploadObject struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	Metadata    map[string]string
}

// UploadResult is returned once the object has been committed.
type UploadResult struct {
	Ref   string
	Bytes int64
}

// Uploader streams document uploads into the documents bucket.
type Uploader struct {
	client *gcs.Client
	bucket string
}

// NewUploader constructs an Uploader bound to bucket.
func NewUploader(client *gcs.Client, bucket string) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage uploader: bucket is required")
	}
	return &Uploader{client: client, bucket: bucket}, nil
}

// Upload writes obj and reports the number of bytes sent through onProgress. Cancelling ctx aborts
// the write and nothing is committed.
func (u *Uploader) Upload(ctx context.Context, obj UploadObject, onProgress func(sent int64)) (UploadResult, error) {
	if obj.Body == nil || strings.TrimSpace(obj.Name) == "" {
		return UploadResult{}, errors.New("storage uploader: object name and body are required")
	}

	// Cancelling the writer context is the only way to abandon a write without committing it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(obj.Name).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.ChunkSize = uploadChunkSize
	w.Metadata = obj.Metadata
	if onProgress != nil {
		w.ProgressFunc = onProgress
	}

	written, err := io.Copy(w, obj.Body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("storage uploader: write %s: %w", obj.Name, err)
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("storage uploader: commit %s: %w", obj.Name, err)
	}
	if onProgress != nil {
		onProgress(written)
	}
	return UploadResult{Ref: ObjectRef(u.bucket, obj.Name), Bytes: written}, nil
}

// Delete removes an object previously written by Upload. Missing objects are not an error.
func (u *Uploader) Delete(ctx context.Context, ref string) error {
	bucket, object, ok := ParseObjectRef(ref)
	if !ok {
		return fmt.Errorf("storage uploader: invalid object ref %q", ref)
	}
	err := u.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage uploader: delete %s: %w", ref, err)
	}
	return nil
}
