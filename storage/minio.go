package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"XSlicer/config"
	"XSlicer/logger"
	"XSlicer/model"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const mirrorPrefix = "songs/"

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Mirror copies published songs to object storage as songs/<id>/audio.mp3 and
// songs/<id>/metadata.json, and can restore them into a local SongStore.
type Mirror struct {
	client     *minio.Client
	bucketName string
}

// NewMirror 创建 MinIO 客户端并确保存储桶存在
func NewMirror(ctx context.Context, cfg *config.Config) (*Mirror, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("MinIO mirror initialised",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return &Mirror{client: client, bucketName: cfg.MinioBucket}, nil
}

func objectKey(id, name string) string {
	return path.Join(mirrorPrefix, id, name)
}

// Published uploads a freshly published record. Metadata goes last so a
// mirrored metadata document always has its audio next to it.
func (m *Mirror) Published(ctx context.Context, rec *model.ContentRecord) error {
	if _, err := m.client.FPutObject(ctx, m.bucketName, objectKey(rec.ID, AudioFileName), rec.AudioPath,
		minio.PutObjectOptions{ContentType: "audio/mpeg"}); err != nil {
		return fmt.Errorf("upload audio for %s: %w", rec.ID, err)
	}

	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := m.client.PutObject(ctx, m.bucketName, objectKey(rec.ID, MetadataFileName),
		bytes.NewReader(doc), int64(len(doc)), minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("upload metadata for %s: %w", rec.ID, err)
	}

	logger.Info("song mirrored to object storage", logger.SongID(rec.ID))
	return nil
}

// Restore downloads a mirrored song and publishes it into store.
func (m *Mirror) Restore(ctx context.Context, store *SongStore, id string) (*model.ContentRecord, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid song id %q", id)
	}

	obj, err := m.client.GetObject(ctx, m.bucketName, objectKey(id, MetadataFileName), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get metadata for %s: %w", id, err)
	}
	defer obj.Close()

	var rec model.ContentRecord
	if err := json.NewDecoder(obj).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode mirrored metadata for %s: %w", id, err)
	}
	if rec.ID != id {
		return nil, fmt.Errorf("mirrored metadata id %q does not match %q", rec.ID, id)
	}

	tmp := filepath.Join(store.Root(), tmpDirName, "restore-"+id+"-"+uuid.NewString()+".mp3")
	if err := m.client.FGetObject(ctx, m.bucketName, objectKey(id, AudioFileName), tmp, minio.GetObjectOptions{}); err != nil {
		return nil, fmt.Errorf("get audio for %s: %w", id, err)
	}
	defer os.Remove(tmp)

	return store.Persist(&rec, tmp)
}

// ListObjects 列出镜像中的对象
func (m *Mirror) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	if prefix == "" {
		prefix = mirrorPrefix
	}

	var objects []ObjectInfo
	stats := &BucketStats{}
	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象失败: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, stats, nil
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
