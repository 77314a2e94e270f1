package stores

import (
	"context"

	"bedtime-sketch/config"
	"bedtime-sketch/core"
	"bedtime-sketch/stores/aws"
	"bedtime-sketch/stores/filesystem"
	"bedtime-sketch/stores/memory"
	"bedtime-sketch/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore builds the story archive selected by cfg.Type.
func GetStore(ctx context.Context, cfg config.StorageConfig) (core.StoryStore, error) {
	var (
		store core.StoryStore
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.Type,
	}

	switch cfg.Type {
	case "filesystem":
		storageField["basePath"] = cfg.BasePath
		store, err = filesystem.NewStore(cfg.BasePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.BucketName == "" {
			return nil, core.NewError(core.KindInternal, "S3_BUCKET_NAME must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.BucketName
		store, err = aws.NewStore(ctx, cfg.BucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
