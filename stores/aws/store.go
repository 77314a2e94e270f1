package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"bedtime-sketch/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const (
	audioExt         = ".wav"
	audioContentType = "audio/wav"

	// Object metadata keys; S3 lower-cases them.
	metaTheme     = "theme"
	metaCreatedAt = "created-at"
)

// s3Store keeps each story as <session id>/<story id>.wav with its theme and
// creation time in object metadata.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, core.WrapError(core.KindInternal, err, "unable to load SDK config")
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

// NewStoreWithClient wraps an existing client, e.g. one pointed at a compatible endpoint.
func NewStoreWithClient(client *s3.Client, bucketName string) *s3Store {
	return &s3Store{s3Client: client, bucket: bucketName}
}

func (s *s3Store) storyKey(sessionID, id string) (string, error) {
	if err := core.ValidateKey(sessionID); err != nil {
		return "", err
	}
	if err := core.ValidateKey(id); err != nil {
		return "", err
	}
	return path.Join(sessionID, id+audioExt), nil
}

func (s *s3Store) List(ctx context.Context, sessionID string) ([]*core.Story, error) {
	if err := core.ValidateKey(sessionID); err != nil {
		return nil, err
	}
	log := logrus.WithField("session_id", sessionID)

	stories := []*core.Story{}
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(sessionID + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stories for session %s: %w", sessionID, err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if !strings.HasSuffix(key, audioExt) {
				continue
			}
			head, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    object.Key,
			})
			if err != nil {
				log.WithError(err).Warnf("Failed to read metadata of %s, skipping", key)
				continue
			}
			story := storyFromMetadata(sessionID, key, head.Metadata, aws.ToTime(object.LastModified))
			story.Size = int(aws.ToInt64(object.Size))
			stories = append(stories, story)
		}
	}
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].CreatedAt.Before(stories[j].CreatedAt)
	})

	log.Debugf("Listed %d stories", len(stories))
	return stories, nil
}

func (s *s3Store) Get(ctx context.Context, sessionID, id string) (*core.Story, error) {
	key, err := s.storyKey(sessionID, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, core.NewError(core.KindNotFound, "story %s not found", id)
		}
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read story audio: %w", err)
	}

	story := storyFromMetadata(sessionID, key, resp.Metadata, aws.ToTime(resp.LastModified))
	story.Audio = audio
	story.Size = len(audio)
	return story, nil
}

func (s *s3Store) Save(ctx context.Context, story *core.Story) error {
	key, err := s.storyKey(story.SessionID, story.ID)
	if err != nil {
		return err
	}

	// Preserve CreatedAt on update.
	head, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		story.CreatedAt = storyFromMetadata(story.SessionID, key, head.Metadata, aws.ToTime(head.LastModified)).CreatedAt
	case isNotFound(err):
		if story.CreatedAt.IsZero() {
			story.CreatedAt = time.Now()
		}
	default:
		return fmt.Errorf("failed to check story %s: %w", story.ID, err)
	}
	story.Size = len(story.Audio)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(story.Audio),
		ContentLength: aws.Int64(int64(story.Size)),
		ContentType:   aws.String(audioContentType),
		Metadata: map[string]string{
			metaTheme:     string(story.Theme),
			metaCreatedAt: story.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to save story %s: %w", story.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": story.SessionID,
		"story_id":   story.ID,
		"size":       story.Size,
	}).Info("Story saved successfully")
	return nil
}

func (s *s3Store) Delete(ctx context.Context, sessionID, id string) error {
	key, err := s.storyKey(sessionID, id)
	if err != nil {
		return err
	}

	// DeleteObject succeeds for missing keys; check first so callers get a 404.
	if _, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNotFound(err) {
			return core.NewError(core.KindNotFound, "story %s not found", id)
		}
		return fmt.Errorf("failed to check story %s: %w", id, err)
	}

	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete story %s: %w", id, err)
	}
	return nil
}

func storyFromMetadata(sessionID, key string, meta map[string]string, modified time.Time) *core.Story {
	story := &core.Story{
		ID:        strings.TrimSuffix(path.Base(key), audioExt),
		SessionID: sessionID,
		Theme:     core.Theme(meta[metaTheme]),
		CreatedAt: modified,
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err == nil {
		story.CreatedAt = ts
	}
	return story
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
