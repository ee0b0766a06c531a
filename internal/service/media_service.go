package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
)

const MaxMediaSize = 10 << 20

var (
	ErrMediaNotFound    = errors.New("media not found")
	ErrMediaTooLarge    = errors.New("media exceeds the upload limit")
	ErrUnsupportedMedia = errors.New("only image and audio uploads are accepted")
)

// MediaService stores image and voice-note attachments and hands back the
// public URL that goes into the message record.
type MediaService struct {
	mediaRepo repository.MediaRepository
	baseURL   string
}

func NewMediaService(mediaRepo repository.MediaRepository, publicBaseURL string) *MediaService {
	return &MediaService{
		mediaRepo: mediaRepo,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *MediaService) Upload(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if !strings.HasPrefix(contentType, "image/") && !strings.HasPrefix(contentType, "audio/") {
		return "", ErrUnsupportedMedia
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxMediaSize+1))
	if err != nil {
		return "", fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxMediaSize {
		return "", ErrMediaTooLarge
	}

	key := uuid.NewString() + extension(contentType)
	obj := &domain.MediaObject{
		Key:         key,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.mediaRepo.Put(ctx, obj); err != nil {
		return "", fmt.Errorf("storing media: %w", err)
	}
	return s.URL(key), nil
}

func (s *MediaService) Open(ctx context.Context, key string) (*domain.MediaObject, error) {
	obj, err := s.mediaRepo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrMediaNotFound
	}
	return obj, nil
}

func (s *MediaService) URL(key string) string {
	return s.baseURL + "/media/" + key
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
