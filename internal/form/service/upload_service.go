package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
)

// DefaultMaxUploadSize 默认上传大小上限
const DefaultMaxUploadSize int64 = 10 << 20

// UploadService 表单文件上传
type UploadService struct {
	forms   *repository.FormRepository
	uploads *repository.UploadRepository
	store   ObjectStore
	maxSize int64
	formSvc *FormService
}

// NewUploadService 创建上传服务
func NewUploadService(repos *repository.Repositories, store ObjectStore, maxSize int64, formSvc *FormService) *UploadService {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &UploadService{
		forms:   repos.Form,
		uploads: repos.Upload,
		store:   store,
		maxSize: maxSize,
		formSvc: formSvc,
	}
}

// MaxSize 上传大小上限
func (s *UploadService) MaxSize() int64 {
	return s.maxSize
}

// UploadInput 上传文件
type UploadInput struct {
	FieldID     string
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
	Password    string
}

// Upload 填写者上传文件，返回上传记录（提交时用ID作为回答）
func (s *UploadService) Upload(ctx context.Context, slug string, in UploadInput) (*entity.FileUpload, error) {
	if s.store == nil {
		return nil, ErrStorageUnavailable
	}

	form, err := s.forms.FindBySlug(ctx, slug)
	if err != nil {
		return nil, notFound(err, ErrFormNotFound)
	}
	if !form.IsActive {
		return nil, ErrFormInactive
	}
	if form.Expired(time.Now()) {
		return nil, ErrFormExpired
	}
	if !checkPassword(form, in.Password) {
		return nil, ErrInvalidPassword
	}

	field, ok := form.Schema.Data().Field(in.FieldID)
	if !ok || field.Type != entity.FieldFileUpload {
		return nil, ErrInvalidUpload
	}
	if in.Size <= 0 || in.Size > s.maxSize {
		return nil, ErrFileTooLarge
	}

	name := sanitizeFileName(in.FileName)
	upload := &entity.FileUpload{
		ID:        generateID(),
		FormID:    form.ID,
		FieldID:   field.ID,
		FileName:  name,
		FileSize:  in.Size,
		MimeType:  in.ContentType,
		CreatedAt: time.Now(),
	}
	upload.StorageKey = fmt.Sprintf("forms/%s/%s/%s_%s", form.ID, field.ID, upload.ID, name)

	if err := s.store.Put(ctx, upload.StorageKey, io.LimitReader(in.Reader, in.Size), in.Size, in.ContentType); err != nil {
		return nil, err
	}
	if err := s.uploads.Create(ctx, upload); err != nil {
		_ = s.store.Remove(ctx, upload.StorageKey)
		return nil, fmt.Errorf("create upload: %w", err)
	}
	return upload, nil
}

// Open 所有者下载上传文件
func (s *UploadService) Open(ctx context.Context, ownerID, formID, uploadID string) (io.ReadCloser, *entity.FileUpload, error) {
	if s.store == nil {
		return nil, nil, ErrStorageUnavailable
	}
	if _, err := s.formSvc.Get(ctx, ownerID, formID); err != nil {
		return nil, nil, err
	}
	upload, err := s.uploads.FindByID(ctx, formID, uploadID)
	if err != nil {
		return nil, nil, notFound(err, ErrUploadNotFound)
	}
	rc, err := s.store.Get(ctx, upload.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, upload, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == '"' {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}
