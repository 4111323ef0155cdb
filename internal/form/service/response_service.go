package service

import (
	"context"
	"fmt"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/sse"
)

// ResponseService 表单回答管理
type ResponseService struct {
	repo  *repository.ResponseRepository
	forms *FormService
	hub   *sse.Hub
}

// NewResponseService 创建回答服务
func NewResponseService(repo *repository.ResponseRepository, forms *FormService, hub *sse.Hub) *ResponseService {
	return &ResponseService{repo: repo, forms: forms, hub: hub}
}

// List 分页查询回答
func (s *ResponseService) List(ctx context.Context, ownerID, formID string, page, pageSize int) ([]entity.Response, int64, error) {
	if _, err := s.forms.Get(ctx, ownerID, formID); err != nil {
		return nil, 0, err
	}
	items, total, err := s.repo.FindByForm(ctx, formID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list responses: %w", err)
	}
	return items, total, nil
}

// Get 获取单条回答
func (s *ResponseService) Get(ctx context.Context, ownerID, formID, id string) (*entity.Response, error) {
	if _, err := s.forms.Get(ctx, ownerID, formID); err != nil {
		return nil, err
	}
	resp, err := s.repo.FindByID(ctx, formID, id)
	if err != nil {
		return nil, notFound(err, ErrResponseNotFound)
	}
	return resp, nil
}

// Delete 删除回答
func (s *ResponseService) Delete(ctx context.Context, ownerID, formID, id string) error {
	if _, err := s.forms.Get(ctx, ownerID, formID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, formID, id); err != nil {
		return notFound(err, ErrResponseNotFound)
	}
	s.hub.PublishResponse(ownerID, formID, id, "deleted")
	return nil
}
