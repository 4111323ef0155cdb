package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
)

// UserService 用户服务，同步身份提供方的资料
type UserService struct {
	repo *repository.UserRepository
}

// NewUserService 创建用户服务
func NewUserService(repo *repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

// UpsertUserRequest 同步用户资料请求
type UpsertUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// Upsert 按身份提供方ID创建或更新用户
func (s *UserService) Upsert(ctx context.Context, externalID string, req *UpsertUserRequest) (*entity.User, error) {
	user, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := time.Now()
	if user == nil {
		user = &entity.User{
			ID:         generateID(),
			ExternalID: externalID,
			Email:      strings.TrimSpace(req.Email),
			Name:       strings.TrimSpace(req.Name),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return user, nil
	}

	user.Email = strings.TrimSpace(req.Email)
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	user.UpdatedAt = now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Me 获取当前用户
func (s *UserService) Me(ctx context.Context, externalID string) (*entity.User, error) {
	user, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return user, nil
}
