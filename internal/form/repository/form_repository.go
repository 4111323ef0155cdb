package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"gorm.io/gorm"
)

// 计数器字段
const (
	CounterViews       = "view_count"
	CounterStarts      = "start_count"
	CounterSubmissions = "submission_count"
)

// FormRepository 表单仓库
type FormRepository struct {
	db *gorm.DB
}

func NewFormRepository(db *gorm.DB) *FormRepository {
	return &FormRepository{db: db}
}

// FindByID 根据ID查找表单
func (r *FormRepository) FindByID(ctx context.Context, id string) (*entity.Form, error) {
	var form entity.Form
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &form, nil
}

// FindBySlug 根据slug查找表单
func (r *FormRepository) FindBySlug(ctx context.Context, slug string) (*entity.Form, error) {
	var form entity.Form
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&form).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &form, nil
}

// SlugExists slug是否已被占用
func (r *FormRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Form{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// FindByOwner 查询用户的全部表单（按创建时间倒序）
func (r *FormRepository) FindByOwner(ctx context.Context, ownerID string, search string) ([]entity.Form, error) {
	var forms []entity.Form
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}
	err := query.Order("created_at DESC").Find(&forms).Error
	return forms, err
}

// Create 创建表单
func (r *FormRepository) Create(ctx context.Context, form *entity.Form) error {
	return r.db.WithContext(ctx).Create(form).Error
}

// Updates 局部更新表单
func (r *FormRepository) Updates(ctx context.Context, id string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).Model(&entity.Form{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Increment 计数器原子加一
func (r *FormRepository) Increment(ctx context.Context, id, column string) error {
	switch column {
	case CounterViews, CounterStarts, CounterSubmissions:
	default:
		return fmt.Errorf("unknown counter %q", column)
	}
	return r.db.WithContext(ctx).Model(&entity.Form{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
}

// Delete 删除表单及其回答、上传记录
func (r *FormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("form_id = ?", id).Delete(&entity.FileUpload{}).Error; err != nil {
			return err
		}
		if err := tx.Where("form_id = ?", id).Delete(&entity.Response{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&entity.Form{}).Error
	})
}

// CountByOwner 统计用户表单数量
func (r *FormRepository) CountByOwner(ctx context.Context, ownerID string, activeOnly bool) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&entity.Form{}).Where("owner_id = ?", ownerID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Count(&count).Error
	return count, err
}

// SumCountersByOwner 汇总用户表单的访问、开始、提交次数
func (r *FormRepository) SumCountersByOwner(ctx context.Context, ownerID string) (views, starts, submissions int64, err error) {
	var row struct {
		Views       int64
		Starts      int64
		Submissions int64
	}
	err = r.db.WithContext(ctx).Model(&entity.Form{}).
		Select("COALESCE(SUM(view_count), 0) AS views, COALESCE(SUM(start_count), 0) AS starts, COALESCE(SUM(submission_count), 0) AS submissions").
		Where("owner_id = ?", ownerID).
		Scan(&row).Error
	return row.Views, row.Starts, row.Submissions, err
}
