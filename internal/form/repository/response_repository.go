package repository

import (
	"context"
	"errors"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"gorm.io/gorm"
)

// ResponseRepository 表单回答仓库
type ResponseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// FindByForm 分页查询表单回答（最新在前）
func (r *ResponseRepository) FindByForm(ctx context.Context, formID string, page, pageSize int) ([]entity.Response, int64, error) {
	var items []entity.Response
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Response{}).Where("form_id = ?", formID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("submitted_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindAllByForm 查询表单全部回答（导出、统计使用）
func (r *ResponseRepository) FindAllByForm(ctx context.Context, formID string) ([]entity.Response, error) {
	var items []entity.Response
	err := r.db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at DESC").
		Find(&items).Error
	return items, err
}

// FindByID 根据ID查找回答
func (r *ResponseRepository) FindByID(ctx context.Context, formID, id string) (*entity.Response, error) {
	var resp entity.Response
	err := r.db.WithContext(ctx).Where("id = ? AND form_id = ?", id, formID).First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &resp, nil
}

// CountByForm 统计表单回答数
func (r *ResponseRepository) CountByForm(ctx context.Context, formID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Response{}).Where("form_id = ?", formID).Count(&count).Error
	return count, err
}

// CountByOwner 统计用户全部表单的回答数
func (r *ResponseRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Response{}).
		Joins("JOIN forms ON forms.id = responses.form_id").
		Where("forms.owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}

// Submit 写入回答、关联上传文件并增加提交计数
func (r *ResponseRepository) Submit(ctx context.Context, resp *entity.Response, uploadIDs []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resp).Error; err != nil {
			return err
		}
		if len(uploadIDs) > 0 {
			if err := tx.Model(&entity.FileUpload{}).
				Where("id IN ? AND form_id = ? AND response_id IS NULL", uploadIDs, resp.FormID).
				Update("response_id", resp.ID).Error; err != nil {
				return err
			}
		}
		return tx.Model(&entity.Form{}).
			Where("id = ?", resp.FormID).
			UpdateColumn(CounterSubmissions, gorm.Expr(CounterSubmissions+" + ?", 1)).Error
	})
}

// Delete 删除回答（计数器不回退）
func (r *ResponseRepository) Delete(ctx context.Context, formID, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND form_id = ?", id, formID).Delete(&entity.Response{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&entity.FileUpload{}).
			Where("response_id = ?", id).
			Update("response_id", nil).Error
	})
}
