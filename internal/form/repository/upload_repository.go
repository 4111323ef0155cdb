package repository

import (
	"context"
	"errors"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"gorm.io/gorm"
)

// UploadRepository 文件上传记录仓库
type UploadRepository struct {
	db *gorm.DB
}

func NewUploadRepository(db *gorm.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

// Create 创建上传记录
func (r *UploadRepository) Create(ctx context.Context, upload *entity.FileUpload) error {
	return r.db.WithContext(ctx).Create(upload).Error
}

// FindByID 根据ID查找上传记录
func (r *UploadRepository) FindByID(ctx context.Context, formID, id string) (*entity.FileUpload, error) {
	var upload entity.FileUpload
	err := r.db.WithContext(ctx).Where("id = ? AND form_id = ?", id, formID).First(&upload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &upload, nil
}

// FindByForm 查询表单的全部上传记录
func (r *UploadRepository) FindByForm(ctx context.Context, formID string) ([]entity.FileUpload, error) {
	var items []entity.FileUpload
	err := r.db.WithContext(ctx).Where("form_id = ?", formID).Order("created_at ASC").Find(&items).Error
	return items, err
}

// CountByForm 统计表单已关联回答的上传数（按字段）
func (r *UploadRepository) CountByForm(ctx context.Context, formID string) (map[string]int64, error) {
	var rows []struct {
		FieldID string
		Total   int64
	}
	err := r.db.WithContext(ctx).Model(&entity.FileUpload{}).
		Select("field_id, COUNT(*) AS total").
		Where("form_id = ? AND response_id IS NOT NULL", formID).
		Group("field_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.FieldID] = row.Total
	}
	return counts, nil
}
