package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	User     *UserRepository
	Form     *FormRepository
	Response *ResponseRepository
	Upload   *UploadRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Form:     NewFormRepository(db),
		Response: NewResponseRepository(db),
		Upload:   NewUploadRepository(db),
	}
}
