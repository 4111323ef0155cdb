package entity

import (
	"time"

	"gorm.io/datatypes"
)

// ChatRole 对话角色
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage AI对话记录
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// User 用户（身份由第三方认证服务提供）
type User struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	ExternalID string    `json:"external_id" gorm:"size:128;not null;uniqueIndex:idx_users_by_external_id"`
	Email      string    `json:"email" gorm:"size:255;not null"`
	Name       string    `json:"name" gorm:"size:128"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Form 表单
type Form struct {
	ID                 string                           `json:"id" gorm:"primaryKey;size:32"`
	OwnerID            string                           `json:"owner_id" gorm:"size:128;not null;index:idx_forms_by_owner"`
	Title              string                           `json:"title" gorm:"size:255;not null"`
	Description        string                           `json:"description" gorm:"type:text"`
	Slug               string                           `json:"slug" gorm:"size:64;not null;uniqueIndex:idx_forms_by_slug"`
	Schema             datatypes.JSONType[FormSchema]   `json:"schema" gorm:"not null"`
	AIPromptContext    string                           `json:"ai_prompt_context" gorm:"type:text"`
	IsActive           bool                             `json:"is_active" gorm:"not null;default:true"`
	RequiresPassword   bool                             `json:"requires_password" gorm:"not null;default:false"`
	PasswordHash       string                           `json:"-" gorm:"size:128"`
	ExpiresAt          *time.Time                       `json:"expires_at"`
	Settings           datatypes.JSONMap                `json:"settings"`
	GenerationSettings datatypes.JSONMap                `json:"generation_settings"`
	ViewCount          int64                            `json:"view_count" gorm:"not null;default:0"`
	StartCount         int64                            `json:"start_count" gorm:"not null;default:0"`
	SubmissionCount    int64                            `json:"submission_count" gorm:"not null;default:0"`
	ChatHistory        datatypes.JSONSlice[ChatMessage] `json:"chat_history"`
	CreatedAt          time.Time                        `json:"created_at"`
	UpdatedAt          time.Time                        `json:"updated_at"`
}

func (Form) TableName() string {
	return "forms"
}

// Expired 是否已过期
func (f *Form) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && !now.Before(*f.ExpiresAt)
}

// Response 表单回答
type Response struct {
	ID          string            `json:"id" gorm:"primaryKey;size:32"`
	FormID      string            `json:"form_id" gorm:"size:32;not null;index:idx_responses_by_form"`
	Answers     datatypes.JSONMap `json:"answers" gorm:"not null"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	SubmittedAt time.Time         `json:"submitted_at" gorm:"not null;index"`
}

func (Response) TableName() string {
	return "responses"
}

// FileUpload 文件上传记录
type FileUpload struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	FormID     string    `json:"form_id" gorm:"size:32;not null;index:idx_file_uploads_by_form"`
	ResponseID *string   `json:"response_id" gorm:"size:32;index"`
	FieldID    string    `json:"field_id" gorm:"size:64;not null"`
	StorageKey string    `json:"storage_key" gorm:"size:512;not null"`
	FileName   string    `json:"file_name" gorm:"size:255;not null"`
	FileSize   int64     `json:"file_size"`
	MimeType   string    `json:"mime_type" gorm:"size:128"`
	CreatedAt  time.Time `json:"created_at"`
}

func (FileUpload) TableName() string {
	return "file_uploads"
}

// All 需要迁移的全部实体
func All() []interface{} {
	return []interface{}{
		&User{},
		&Form{},
		&Response{},
		&FileUpload{},
	}
}
