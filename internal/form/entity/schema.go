package entity

import (
	"fmt"
	"strings"
)

// FieldType 表单字段类型
type FieldType string

const (
	FieldShortText      FieldType = "short_text"
	FieldLongText       FieldType = "long_text"
	FieldEmail          FieldType = "email"
	FieldMultipleChoice FieldType = "multiple_choice"
	FieldCheckbox       FieldType = "checkbox"
	FieldDropdown       FieldType = "dropdown"
	FieldNumber         FieldType = "number"
	FieldRating         FieldType = "rating"
	FieldFileUpload     FieldType = "file_upload"
)

// DefaultMaxRating 评分字段默认满分
const DefaultMaxRating = 10

var knownFieldTypes = map[FieldType]bool{
	FieldShortText:      true,
	FieldLongText:       true,
	FieldEmail:          true,
	FieldMultipleChoice: true,
	FieldCheckbox:       true,
	FieldDropdown:       true,
	FieldNumber:         true,
	FieldRating:         true,
	FieldFileUpload:     true,
}

// Valid 是否为已知字段类型
func (t FieldType) Valid() bool {
	return knownFieldTypes[t]
}

// HasOptions 选项类字段
func (t FieldType) HasOptions() bool {
	return t == FieldMultipleChoice || t == FieldCheckbox || t == FieldDropdown
}

// FormField 表单字段定义
type FormField struct {
	ID          string    `json:"id" yaml:"id"`
	Label       string    `json:"label" yaml:"label"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Options     []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText    string    `json:"helpText,omitempty" yaml:"help_text,omitempty"`
	MaxRating   int       `json:"maxRating,omitempty" yaml:"max_rating,omitempty"`
}

// FormSchema 表单结构，由AI生成或用户编辑
type FormSchema struct {
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []FormField `json:"fields" yaml:"fields"`
}

// Field 按ID查找字段
func (s FormSchema) Field(id string) (FormField, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FormField{}, false
}

// Normalize 规范化字段：补全ID、去重、修正评分范围、清理options
func (s *FormSchema) Normalize() {
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	if s.Fields == nil {
		s.Fields = []FormField{}
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		f.Label = strings.TrimSpace(f.Label)
		f.Type = FieldType(strings.ToLower(strings.TrimSpace(string(f.Type))))
		f.ID = strings.TrimSpace(f.ID)

		if f.ID == "" || seen[f.ID] {
			n := i + 1
			for {
				candidate := fmt.Sprintf("field_%d", n)
				if !seen[candidate] {
					f.ID = candidate
					break
				}
				n++
			}
		}
		seen[f.ID] = true

		if f.Type.HasOptions() {
			opts := make([]string, 0, len(f.Options))
			seenOpt := make(map[string]bool, len(f.Options))
			for _, o := range f.Options {
				if o = strings.TrimSpace(o); o != "" && !seenOpt[o] {
					seenOpt[o] = true
					opts = append(opts, o)
				}
			}
			f.Options = opts
		} else {
			f.Options = nil
		}

		if f.Type == FieldRating {
			if f.MaxRating <= 0 {
				f.MaxRating = DefaultMaxRating
			}
			if f.MaxRating > DefaultMaxRating {
				f.MaxRating = DefaultMaxRating
			}
		} else {
			f.MaxRating = 0
		}
	}
}

// Validate 校验表单结构
func (s FormSchema) Validate() error {
	for i, f := range s.Fields {
		if !f.Type.Valid() {
			return fmt.Errorf("field %d: unknown type %q", i+1, f.Type)
		}
		if f.Label == "" {
			return fmt.Errorf("field %d: label is required", i+1)
		}
		if f.Type.HasOptions() && len(f.Options) == 0 {
			return fmt.Errorf("field %q: options are required for %s", f.ID, f.Type)
		}
	}
	return nil
}
