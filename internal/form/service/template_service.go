package service

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// FormTemplate 表单模板
type FormTemplate struct {
	Key         string            `json:"key" yaml:"key"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	Schema      entity.FormSchema `json:"schema" yaml:"schema"`
}

// TemplateService 内置表单模板
type TemplateService struct {
	templates map[string]FormTemplate
	order     []string
}

// NewTemplateService 加载内置模板
func NewTemplateService() *TemplateService {
	s, err := loadTemplates(templateFS)
	if err != nil {
		panic(fmt.Sprintf("load form templates: %v", err))
	}
	return s
}

func loadTemplates(fsys fs.FS) (*TemplateService, error) {
	files, err := fs.Glob(fsys, "templates/*.yaml")
	if err != nil {
		return nil, err
	}

	s := &TemplateService{templates: make(map[string]FormTemplate, len(files))}
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var tpl FormTemplate
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		tpl.Schema.Normalize()
		if err := tpl.Schema.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.Key, err)
		}
		s.templates[tpl.Key] = tpl
		s.order = append(s.order, tpl.Key)
	}
	sort.Strings(s.order)
	return s, nil
}

// List 模板列表
func (s *TemplateService) List() []FormTemplate {
	out := make([]FormTemplate, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.templates[key])
	}
	return out
}

// Get 按key获取模板
func (s *TemplateService) Get(key string) (FormTemplate, error) {
	tpl, ok := s.templates[key]
	if !ok {
		return FormTemplate{}, ErrTemplateNotFound
	}
	tpl.Schema.Fields = append([]entity.FormField(nil), tpl.Schema.Fields...)
	return tpl, nil
}
