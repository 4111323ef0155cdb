package service

import (
	"context"
	"fmt"
	"math"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/runner"
	"golang.org/x/sync/errgroup"
)

// StatsService 表单统计
type StatsService struct {
	forms     *FormService
	formRepo  *repository.FormRepository
	responses *repository.ResponseRepository
	uploads   *repository.UploadRepository
}

// NewStatsService 创建统计服务
func NewStatsService(repos *repository.Repositories, forms *FormService) *StatsService {
	return &StatsService{
		forms:     forms,
		formRepo:  repos.Form,
		responses: repos.Response,
		uploads:   repos.Upload,
	}
}

// FormStats 单个表单的漏斗统计
type FormStats struct {
	ViewCount       int64   `json:"view_count"`
	StartCount      int64   `json:"start_count"`
	SubmissionCount int64   `json:"submission_count"`
	CompletionRate  float64 `json:"completion_rate"`
	DropOffRate     float64 `json:"drop_off_rate"`
}

// CompletionRate 提交数/浏览数百分比，保留一位小数
func CompletionRate(submissions, views int64) float64 {
	if views <= 0 {
		return 0
	}
	return round1(float64(submissions) / float64(views) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Stats 单个表单统计
func (s *StatsService) Stats(ctx context.Context, ownerID, formID string) (*FormStats, error) {
	form, err := s.forms.Get(ctx, ownerID, formID)
	if err != nil {
		return nil, err
	}
	submissions, err := s.responses.CountByForm(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}

	completion := CompletionRate(submissions, form.ViewCount)
	return &FormStats{
		ViewCount:       form.ViewCount,
		StartCount:      form.StartCount,
		SubmissionCount: submissions,
		CompletionRate:  completion,
		DropOffRate:     round1(100 - completion),
	}, nil
}

// FieldSummary 单个字段的回答汇总
type FieldSummary struct {
	FieldID      string           `json:"field_id"`
	Label        string           `json:"label"`
	Type         entity.FieldType `json:"type"`
	Answered     int64            `json:"answered"`
	OptionCounts map[string]int64 `json:"option_counts,omitempty"`
	Min          *float64         `json:"min,omitempty"`
	Max          *float64         `json:"max,omitempty"`
	Average      *float64         `json:"average,omitempty"`
	Uploads      *int64           `json:"uploads,omitempty"`
}

// FormSummary 表单回答汇总
type FormSummary struct {
	Total  int64          `json:"total"`
	Fields []FieldSummary `json:"fields"`
}

// Summary 按字段汇总回答
func (s *StatsService) Summary(ctx context.Context, ownerID, formID string) (*FormSummary, error) {
	form, err := s.forms.Get(ctx, ownerID, formID)
	if err != nil {
		return nil, err
	}
	responses, err := s.responses.FindAllByForm(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	uploadCounts, err := s.uploads.CountByForm(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("count uploads: %w", err)
	}

	schema := form.Schema.Data()
	summary := &FormSummary{Total: int64(len(responses)), Fields: make([]FieldSummary, 0, len(schema.Fields))}
	for _, field := range schema.Fields {
		summary.Fields = append(summary.Fields, summarizeField(field, responses, uploadCounts))
	}
	return summary, nil
}

func summarizeField(field entity.FormField, responses []entity.Response, uploadCounts map[string]int64) FieldSummary {
	fs := FieldSummary{FieldID: field.ID, Label: field.Label, Type: field.Type}
	if field.Type.HasOptions() {
		fs.OptionCounts = make(map[string]int64, len(field.Options))
		for _, opt := range field.Options {
			fs.OptionCounts[opt] = 0
		}
	}

	var sum float64
	var numbers int64
	for _, resp := range responses {
		value, ok := resp.Answers[field.ID]
		if !ok || runner.IsEmpty(value) {
			continue
		}
		fs.Answered++

		switch field.Type {
		case entity.FieldMultipleChoice, entity.FieldDropdown:
			if v, ok := value.(string); ok {
				fs.OptionCounts[v]++
			}
		case entity.FieldCheckbox:
			items, _ := runner.ToStrings(value)
			for _, item := range items {
				fs.OptionCounts[item]++
			}
		case entity.FieldNumber, entity.FieldRating:
			n, ok := runner.ToNumber(value)
			if !ok {
				continue
			}
			if fs.Min == nil || n < *fs.Min {
				fs.Min = float64Ptr(n)
			}
			if fs.Max == nil || n > *fs.Max {
				fs.Max = float64Ptr(n)
			}
			sum += n
			numbers++
		}
	}
	if numbers > 0 {
		fs.Average = float64Ptr(round1(sum / float64(numbers)))
	}
	if field.Type == entity.FieldFileUpload {
		n := uploadCounts[field.ID]
		fs.Uploads = &n
	}
	return fs
}

func float64Ptr(v float64) *float64 {
	return &v
}

// Overview 用户全部表单的汇总
type Overview struct {
	TotalForms     int64   `json:"total_forms"`
	ActiveForms    int64   `json:"active_forms"`
	TotalViews     int64   `json:"total_views"`
	TotalStarts    int64   `json:"total_starts"`
	TotalResponses int64   `json:"total_responses"`
	CompletionRate float64 `json:"completion_rate"`
}

// Overview 并发查询仪表盘汇总
func (s *StatsService) Overview(ctx context.Context, ownerID string) (*Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.formRepo.CountByOwner(gctx, ownerID, false)
		out.TotalForms = n
		return err
	})
	g.Go(func() error {
		n, err := s.formRepo.CountByOwner(gctx, ownerID, true)
		out.ActiveForms = n
		return err
	})
	g.Go(func() error {
		views, starts, _, err := s.formRepo.SumCountersByOwner(gctx, ownerID)
		out.TotalViews = views
		out.TotalStarts = starts
		return err
	})
	g.Go(func() error {
		n, err := s.responses.CountByOwner(gctx, ownerID)
		out.TotalResponses = n
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dashboard overview: %w", err)
	}
	out.CompletionRate = CompletionRate(out.TotalResponses, out.TotalViews)
	return &out, nil
}
