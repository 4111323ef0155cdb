// Package runner 逐题作答流程：顺序遍历字段、键盘导航、校验后前进
package runner

import (
	"strings"

	"github.com/charrlodin/otter-form/internal/form/entity"
)

// Outcome 导航结果
type Outcome int

const (
	// OutcomeStay 停留在当前题目
	OutcomeStay Outcome = iota
	// OutcomeAdvance 已前进到下一题
	OutcomeAdvance
	// OutcomeSubmit 最后一题校验通过，应提交
	OutcomeSubmit
)

// 按键名称
const (
	KeyEnter = "enter"
)

// Runner 表单作答状态机
type Runner struct {
	schema    entity.FormSchema
	index     int
	answers   map[string]interface{}
	submitted bool
	lastErr   error
}

// New 创建作答状态机
func New(schema entity.FormSchema) *Runner {
	return &Runner{
		schema:  schema,
		answers: make(map[string]interface{}),
	}
}

// Schema 返回表单结构
func (r *Runner) Schema() entity.FormSchema {
	return r.schema
}

// Len 字段数量
func (r *Runner) Len() int {
	return len(r.schema.Fields)
}

// Index 当前题目下标
func (r *Runner) Index() int {
	return r.index
}

// Current 当前题目
func (r *Runner) Current() (entity.FormField, bool) {
	if r.index < 0 || r.index >= len(r.schema.Fields) {
		return entity.FormField{}, false
	}
	return r.schema.Fields[r.index], true
}

// IsLast 是否为最后一题
func (r *Runner) IsLast() bool {
	return r.index >= len(r.schema.Fields)-1
}

// Progress 进度百分比 (index+1)/n*100
func (r *Runner) Progress() float64 {
	n := len(r.schema.Fields)
	if n == 0 {
		return 100
	}
	return float64(r.index+1) / float64(n) * 100
}

// Answer 获取字段回答
func (r *Runner) Answer(fieldID string) (interface{}, bool) {
	v, ok := r.answers[fieldID]
	return v, ok
}

// Answers 返回全部回答的副本
func (r *Runner) Answers() map[string]interface{} {
	out := make(map[string]interface{}, len(r.answers))
	for k, v := range r.answers {
		out[k] = v
	}
	return out
}

// SetAnswer 设置当前题目的回答
func (r *Runner) SetAnswer(value interface{}) {
	field, ok := r.Current()
	if !ok {
		return
	}
	r.answers[field.ID] = value
	r.lastErr = nil
}

// Err 最近一次前进失败的原因
func (r *Runner) Err() error {
	return r.lastErr
}

// Submitted 是否已提交
func (r *Runner) Submitted() bool {
	return r.submitted
}

// MarkSubmitted 标记为已提交
func (r *Runner) MarkSubmitted() {
	r.submitted = true
}

// Next 校验当前回答并前进；最后一题通过校验时返回 OutcomeSubmit
func (r *Runner) Next() (Outcome, error) {
	if r.submitted {
		return OutcomeStay, nil
	}
	field, ok := r.Current()
	if !ok {
		return OutcomeSubmit, nil
	}
	if err := ValidateAnswer(field, r.answers[field.ID]); err != nil {
		r.lastErr = err
		return OutcomeStay, err
	}
	r.lastErr = nil
	if r.IsLast() {
		return OutcomeSubmit, nil
	}
	r.index++
	return OutcomeAdvance, nil
}

// NextWith 以给定值作为当前回答并前进
func (r *Runner) NextWith(value interface{}) (Outcome, error) {
	r.SetAnswer(value)
	return r.Next()
}

// Back 回到上一题，最小为0
func (r *Runner) Back() {
	if r.submitted {
		return
	}
	r.lastErr = nil
	if r.index > 0 {
		r.index--
	}
}

// HandleKey 处理键盘快捷键：单选/下拉题目按 A-Z 选择对应选项并前进，回车前进
func (r *Runner) HandleKey(key string) (Outcome, error) {
	field, ok := r.Current()
	if !ok || r.submitted {
		return OutcomeStay, nil
	}

	if strings.EqualFold(key, KeyEnter) {
		return r.Next()
	}

	if field.Type != entity.FieldMultipleChoice && field.Type != entity.FieldDropdown {
		return OutcomeStay, nil
	}
	if len(key) != 1 {
		return OutcomeStay, nil
	}
	k := strings.ToUpper(key)[0]
	if k < 'A' || k > 'Z' {
		return OutcomeStay, nil
	}
	idx := int(k - 'A')
	if idx >= len(field.Options) {
		return OutcomeStay, nil
	}
	return r.NextWith(field.Options[idx])
}

// OptionKey 选项对应的快捷键字母
func OptionKey(i int) string {
	if i < 0 || i >= 26 {
		return ""
	}
	return string(rune('A' + i))
}
