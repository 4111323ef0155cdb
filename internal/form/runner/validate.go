package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"

	"github.com/charrlodin/otter-form/internal/form/entity"
)

// 校验错误
var (
	ErrRequired      = errors.New("this field is required")
	ErrInvalidEmail  = errors.New("please enter a valid email address")
	ErrInvalidNumber = errors.New("please enter a number")
	ErrUnknownOption = errors.New("please choose one of the listed options")
	ErrRatingRange   = errors.New("rating is out of range")
	ErrInvalidValue  = errors.New("unsupported answer value")
)

// FieldError 单个字段的校验错误
type FieldError struct {
	FieldID string `json:"field_id"`
	Label   string `json:"label"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Label, e.Message)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidationError 多个字段的校验错误
type ValidationError struct {
	Fields []*FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "invalid answers: " + strings.Join(msgs, "; ")
}

func newFieldError(field entity.FormField, err error) *FieldError {
	return &FieldError{FieldID: field.ID, Label: field.Label, Err: err, Message: err.Error()}
}

// IsEmpty 判断回答是否为空。数字0视为有效回答
func IsEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case json.Number:
		return v == ""
	case []string:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	}
	return false
}

// ValidateAnswer 校验单个字段的回答
func ValidateAnswer(field entity.FormField, value interface{}) error {
	if IsEmpty(value) {
		if field.Required {
			return newFieldError(field, ErrRequired)
		}
		return nil
	}

	var err error
	switch field.Type {
	case entity.FieldShortText, entity.FieldLongText:
		if _, ok := value.(string); !ok {
			err = ErrInvalidValue
		}
	case entity.FieldEmail:
		s, ok := value.(string)
		if !ok || !isEmail(s) {
			err = ErrInvalidEmail
		}
	case entity.FieldNumber:
		if _, ok := ToNumber(value); !ok {
			err = ErrInvalidNumber
		}
	case entity.FieldRating:
		n, ok := ToNumber(value)
		maxRating := field.MaxRating
		if maxRating <= 0 {
			maxRating = entity.DefaultMaxRating
		}
		if !ok || n != float64(int(n)) || n < 1 || int(n) > maxRating {
			err = ErrRatingRange
		}
	case entity.FieldMultipleChoice, entity.FieldDropdown:
		s, ok := value.(string)
		if !ok || !contains(field.Options, s) {
			err = ErrUnknownOption
		}
	case entity.FieldCheckbox:
		items, ok := ToStrings(value)
		if !ok {
			err = ErrUnknownOption
			break
		}
		for _, item := range items {
			if !contains(field.Options, item) {
				err = ErrUnknownOption
				break
			}
		}
	case entity.FieldFileUpload:
		if _, ok := value.(string); !ok {
			err = ErrInvalidValue
		}
	}
	if err != nil {
		return newFieldError(field, err)
	}
	return nil
}

// ValidateAnswers 按表单结构校验全部回答，返回只包含已知字段的回答
func ValidateAnswers(schema entity.FormSchema, answers map[string]interface{}) (map[string]interface{}, error) {
	clean := make(map[string]interface{}, len(schema.Fields))
	var verr ValidationError
	for _, field := range schema.Fields {
		value := answers[field.ID]
		if err := ValidateAnswer(field, value); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				verr.Fields = append(verr.Fields, fe)
			}
			continue
		}
		if !IsEmpty(value) {
			clean[field.ID] = value
		}
	}
	if len(verr.Fields) > 0 {
		return nil, &verr
	}
	return clean, nil
}

func isEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == strings.TrimSpace(s) && strings.Contains(addr.Address, "@")
}

// ToNumber 将回答转换为有限数字。JSON 列读回的数字为 json.Number
func ToNumber(value interface{}) (float64, bool) {
	var n float64
	switch v := value.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// ToStrings 将多选回答转换为字符串列表
func ToStrings(value interface{}) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
