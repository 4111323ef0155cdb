package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 导出编码
const (
	EncodingUTF8 = "utf-8"
	EncodingGBK  = "gbk"
)

// TimestampLayout 导出时间格式
const TimestampLayout = "2006-01-02 15:04:05"

var whitespaceRun = regexp.MustCompile(`\s+`)

// ExportService 回答导出
type ExportService struct {
	responses *repository.ResponseRepository
	forms     *FormService
}

// NewExportService 创建导出服务
func NewExportService(responses *repository.ResponseRepository, forms *FormService) *ExportService {
	return &ExportService{responses: responses, forms: forms}
}

// FormatAnswer 将回答转换为单元格文本，多选用 ", " 连接
func FormatAnswer(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case []string:
		return strings.Join(v, ", ")
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, FormatAnswer(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(value)
}

// ExportFilename 标题空白替换为下划线，加 _responses 后缀
func ExportFilename(title, ext string) string {
	name := whitespaceRun.ReplaceAllString(strings.TrimSpace(title), "_")
	if name == "" {
		name = "form"
	}
	return name + "_responses." + ext
}

// table 表头和数据行（最新在前）
func (s *ExportService) table(ctx context.Context, ownerID, formID string) (*entity.Form, [][]string, error) {
	form, err := s.forms.Get(ctx, ownerID, formID)
	if err != nil {
		return nil, nil, err
	}
	responses, err := s.responses.FindAllByForm(ctx, formID)
	if err != nil {
		return nil, nil, fmt.Errorf("load responses: %w", err)
	}

	fields := form.Schema.Data().Fields
	rows := make([][]string, 0, len(responses)+1)
	header := make([]string, 0, len(fields)+1)
	header = append(header, "Timestamp")
	for _, f := range fields {
		header = append(header, f.Label)
	}
	rows = append(rows, header)

	for _, resp := range responses {
		row := make([]string, 0, len(fields)+1)
		row = append(row, resp.SubmittedAt.UTC().Format(TimestampLayout))
		for _, f := range fields {
			row = append(row, FormatAnswer(resp.Answers[f.ID]))
		}
		rows = append(rows, row)
	}
	return form, rows, nil
}

func exportTitle(form *entity.Form) string {
	return firstNonEmpty(form.Title, form.Schema.Data().Title)
}

// ExportCSV 导出CSV，返回内容和文件名
func (s *ExportService) ExportCSV(ctx context.Context, ownerID, formID, encoding string) ([]byte, string, error) {
	form, rows, err := s.table(ctx, ownerID, formID)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, "", fmt.Errorf("write csv: %w", err)
	}

	data := buf.Bytes()
	switch strings.ToLower(encoding) {
	case "", EncodingUTF8, "utf8":
	case EncodingGBK:
		// Excel 中文环境默认按 GBK 打开
		data, _, err = transform.Bytes(simplifiedchinese.GBK.NewEncoder(), data)
		if err != nil {
			return nil, "", fmt.Errorf("encode gbk: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported encoding %q", encoding)
	}
	return data, ExportFilename(exportTitle(form), "csv"), nil
}

// ExportXLSX 导出xlsx
func (s *ExportService) ExportXLSX(ctx context.Context, ownerID, formID string) (*excelize.File, string, error) {
	form, rows, err := s.table(ctx, ownerID, formID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Responses"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for rowIdx, row := range rows {
		for colIdx, value := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+1)
			f.SetCellValue(sheet, cell, value)
			if rowIdx == 0 {
				f.SetCellStyle(sheet, cell, cell, boldStyle)
			}
		}
	}

	// 冻结表头
	f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	// 底部汇总行
	summaryRow := len(rows) + 1
	summaryStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("Total responses: %d", len(rows)-1))
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("A%d", summaryRow), summaryStyle)

	for i := range rows[0] {
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := 24.0
		if i == 0 {
			width = 20
		}
		f.SetColWidth(sheet, col, col, width)
	}

	return f, ExportFilename(exportTitle(form), "xlsx"), nil
}
