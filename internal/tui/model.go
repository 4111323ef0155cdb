// Package tui 终端逐题作答界面
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/runner"
)

// SubmitFunc 提交回答，返回回答ID
type SubmitFunc func(ctx context.Context, answers map[string]interface{}) (string, error)

type submittedMsg struct {
	responseID string
}

type submitErrMsg struct {
	err error
}

type styles struct {
	title    lipgloss.Style
	question lipgloss.Style
	help     lipgloss.Style
	option   lipgloss.Style
	selected lipgloss.Style
	errText  lipgloss.Style
	done     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		question: lipgloss.NewStyle().Bold(true),
		help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		option:   lipgloss.NewStyle().PaddingLeft(2),
		selected: lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("#04B575")).Bold(true),
		errText:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		done:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575")),
	}
}

// Model 作答界面状态
type Model struct {
	ctx    context.Context
	runner *runner.Runner
	submit SubmitFunc

	input    textinput.Model
	progress progress.Model
	cursor   int
	checked  map[string]bool

	submitting bool
	responseID string
	err        error
	quitting   bool

	styles styles
}

// New 创建作答界面
func New(ctx context.Context, schema entity.FormSchema, submit SubmitFunc) Model {
	ti := textinput.New()
	ti.CharLimit = 2000
	ti.Width = 60

	m := Model{
		ctx:      ctx,
		runner:   runner.New(schema),
		submit:   submit,
		input:    ti,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		styles:   defaultStyles(),
	}
	m.loadField()
	return m
}

// ResponseID 提交成功后的回答ID
func (m Model) ResponseID() string {
	return m.responseID
}

// Answers 当前已填写的回答
func (m Model) Answers() map[string]interface{} {
	return m.runner.Answers()
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func isTextField(t entity.FieldType) bool {
	switch t {
	case entity.FieldShortText, entity.FieldLongText, entity.FieldEmail, entity.FieldNumber:
		return true
	}
	return false
}

// loadField 切换题目时恢复已填写的回答
func (m *Model) loadField() {
	m.cursor = 0
	m.checked = make(map[string]bool)
	m.input.Reset()
	m.input.Blur()

	field, ok := m.runner.Current()
	if !ok {
		return
	}
	prev, _ := m.runner.Answer(field.ID)

	switch {
	case isTextField(field.Type):
		m.input.Placeholder = field.Placeholder
		if prev != nil {
			m.input.SetValue(fmt.Sprint(prev))
		}
		m.input.Focus()
	case field.Type == entity.FieldMultipleChoice || field.Type == entity.FieldDropdown:
		if s, ok := prev.(string); ok {
			for i, opt := range field.Options {
				if opt == s {
					m.cursor = i
				}
			}
		}
	case field.Type == entity.FieldCheckbox:
		if items, ok := runner.ToStrings(prev); ok {
			for _, item := range items {
				m.checked[item] = true
			}
		}
	case field.Type == entity.FieldRating:
		if n, ok := runner.ToNumber(prev); ok {
			m.cursor = int(n)
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case submittedMsg:
		m.submitting = false
		m.responseID = msg.responseID
		m.runner.MarkSubmitted()
		return m, nil

	case submitErrMsg:
		m.submitting = false
		m.err = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.progress.Width = min(msg.Width-4, 60)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.quitting = true
			return m, tea.Quit
		}
		if m.runner.Submitted() {
			m.quitting = true
			return m, tea.Quit
		}
		if m.submitting {
			return m, nil
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	field, ok := m.runner.Current()
	if !ok {
		return m.advance(m.runner.Next())
	}

	switch msg.String() {
	case "esc", "shift+tab":
		m.err = nil
		m.runner.Back()
		m.loadField()
		return m, nil
	case "tab":
		return m.advance(m.runner.Next())
	}

	switch {
	case isTextField(field.Type):
		if msg.Type == tea.KeyEnter {
			return m.advance(m.runner.NextWith(textValue(field, m.input.Value())))
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case field.Type == entity.FieldMultipleChoice || field.Type == entity.FieldDropdown:
		switch msg.String() {
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
			return m, nil
		case "down", "j":
			m.cursor = min(m.cursor+1, len(field.Options)-1)
			return m, nil
		case "enter":
			if len(field.Options) == 0 {
				return m.advance(m.runner.Next())
			}
			return m.advance(m.runner.NextWith(field.Options[m.cursor]))
		}
		return m.advance(m.runner.HandleKey(msg.String()))

	case field.Type == entity.FieldCheckbox:
		switch msg.String() {
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
		case "down", "j":
			m.cursor = min(m.cursor+1, len(field.Options)-1)
		case " ", "x":
			if m.cursor < len(field.Options) {
				opt := field.Options[m.cursor]
				m.checked[opt] = !m.checked[opt]
			}
		case "enter":
			selected := make([]string, 0, len(m.checked))
			for _, opt := range field.Options {
				if m.checked[opt] {
					selected = append(selected, opt)
				}
			}
			return m.advance(m.runner.NextWith(selected))
		}
		return m, nil

	case field.Type == entity.FieldRating:
		maxRating := field.MaxRating
		if maxRating <= 0 {
			maxRating = entity.DefaultMaxRating
		}
		switch msg.String() {
		case "left", "h":
			m.cursor = max(m.cursor-1, 1)
			return m, nil
		case "right", "l":
			m.cursor = min(m.cursor+1, maxRating)
			return m, nil
		case "enter":
			if m.cursor == 0 {
				return m.advance(m.runner.Next())
			}
			return m.advance(m.runner.NextWith(float64(m.cursor)))
		}
		if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= maxRating {
			m.cursor = n
			return m.advance(m.runner.NextWith(float64(n)))
		}
		return m, nil
	}

	// 文件上传需在浏览器中完成
	if msg.Type == tea.KeyEnter {
		return m.advance(m.runner.Next())
	}
	return m, nil
}

// textValue 数字题输入可解析时按数字提交
func textValue(field entity.FormField, raw string) interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if field.Type == entity.FieldNumber {
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	}
	return raw
}

func (m Model) advance(outcome runner.Outcome, err error) (tea.Model, tea.Cmd) {
	m.err = err
	switch outcome {
	case runner.OutcomeAdvance:
		m.loadField()
		return m, textinput.Blink
	case runner.OutcomeSubmit:
		m.submitting = true
		return m, m.submitCmd()
	}
	return m, nil
}

func (m Model) submitCmd() tea.Cmd {
	answers := m.runner.Answers()
	submit := m.submit
	ctx := m.ctx
	return func() tea.Msg {
		id, err := submit(ctx, answers)
		if err != nil {
			return submitErrMsg{err: err}
		}
		return submittedMsg{responseID: id}
	}
}

func (m Model) View() string {
	if m.quitting && !m.runner.Submitted() {
		return ""
	}

	var b strings.Builder
	schema := m.runner.Schema()
	b.WriteString(m.styles.title.Render(schema.Title))
	b.WriteString("\n")
	if schema.Description != "" {
		b.WriteString(m.styles.help.Render(schema.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if m.runner.Submitted() {
		b.WriteString(m.styles.done.Render("Thank you! Your response has been recorded."))
		b.WriteString("\n\n")
		b.WriteString(m.styles.help.Render("Press any key to exit."))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(m.progress.ViewAs(m.runner.Progress() / 100))
	b.WriteString(fmt.Sprintf("  %d/%d\n\n", m.runner.Index()+1, m.runner.Len()))

	field, ok := m.runner.Current()
	if ok {
		label := field.Label
		if field.Required {
			label += " *"
		}
		b.WriteString(m.styles.question.Render(label))
		b.WriteString("\n")
		if field.HelpText != "" {
			b.WriteString(m.styles.help.Render(field.HelpText))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.fieldView(field))
		b.WriteString("\n")
	}

	if m.submitting {
		b.WriteString("\nSubmitting...\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(m.styles.errText.Render(errorText(m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.help.Render(m.helpText(field)))
	b.WriteString("\n")
	return b.String()
}

func (m Model) fieldView(field entity.FormField) string {
	var b strings.Builder
	switch {
	case isTextField(field.Type):
		b.WriteString(m.input.View())
	case field.Type == entity.FieldMultipleChoice || field.Type == entity.FieldDropdown:
		for i, opt := range field.Options {
			line := fmt.Sprintf("%s) %s", runner.OptionKey(i), opt)
			if i == m.cursor {
				b.WriteString(m.styles.selected.Render("> " + line))
			} else {
				b.WriteString(m.styles.option.Render("  " + line))
			}
			b.WriteString("\n")
		}
	case field.Type == entity.FieldCheckbox:
		for i, opt := range field.Options {
			box := "[ ]"
			if m.checked[opt] {
				box = "[x]"
			}
			line := box + " " + opt
			if i == m.cursor {
				b.WriteString(m.styles.selected.Render("> " + line))
			} else {
				b.WriteString(m.styles.option.Render("  " + line))
			}
			b.WriteString("\n")
		}
	case field.Type == entity.FieldRating:
		maxRating := field.MaxRating
		if maxRating <= 0 {
			maxRating = entity.DefaultMaxRating
		}
		for i := 1; i <= maxRating; i++ {
			star := "☆"
			if i <= m.cursor {
				star = "★"
			}
			b.WriteString(star + " ")
		}
	case field.Type == entity.FieldFileUpload:
		b.WriteString(m.styles.help.Render("File uploads are only available in the browser."))
	}
	return b.String()
}

func (m Model) helpText(field entity.FormField) string {
	switch field.Type {
	case entity.FieldMultipleChoice, entity.FieldDropdown:
		return "A-Z choose • ↑/↓ move • enter confirm • esc back"
	case entity.FieldCheckbox:
		return "space toggle • ↑/↓ move • enter confirm • esc back"
	case entity.FieldRating:
		return "1-9 rate • ←/→ adjust • enter confirm • esc back"
	}
	return "enter next • esc back • ctrl+c quit"
}

func errorText(err error) string {
	var verr *runner.ValidationError
	if errors.As(err, &verr) && len(verr.Fields) > 0 {
		msgs := make([]string, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			msgs = append(msgs, f.Error())
		}
		return strings.Join(msgs, "\n")
	}
	var fe *runner.FieldError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// Run 启动交互式作答，返回回答ID（用户中途退出时为空）
func Run(ctx context.Context, schema entity.FormSchema, submit SubmitFunc) (string, error) {
	p := tea.NewProgram(New(ctx, schema, submit), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("run form: %w", err)
	}
	return final.(Model).ResponseID(), nil
}
