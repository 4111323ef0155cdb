package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/shared/feishu"
)

// Notifier 新回答通知
type Notifier interface {
	NotifySubmission(ctx context.Context, form *entity.Form, resp *entity.Response) error
}

// NopNotifier 不发送通知
type NopNotifier struct{}

func (NopNotifier) NotifySubmission(context.Context, *entity.Form, *entity.Response) error {
	return nil
}

// FeishuNotifier 通过飞书群消息卡片通知新回答
type FeishuNotifier struct {
	client    *feishu.FeishuClient
	chatID    string
	publicURL string
}

// NewFeishuNotifier 创建飞书通知
func NewFeishuNotifier(client *feishu.FeishuClient, chatID, publicURL string) *FeishuNotifier {
	return &FeishuNotifier{client: client, chatID: chatID, publicURL: strings.TrimRight(publicURL, "/")}
}

// NotifySubmission 发送新回答卡片
func (n *FeishuNotifier) NotifySubmission(ctx context.Context, form *entity.Form, resp *entity.Response) error {
	schema := form.Schema.Data()
	lines := make([]feishu.AnswerLine, 0, len(schema.Fields))
	for _, field := range schema.Fields {
		if field.Type == entity.FieldFileUpload {
			continue
		}
		lines = append(lines, feishu.AnswerLine{Label: field.Label, Value: FormatAnswer(resp.Answers[field.ID])})
	}

	var link string
	if n.publicURL != "" {
		link = fmt.Sprintf("%s/dashboard/forms/%s/responses", n.publicURL, form.ID)
	}
	card := feishu.NewSubmissionCard(form.Title, form.SubmissionCount+1, lines, link)
	return n.client.SendCard(ctx, n.chatID, card)
}
