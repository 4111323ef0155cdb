package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// 卡片中最多展示的回答数
const maxCardAnswers = 6

// SendCard 向群聊发送消息卡片
func (c *FeishuClient) SendCard(ctx context.Context, chatID string, card InteractiveCard) error {
	content, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("序列化卡片内容失败: %w", err)
	}
	token, err := c.appToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]string{
		"receive_id": chatID,
		"msg_type":   "interactive",
		"content":    string(content),
	}
	var resp SendMessageResponse
	if err := c.post(ctx, "/open-apis/im/v1/messages?receive_id_type=chat_id", token, body, &resp); err != nil {
		return fmt.Errorf("发送消息卡片失败: %w", err)
	}
	return nil
}

// AnswerLine 卡片中展示的一条回答
type AnswerLine struct {
	Label string
	Value string
}

// NewSubmissionCard 创建新回答通知卡片
// formTitle: 表单标题
// total: 累计提交数
// answers: 按字段顺序的回答摘要
// responsesURL: 回答列表页地址
func NewSubmissionCard(formTitle string, total int64, answers []AnswerLine, responsesURL string) InteractiveCard {
	fields := make([]CardField, 0, maxCardAnswers)
	for i, a := range answers {
		if i >= maxCardAnswers {
			break
		}
		value := strings.TrimSpace(a.Value)
		if value == "" {
			value = "-"
		}
		if len([]rune(value)) > 80 {
			value = string([]rune(value)[:80]) + "…"
		}
		fields = append(fields, CardField{
			IsShort: len(value) <= 24,
			Text:    CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s**\n%s", a.Label, value)},
		})
	}

	elements := []CardElement{
		{
			Tag:  "div",
			Text: &CardText{Tag: "lark_md", Content: fmt.Sprintf("**%s** 收到第 %d 份回答", formTitle, total)},
		},
	}
	if len(fields) > 0 {
		elements = append(elements, CardElement{Tag: "div", Fields: fields})
	}
	if responsesURL != "" {
		elements = append(elements,
			CardElement{Tag: "hr"},
			CardElement{
				Tag: "action",
				Actions: []CardAction{
					{Tag: "button", Text: CardText{Tag: "plain_text", Content: "查看全部回答"}, Type: "primary", URL: responsesURL},
				},
			},
		)
	}

	return InteractiveCard{
		Config: &CardConfig{WideScreenMode: true},
		Header: &CardHeader{
			Title:    CardText{Tag: "plain_text", Content: "📝 新的表单回答"},
			Template: "blue",
		},
		Elements: elements,
	}
}
