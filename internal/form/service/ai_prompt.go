package service

import (
	"encoding/json"
	"fmt"

	"github.com/charrlodin/otter-form/internal/form/entity"
	"github.com/charrlodin/otter-form/internal/form/llm"
)

const systemPrompt = `You are an expert form builder AI. Your goal is to help the user create the perfect form.
You should act as a consultant: ask probing questions to understand their specific needs, audience, and goals before generating the full form.
Don't just immediately generate a schema unless the user's request is very simple or they explicitly ask for it.

When you do generate or update the form, you must strictly follow this TypeScript interface for the schema:

type FormFieldType = "short_text" | "long_text" | "email" | "multiple_choice" | "checkbox" | "dropdown" | "number" | "rating" | "file_upload";

interface FormField {
  id: string; // unique generic id like "field_1", "field_2"
  label: string;
  type: FormFieldType;
  required: boolean;
  options?: string[]; // required for multiple_choice, dropdown, checkbox
  placeholder?: string;
  helpText?: string;
  maxRating?: number; // for rating, 5 or 10 based on user request (never above 10)
}

interface FormSchema {
  title: string;
  description?: string;
  fields: FormField[];
}

You must ALWAYS return a JSON object with this structure:
{
  "message": "Your conversational response to the user...",
  "schema": { ...FormSchema object... } // OPTIONAL: Only include this if you are creating or updating the form.
}

IMPORTANT RULES:
1. Unless the user explicitly asks NOT to, ALWAYS include a "Name" (short_text) and "Email" (email) field at the beginning of the form.
2. Do not include markdown formatting like ` + "```json" + `. Return ONLY the raw JSON object.
`

const currentSchemaMessage = "Here is the current form schema."

// aiReply 模型返回的 JSON 结构
type aiReply struct {
	Message string             `json:"message"`
	Schema  *entity.FormSchema `json:"schema,omitempty"`
}

// buildMessages 组装对话：有当前结构时进入修改模式
func buildMessages(prompt string, current *entity.FormSchema) ([]llm.Message, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	if current == nil {
		return append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: "I want to build a form. " + prompt,
		}), nil
	}

	seed, err := json.Marshal(aiReply{Message: currentSchemaMessage, Schema: current})
	if err != nil {
		return nil, fmt.Errorf("encode current schema: %w", err)
	}
	return append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: string(seed)},
		llm.Message{Role: llm.RoleUser, Content: "Refine the form or answer my question: " + prompt},
	), nil
}

// parseReply 解析模型回复，容忍代码块包裹
func parseReply(raw string) (*aiReply, error) {
	var reply aiReply
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &reply); err != nil {
		return nil, llm.NewError(llm.KindInvalidResponse, 0, "reply is not valid JSON", err)
	}
	if reply.Schema != nil {
		reply.Schema.Normalize()
		if err := reply.Schema.Validate(); err != nil {
			return nil, llm.NewError(llm.KindInvalidResponse, 0, "schema: "+err.Error(), err)
		}
	}
	return &reply, nil
}
