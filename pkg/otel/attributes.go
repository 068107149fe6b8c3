package otel

import "go.opentelemetry.io/otel/attribute"

// Standard attribute keys for vocagent spans.
const (
	AttrSessionID           = "session.id"
	AttrUserID              = "user.id"
	AttrRequestID           = "request.id"
	AttrLLMModel            = "llm.model"
	AttrLLMPromptTokens     = "llm.usage.prompt_tokens"
	AttrLLMCompletionTokens = "llm.usage.completion_tokens"
	AttrLLMTotalTokens      = "llm.usage.total_tokens"
	AttrToolName            = "tool.name"
	AttrToolStatus          = "tool.status"
	AttrTTSCharacter        = "tts.character"
	AttrTTSEmotion          = "tts.emotion"
	AttrTTSLatencyMs        = "tts.latency_ms"
)

func SessionID(id string) attribute.KeyValue { return attribute.String(AttrSessionID, id) }
func UserID(id string) attribute.KeyValue    { return attribute.String(AttrUserID, id) }
func RequestID(id string) attribute.KeyValue { return attribute.String(AttrRequestID, id) }

func LLMModel(model string) attribute.KeyValue     { return attribute.String(AttrLLMModel, model) }
func LLMPromptTokens(n int) attribute.KeyValue     { return attribute.Int(AttrLLMPromptTokens, n) }
func LLMCompletionTokens(n int) attribute.KeyValue { return attribute.Int(AttrLLMCompletionTokens, n) }
func LLMTotalTokens(n int) attribute.KeyValue      { return attribute.Int(AttrLLMTotalTokens, n) }

func ToolName(name string) attribute.KeyValue     { return attribute.String(AttrToolName, name) }
func ToolStatus(status string) attribute.KeyValue { return attribute.String(AttrToolStatus, status) }

func TTSCharacter(c string) attribute.KeyValue  { return attribute.String(AttrTTSCharacter, c) }
func TTSEmotion(e string) attribute.KeyValue    { return attribute.String(AttrTTSEmotion, e) }
func TTSLatencyMs(ms int64) attribute.KeyValue  { return attribute.Int64(AttrTTSLatencyMs, ms) }
