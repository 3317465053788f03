package model

// ModelInfo 描述目录中一个可选模型及其能力开关。
type ModelInfo struct {
	ID                  string `json:"id"`
	SupportsReasoning   bool   `json:"supportsReasoning"`
	SupportsAudio       bool   `json:"supportsAudio"`
	SupportsAudioOutput bool   `json:"supportsAudioOutput"`
}

// ModelCatalog 按类别列出前台可选的模型。
var ModelCatalog = map[string][]ModelInfo{
	"flagship": {
		{ID: "gpt-4o"},
		{ID: "gpt-4o-mini"},
		{ID: "gpt-4.5-preview"},
	},
	"reasoning": {
		{ID: "o1", SupportsReasoning: true},
		{ID: "o1-mini", SupportsReasoning: true},
		{ID: "o3-mini", SupportsReasoning: true},
	},
	"audio": {
		{ID: "gpt-4o-audio-preview", SupportsAudio: true, SupportsAudioOutput: true},
		{ID: "whisper-1", SupportsAudio: true},
	},
}

// FindModel 在目录中查找模型，返回其信息与所属类别。
func FindModel(id string) (ModelInfo, string, bool) {
	for category, models := range ModelCatalog {
		for _, m := range models {
			if m.ID == id {
				return m, category, true
			}
		}
	}
	return ModelInfo{}, "", false
}

// DefaultModelConfig 返回前台的初始模型配置。
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:         "gpt-4o",
		ModelCategory: "flagship",
		Temperature:   0.7,
		MaxTokens:     2048,
		TopP:          1.0,
		Streaming:     true,
	}
}
