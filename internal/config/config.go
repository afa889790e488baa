package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const settingsFile = "settings.json"

// Settings holds the application configuration consumed by the chat core.
// It lives in a plaintext settings.json with camelCase keys; it is the one
// data file that is deliberately not encrypted.
type Settings struct {
	SelectedModel          string  `mapstructure:"selectedModel" json:"selectedModel"`
	AllowInternetAccess    bool    `mapstructure:"allowInternetAccess" json:"allowInternetAccess"`
	OllamaBaseURL          string  `mapstructure:"ollamaBaseUrl" json:"ollamaBaseUrl"`
	OpenAICompatibleURL    string  `mapstructure:"openAiCompatibleUrl" json:"openAiCompatibleUrl"`
	TTSServiceURL          string  `mapstructure:"ttsServiceUrl" json:"ttsServiceUrl"`
	STTServiceURL          string  `mapstructure:"sttServiceUrl" json:"sttServiceUrl"`
	Temperature            float32 `mapstructure:"temperature" json:"temperature"`
	ContextLength          int     `mapstructure:"contextLength" json:"contextLength"`
	MaxTokens              int     `mapstructure:"maxTokens" json:"maxTokens"`
	DefaultLanguage        string  `mapstructure:"defaultLanguage" json:"defaultLanguage"`
	DarkMode               bool    `mapstructure:"darkMode" json:"darkMode"`
	AutoSaveConversations  bool    `mapstructure:"autoSaveConversations" json:"autoSaveConversations"`
	MaxConversationHistory int     `mapstructure:"maxConversationHistory" json:"maxConversationHistory"`
	AppLanguage            string  `mapstructure:"appLanguage" json:"appLanguage"`

	path string
}

// Load reads settings.json from dataDir, falling back to defaults when the
// file is missing. A malformed file is an error; a missing one is not.
func Load(dataDir string) (*Settings, error) {
	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("json")
	v.AddConfigPath(dataDir)

	v.SetDefault("selectedModel", "")
	v.SetDefault("allowInternetAccess", false)
	v.SetDefault("ollamaBaseUrl", "http://localhost:11434")
	v.SetDefault("openAiCompatibleUrl", "")
	v.SetDefault("ttsServiceUrl", "http://127.0.0.1:9233")
	v.SetDefault("sttServiceUrl", "http://127.0.0.1:9234")
	v.SetDefault("temperature", 0.8)
	v.SetDefault("contextLength", 4096)
	v.SetDefault("maxTokens", 2048)
	v.SetDefault("defaultLanguage", "English")
	v.SetDefault("darkMode", true)
	v.SetDefault("autoSaveConversations", true)
	v.SetDefault("maxConversationHistory", 50)
	v.SetDefault("appLanguage", "en")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	s.path = filepath.Join(dataDir, settingsFile)
	return &s, nil
}

// Save writes the settings back to disk as indented camelCase JSON.
func (s *Settings) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Update applies a mutation and persists the result.
func (s *Settings) Update(fn func(*Settings)) error {
	fn(s)
	return s.Save()
}
