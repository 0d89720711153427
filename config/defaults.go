package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/parley",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Chat: ChatConfig{
			AutoTitle:       true,
			DefaultProvider: "ollama",
			DefaultModel:    "llama3.1:latest",
		},
		Providers: []ProviderConfig{
			{ID: "ollama", Name: "Ollama", Type: "ollama", BaseURL: "http://localhost:11434/v1", Enabled: true},
			{ID: "openai", Name: "OpenAI", Type: "openai", BaseURL: "https://api.openai.com/v1"},
			{ID: "anthropic", Name: "Anthropic", Type: "anthropic", BaseURL: "https://api.anthropic.com"},
			{ID: "gemini", Name: "Gemini", Type: "gemini", BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
			{ID: "openrouter", Name: "OpenRouter", Type: "openrouter", BaseURL: "https://openrouter.ai/api/v1"},
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# parley System Configuration
# Location: ~/.config/parley/settings.toml
# This file uses TOML format: https://toml.io

# Directory where chats, user config and credentials are stored
data_directory = "~/.local/share/parley"
`
}

func GenerateUserConfigTemplate() string {
	return `# parley User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io
# API keys go in credentials.toml or PARLEY_<ID>_API_KEY, never here.

[chat]
# Generate a title after the first exchange of a new chat
auto_title = true

# Connection and model used when a request names none
default_provider = "ollama"
default_model = "llama3.1:latest"

# Default system prompt for new chats (optional)
# Example: "You are a helpful coding assistant."
default_system_prompt = ""

[[providers]]
id = "ollama"
name = "Ollama"
type = "ollama"
base_url = "http://localhost:11434/v1"
enabled = true

[[providers]]
id = "openai"
name = "OpenAI"
type = "openai"
base_url = "https://api.openai.com/v1"
enabled = false

[[providers]]
id = "anthropic"
name = "Anthropic"
type = "anthropic"
base_url = "https://api.anthropic.com"
enabled = false

[[providers]]
id = "gemini"
name = "Gemini"
type = "gemini"
base_url = "https://generativelanguage.googleapis.com/v1beta"
enabled = false

[[providers]]
id = "openrouter"
name = "OpenRouter"
type = "openrouter"
base_url = "https://openrouter.ai/api/v1"
enabled = false
`
}
