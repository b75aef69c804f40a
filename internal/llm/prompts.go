package llm

import _ "embed"

var (
	//go:embed prompts/classify.txt
	classifyPrompt string
	//go:embed prompts/chat.txt
	chatPrompt string
)

// ClassifyInstructions returns the system prompt for document classification.
func ClassifyInstructions() string {
	return classifyPrompt
}

// ChatInstructions returns the system prompt for the chat assistant.
func ChatInstructions() string {
	return chatPrompt
}
