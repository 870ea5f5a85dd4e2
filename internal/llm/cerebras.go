package llm

import "net/http"

const (
	cerebrasAPIURL = "https://api.cerebras.ai/v1/chat/completions"
	cerebrasModel  = "llama-3.3-70b"

	groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"
	groqModel  = "llama-3.3-70b-versatile"
)

// Cerebras and Groq both accept OpenAI-format chat requests.

func NewCerebrasClient(apiKey string) *Client {
	return newClient(ProviderCerebras, &openAICompatible{
		name:       "cerebras",
		url:        cerebrasAPIURL,
		model:      cerebrasModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	})
}

func NewGroqClient(apiKey string) *Client {
	return newClient(ProviderGroq, &openAICompatible{
		name:       "groq",
		url:        groqAPIURL,
		model:      groqModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	})
}
