package embed

// Wire types for the OpenAI-compatible embeddings API. Ollama, vLLM,
// LM Studio, and llama.cpp all serve this surface under /v1, so one
// client covers every local and hosted backend we care about.

// openAIEmbedRequest is the request body for POST /v1/embeddings.
type openAIEmbedRequest struct {
	Model string `json:"model"`
	// Input is a single string or an array of strings.
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

// openAIEmbedResponse is the response body for POST /v1/embeddings.
type openAIEmbedResponse struct {
	Object string             `json:"object"`
	Data   []openAIEmbedding  `json:"data"`
	Model  string             `json:"model"`
	Usage  openAIembedUsage   `json:"usage"`
	Error  *openAIErrorDetail `json:"error,omitempty"`
}

// openAIEmbedding is one embedding in the response. Index ties the
// vector back to its position in the request input.
type openAIEmbedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type openAIembedUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// openAIErrorDetail is the error envelope used by OpenAI-compatible
// servers for non-200 responses.
type openAIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

// openAIModelList is the response body for GET /v1/models.
type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

type openAIModel struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}
