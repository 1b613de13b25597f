package proxy

// DefaultErrorMessage is reported when the upstream gives no error message.
const DefaultErrorMessage = "OpenAI API error"

// Params are the sampling settings sent with every completion.
type Params struct {
	Temperature      float64
	MaxTokens        int
	PresencePenalty  float64
	FrequencyPenalty float64
}

// DefaultParams are tuned for short, conversational answers.
var DefaultParams = Params{
	Temperature:      0.5,
	MaxTokens:        500,
	PresencePenalty:  0.5,
	FrequencyPenalty: 0.3,
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Temperature      float64   `json:"temperature"`
	MaxTokens        int       `json:"max_tokens"`
	PresencePenalty  float64   `json:"presence_penalty"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
}

// ChatResponse is the subset of the completion response that is used.
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// APIError is a completion call the upstream answered with an error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return DefaultErrorMessage
	}
	return e.Message
}

// Transient reports whether the error is worth retrying.
func (e *APIError) Transient() bool {
	return e.Status >= 500
}
