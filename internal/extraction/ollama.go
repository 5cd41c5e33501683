package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "receipt-reconciliation-service/pkg/errors"
)

// OllamaExtractor implements Extractor using a vision model served by Ollama
type OllamaExtractor struct {
	baseURL  string
	model    string
	client   *http.Client
	binarize bool
}

// NewOllamaExtractor creates a new Ollama extractor. llava is the default
// model; qwen2-vl reads small print better.
func NewOllamaExtractor(baseURL string, modelName string, binarize bool) (*OllamaExtractor, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &OllamaExtractor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    modelName,
		binarize: binarize,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Extract implements Extractor via the /api/chat endpoint
func (o *OllamaExtractor) Extract(ctx context.Context, path string) (*RawReceipt, error) {
	imageData, err := PrepareImage(path, o.binarize)
	if err != nil {
		return nil, err
	}

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{
				Role:    "user",
				Content: receiptPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(imageData)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError(apperrors.CodeConnectionFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperrors.NetworkError(apperrors.CodeServiceUnavailable, url,
			fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	raw, err := ParseResponse(chatResp.Message.Content)
	if err != nil {
		return nil, apperrors.ExtractionError(apperrors.CodeMalformedResponse, path, err)
	}
	return raw, nil
}

// Close is a no-op for the HTTP client
func (o *OllamaExtractor) Close() error {
	return nil
}
