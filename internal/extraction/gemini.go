package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	apperrors "receipt-reconciliation-service/pkg/errors"
)

// GeminiExtractor implements Extractor using Google Gemini
type GeminiExtractor struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	binarize bool
}

// NewGeminiExtractor creates a new Gemini extractor
func NewGeminiExtractor(ctx context.Context, apiKey string, modelName string, binarize bool) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &GeminiExtractor{
		client:   client,
		model:    model,
		binarize: binarize,
	}, nil
}

// Extract implements Extractor
func (g *GeminiExtractor) Extract(ctx context.Context, path string) (*RawReceipt, error) {
	imageData, err := PrepareImage(path, g.binarize)
	if err != nil {
		return nil, err
	}

	// PrepareImage always yields PNG; ImageData takes the format suffix only
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", imageData),
		genai.Text(systemPrompt), genai.Text(receiptPrompt))
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, apperrors.ExtractionError(apperrors.CodeMalformedResponse, path, fmt.Errorf("no response from gemini"))
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	raw, err := ParseResponse(responseText.String())
	if err != nil {
		return nil, apperrors.ExtractionError(apperrors.CodeMalformedResponse, path, err)
	}
	return raw, nil
}

// Close closes the Gemini client
func (g *GeminiExtractor) Close() error {
	return g.client.Close()
}
