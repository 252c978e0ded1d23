package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stemsi/clonearena-backend/internal/model"
	"google.golang.org/genai"
)

// GenAIModel grades screenshots with a Gemini vision model.
type GenAIModel struct {
	client *genai.Client
	model  string
}

// NewGenAIModel creates a Gemini-backed VisionModel.
func NewGenAIModel(ctx context.Context, apiKey, modelName string) (*GenAIModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIModel{client: client, model: modelName}, nil
}

// responseSchema constrains the model output to a grade object.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"similarity": {
			Type:        genai.TypeInteger,
			Description: "Similarity percentage from 1-100 where 100 is exactly the same",
		},
		"reasoning": {
			Type:        genai.TypeString,
			Description: "Detailed reasoning explaining the comparison analysis",
		},
	},
	Required: []string{"similarity", "reasoning"},
}

func (m *GenAIModel) Compare(ctx context.Context, target, result Image) (model.GradeResult, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(userPrompt),
			genai.NewPartFromBytes(target.Data, target.MIMEType),
			genai.NewPartFromBytes(result.Data, result.MIMEType),
		}, genai.RoleUser),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema,
	})
	if err != nil {
		return model.GradeResult{}, fmt.Errorf("GenAI generate failed: %w", err)
	}

	return parseGrade(resp.Text())
}

// parseGrade reads the model's JSON answer. Similarity may arrive as a
// float; it is truncated to an integer percentage.
func parseGrade(text string) (model.GradeResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var raw struct {
		Similarity *float64 `json:"similarity"`
		Reasoning  string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &raw); err != nil {
		return model.GradeResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Similarity == nil {
		return model.GradeResult{}, fmt.Errorf("%w: similarity missing", ErrMalformedResponse)
	}

	return model.GradeResult{Similarity: int(*raw.Similarity), Reasoning: raw.Reasoning}, nil
}
