// Package openai adapts the OpenAI chat completion API to the pipeline's
// extraction, classification and reasoning stage contracts.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/constants"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/stages"
)

const extractionSystemPrompt = `You are a document data extraction service. You receive document text and a list of field names. Respond with a single JSON object mapping each field name to {"value": string, "confidence": number between 0 and 1}. Use an empty value and confidence 0 for fields the document does not contain. Respond with JSON only.`

const classificationSystemPrompt = `You are a document classifier. You receive document text and respond with a single JSON object {"class": string, "confidence": number between 0 and 1} where class is one of: invoice, receipt, contract, report, correspondence, other and confidence is how certain you are of the label. Respond with JSON only.`

// maxPromptChars bounds how much document text one request carries.
const maxPromptChars = 24000

// Client wraps the OpenAI API for all LLM-backed stages.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a client using OPENAI_API_KEY and OPENAI_MODEL from the
// environment.
func New() (*Client, error) {
	apiKey := config.GetEnv(constants.EnvOpenAIAPIKey, "")
	if apiKey == "" {
		return nil, fmt.Errorf("%s is required", constants.EnvOpenAIAPIKey)
	}
	return &Client{
		api:   openai.NewClient(apiKey),
		model: config.GetEnv(constants.EnvOpenAIModel, openai.GPT4oMini),
	}, nil
}

// NewWithClient creates a client around an existing API client, for testing.
func NewWithClient(api *openai.Client, model string) *Client {
	return &Client{api: api, model: model}
}

// Extractor returns the invoker for the primary extraction stage.
func (c *Client) Extractor() stages.Invoker {
	return &extractionInvoker{client: c, stage: stages.StageExtraction}
}

// SecondaryExtractor returns the invoker for the fallback second extraction
// pass. It shares the implementation with the primary pass; the orchestrator
// merges its output field-by-field.
func (c *Client) SecondaryExtractor() stages.Invoker {
	return &extractionInvoker{client: c, stage: stages.StageSecondaryExtraction}
}

// Classifier returns the invoker for the classification stage.
func (c *Client) Classifier() stages.Invoker {
	return &classificationInvoker{client: c}
}

type extractionInvoker struct {
	client *Client
	stage  string
}

// Invoke extracts all expected fields from the OCR text in one request.
func (e *extractionInvoker) Invoke(ctx context.Context, in stages.Input) (stages.Output, error) {
	out, err := e.client.ExtractFields(ctx, in, in.ExpectedFields)
	if err != nil {
		return stages.Output{}, classifyAPIError(e.stage, err)
	}
	return out, nil
}

type classificationInvoker struct {
	client *Client
}

// Invoke assigns a document class with the model's self-reported label
// confidence. A response without one is flagged confidence_unavailable, which
// caps the job's automation decision at review.
func (i *classificationInvoker) Invoke(ctx context.Context, in stages.Input) (stages.Output, error) {
	content, err := i.client.complete(ctx, classificationSystemPrompt, truncate(in.Text, maxPromptChars))
	if err != nil {
		return stages.Output{}, classifyAPIError(stages.StageClassification, err)
	}
	return parseClassification(content)
}

// parseClassification decodes the classification response body.
func parseClassification(content string) (stages.Output, error) {
	var parsed struct {
		Class      string   `json:"class"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return stages.Output{}, stages.NewTransientError(stages.StageClassification,
			fmt.Errorf("unparseable classification response: %w", err))
	}

	out := stages.Output{DocumentClass: parsed.Class}
	if parsed.Confidence == nil {
		out.ConfidenceUnavailable = true
		return out, nil
	}
	out.Confidence = *parsed.Confidence
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

// ExtractFields asks the model for the given fields only, passing any
// already-extracted fields as context. It implements stages.FieldExtractor
// for the deep reasoning stage.
func (c *Client) ExtractFields(ctx context.Context, in stages.Input, fields []string) (stages.Output, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Fields to extract: %s\n", strings.Join(fields, ", "))
	if len(in.Fields) > 0 {
		known, err := json.Marshal(in.Fields)
		if err == nil {
			fmt.Fprintf(&prompt, "Already extracted (for context, do not repeat): %s\n", known)
		}
	}
	fmt.Fprintf(&prompt, "Document text:\n%s", truncate(in.Text, maxPromptChars))

	content, err := c.complete(ctx, extractionSystemPrompt, prompt.String())
	if err != nil {
		return stages.Output{}, classifyAPIError(stages.StageExtraction, err)
	}

	var parsed map[string]models.FieldValue
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return stages.Output{}, stages.NewTransientError(stages.StageExtraction,
			fmt.Errorf("unparseable extraction response: %w", err))
	}

	result := models.Fields{}
	for name, v := range parsed {
		if v.Value == "" {
			continue
		}
		if v.Confidence < 0 {
			v.Confidence = 0
		}
		if v.Confidence > 1 {
			v.Confidence = 1
		}
		result[name] = v
	}
	return stages.Output{Fields: result, Confidence: fieldMeanConfidence(result)}, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps OpenAI API failures onto the stage error taxonomy.
// Rate limits and server errors are retryable; bad requests are not.
func classifyAPIError(stage string, err error) error {
	var stageErr *stages.Error
	if errors.As(err, &stageErr) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return stages.NewTransientError(stage, err)
		}
		return stages.NewPermanentError(stage, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Anything else (connection reset, DNS) is network-shaped
	return stages.NewTransientError(stage, err)
}

func fieldMeanConfidence(fields models.Fields) float64 {
	if len(fields) == 0 {
		return 0
	}
	var sum float64
	for _, v := range fields {
		sum += v.Confidence
	}
	return sum / float64(len(fields))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
