// Package docai adapts Google Document AI to the pipeline's OCR stage
// contract.
package docai

import (
	"context"
	"fmt"
	"os"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/constants"
	"github.com/docuflow/docuflow/internal/db/models"
	"github.com/docuflow/docuflow/internal/stages"
)

// MaxDocumentSizeBytes is the maximum document size accepted for processing (20MB)
const MaxDocumentSizeBytes = 20 * 1024 * 1024

// Config holds Document AI connection settings.
type Config struct {
	ProjectID   string
	Location    string
	ProcessorID string
}

// ConfigFromEnv reads the Document AI settings from the environment.
func ConfigFromEnv() Config {
	return Config{
		ProjectID:   config.GetEnv(constants.EnvGoogleProjectID, ""),
		Location:    config.GetEnv(constants.EnvGoogleLocation, "us"),
		ProcessorID: config.GetEnv(constants.EnvDocAIProcessorID, ""),
	}
}

// OCRInvoker runs documents through a Document AI OCR processor.
type OCRInvoker struct {
	client *documentai.DocumentProcessorClient
	config Config
}

// NewOCRInvoker creates the invoker with a regional endpoint and credentials
// taken from the environment.
func NewOCRInvoker(ctx context.Context, cfg Config) (*OCRInvoker, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("document ai project id is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	var opts []option.ClientOption
	if cfg.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create document ai client: %w", err)
	}
	return &OCRInvoker{client: client, config: cfg}, nil
}

// Invoke runs OCR over the document bytes and returns the recognized text
// with a page-averaged confidence.
func (o *OCRInvoker) Invoke(ctx context.Context, in stages.Input) (stages.Output, error) {
	if len(in.Content) == 0 {
		return stages.Output{}, stages.NewPermanentError(stages.StageOCR, fmt.Errorf("empty document"))
	}
	if len(in.Content) > MaxDocumentSizeBytes {
		return stages.Output{}, stages.NewPermanentError(stages.StageOCR,
			fmt.Errorf("document too large: %d bytes", len(in.Content)))
	}

	req := &documentaipb.ProcessRequest{
		Name: o.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  in.Content,
				MimeType: detectMimeType(in.Content),
			},
		},
	}

	resp, err := o.client.ProcessDocument(ctx, req)
	if err != nil {
		return stages.Output{}, classifyGRPCError(stages.StageOCR, err)
	}
	if resp.Document == nil {
		return stages.Output{}, stages.NewTransientError(stages.StageOCR, fmt.Errorf("empty response"))
	}

	doc := resp.Document
	out := stages.Output{
		Text:       doc.Text,
		Fields:     entityFields(doc),
		Confidence: pageConfidence(doc),
	}
	if out.Confidence == 0 && len(doc.Pages) == 0 {
		out.ConfidenceUnavailable = true
	}
	return out, nil
}

// Close closes the underlying Document AI client.
func (o *OCRInvoker) Close() error {
	if o.client != nil {
		return o.client.Close()
	}
	return nil
}

func (o *OCRInvoker) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		o.config.ProjectID, o.config.Location, o.config.ProcessorID)
}

// pageConfidence averages the layout confidence over all recognized pages.
func pageConfidence(doc *documentaipb.Document) float64 {
	if len(doc.Pages) == 0 {
		return 0
	}
	var sum float64
	counted := 0
	for _, page := range doc.Pages {
		if page.Layout != nil {
			sum += float64(page.Layout.Confidence)
			counted++
		}
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// entityFields converts Document AI entities into pipeline fields.
func entityFields(doc *documentaipb.Document) models.Fields {
	if len(doc.Entities) == 0 {
		return nil
	}
	fields := models.Fields{}
	for _, entity := range doc.Entities {
		value := strings.TrimSpace(entity.MentionText)
		if value == "" {
			continue
		}
		fields[entity.Type] = models.FieldValue{
			Value:      value,
			Confidence: float64(entity.Confidence),
		}
	}
	return fields
}

func detectMimeType(content []byte) string {
	if len(content) >= 4 && string(content[:4]) == "%PDF" {
		return "application/pdf"
	}
	return "image/png"
}

// classifyGRPCError maps Document AI errors onto the stage error taxonomy:
// quota and availability problems are retryable, argument problems are not.
func classifyGRPCError(stage string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return stages.NewTransientError(stage, err)
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return stages.NewPermanentError(stage, err)
	default:
		return stages.NewTransientError(stage, err)
	}
}
