// Package genaiclient extracts structured ID card fields with Gemini.
package genaiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/example/idverify/internal/logging"
	"github.com/example/idverify/internal/ports"
	"github.com/example/idverify/internal/session"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

const extractionPrompt = "Extract the information from this Malaysian Identity Card (MyKad). " +
	"The first image is the front, and the second image is the back."

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Extractor implements ports.DocumentExtractor.
type Extractor struct {
	models contentGenerator
	model  string
	logger *zap.Logger
}

// NewExtractor creates a Gemini API client for apiKey.
func NewExtractor(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Extractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, logging.NewOperationError("genai.new_client", "", err)
	}
	return newExtractor(client.Models, model, logger), nil
}

func newExtractor(models contentGenerator, model string, logger *zap.Logger) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	return &Extractor{models: models, model: model, logger: logger.Named("document_extractor")}
}

// ExtractFields sends both sides in one request constrained to the ID
// schema. A response that does not parse or carries no identifying field
// yields ports.ErrExtractionFailed; transport failures are returned as-is.
func (e *Extractor) ExtractFields(ctx context.Context, front, back []byte) (*session.ExtractedFields, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(extractionPrompt),
			genai.NewPartFromBytes(front, imageMIME(front)),
			genai.NewPartFromBytes(back, imageMIME(back)),
		}, genai.RoleUser),
	}

	resp, err := e.models.GenerateContent(ctx, e.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   idCardSchema(),
	})
	if err != nil {
		wrapped := logging.NewOperationError("genai.generate_content", "", err)
		e.logger.Error("document extraction call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	fields, err := parseFields(resp.Text())
	if err != nil {
		e.logger.Warn("document extraction returned no usable fields", zap.Error(err))
		return nil, err
	}
	return fields, nil
}

func parseFields(text string) (*session.ExtractedFields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ports.ErrExtractionFailed)
	}

	var fields session.ExtractedFields
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrExtractionFailed, err)
	}
	if fields.IsEmpty() {
		return nil, fmt.Errorf("%w: no identifying fields", ports.ErrExtractionFailed)
	}
	return &fields, nil
}

func imageMIME(data []byte) string {
	if http.DetectContentType(data) == "image/png" {
		return "image/png"
	}
	return "image/jpeg"
}

func idCardSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":       str("Full legal name as shown on the identity card"),
			"nricNumber": str("The identity card number in the format YYMMDD-SS-####"),
			"address": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"unit":     str("Unit, apartment, floor or block number, if any"),
					"street":   str("Street and building name"),
					"city":     str("City or major town"),
					"state":    str("State of the address"),
					"postcode": str("5-digit postal code"),
				},
				Required: []string{"unit", "street", "city", "state", "postcode"},
			},
			"gender": {
				Type:        genai.TypeString,
				Enum:        []string{"male", "female"},
				Description: "LELAKI is male, PEREMPUAN is female",
			},
			"back": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"nricNumber": str("The number on the back of the card, usually yymmdd-ss-####-##-##"),
				},
				Required: []string{"nricNumber"},
			},
		},
		Required: []string{"name", "nricNumber", "address", "gender", "back"},
	}
}
