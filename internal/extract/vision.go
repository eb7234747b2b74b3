package extract

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/dvloznov/report-extractor/internal/table"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultVisionModel is used when no model name is configured.
const DefaultVisionModel = "gemini-2.5-flash"

const visionPrompt = "Convert this table image into a JSON array of objects.\n" +
	"- The first table row is the header; use its cells as the keys of every object.\n" +
	"- Every following row is one object: header cell as key, cell content as value.\n" +
	"- Keep the cell text exactly as printed, including currency marks, separators and parentheses.\n" +
	"- If the first header cell is empty, use an empty string as its key.\n" +
	"- Use null for empty cells.\n" +
	"Return ONLY the JSON array, without explanation, Markdown or extra text.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// ContentStreamer is the streaming part of the Gemini models API.
type ContentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Vision extracts tables from images with a Gemini vision model. Model output
// is streamed and consumed in order.
type Vision struct {
	models ContentStreamer
	model  string
	log    zerolog.Logger
}

// NewVision creates a Gemini API client for the given key and model.
func NewVision(ctx context.Context, apiKey, model string, log zerolog.Logger) (*Vision, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewVision: create genai client: %w", err)
	}
	return NewVisionWithStreamer(client.Models, model, log), nil
}

// NewVisionWithStreamer builds a Vision extractor on an existing streamer.
func NewVisionWithStreamer(models ContentStreamer, model string, log zerolog.Logger) *Vision {
	if model == "" {
		model = DefaultVisionModel
	}
	return &Vision{models: models, model: model, log: log}
}

// Stream sends the image to the model and yields output text fragments as
// they arrive. The sequence stops at the first error; it cannot be restarted.
func (v *Vision) Stream(ctx context.Context, image []byte, mimeType string) iter.Seq2[string, error] {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: visionPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     image,
					},
				},
			},
		},
	}
	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}

	return func(yield func(string, error) bool) {
		for resp, err := range v.models.GenerateContentStream(ctx, v.model, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("Vision.Stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func (v *Vision) Extract(ctx context.Context, path string) (table.Table, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Vision.Extract: read image: %w", err)
	}

	raw, err := Collect(v.Stream(ctx, image, imageMIMEType(path)))
	if err != nil {
		return nil, fmt.Errorf("Vision.Extract: collect stream after %d chars: %w", len(raw), err)
	}
	v.log.Debug().Int("chars", len(raw)).Str("model", v.model).Msg("Vision output received")

	t, err := ParseAIOutput(raw)
	if err != nil {
		return nil, fmt.Errorf("Vision.Extract: %w", err)
	}
	return t, nil
}

func imageMIMEType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
