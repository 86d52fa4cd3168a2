package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rockidapp/rockid-server/internal/pkg/env"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
const defaultGeminiModel = "gemini-2.5-flash-preview-05-20"

const identificationPrompt = `You are an expert geologist. Analyze the image and identify the rock.
Do not talk about the image itself, talk about the rock. For example, instead of saying "This image contains a specimen of...", say "This is...".
Provide a concise, engaging description, its key properties, geological context, a fun fact, a market value estimate, and a confidence score.
Respond ONLY with a valid JSON object in the following format, with no other text or markdown formatting:
{
  "rockName": "...",
  "confidence": 0.0 to 1.0,
  "description": "A concise, engaging summary of the rock.",
  "properties": {
    "Color": "...",
    "Streak": "...",
    "Hardness": "...",
    "Crystal System": "..."
  },
  "geologicalContext": "Where and how this rock is typically formed.",
  "funFact": "A surprising or interesting fact about the rock.",
  "marketValue": "A fun, estimated price range, e.g., '$5 - $20 per specimen'."
}`

// RockReport is the structured identification result contract returned by the
// vision model and forwarded to the client untouched.
type RockReport struct {
	RockName          string            `json:"rockName"`
	Confidence        float64           `json:"confidence"`
	Description       string            `json:"description"`
	Properties        map[string]string `json:"properties"`
	GeologicalContext string            `json:"geologicalContext"`
	FunFact           string            `json:"funFact"`
	MarketValue       string            `json:"marketValue"`
}

// GeminiClient calls the generative vision API that turns a rock photo into a
// structured RockReport.
type GeminiClient struct {
	APIKey  string
	BaseURL string
	Model   string

	HTTPClient *http.Client
}

func NewGeminiClientFromEnv() *GeminiClient {
	return &GeminiClient{
		APIKey:  strings.TrimSpace(env.GetEnv("GEMINI_API_KEY", "")),
		BaseURL: strings.TrimRight(env.GetEnv("GEMINI_API_BASE_URL", defaultGeminiBaseURL), "/"),
		Model:   strings.TrimSpace(env.GetEnv("GEMINI_MODEL", defaultGeminiModel)),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// IdentifyRock submits a base64-encoded JPEG to the vision model and decodes
// the structured report from its response.
func (c *GeminiClient) IdentifyRock(ctx context.Context, imageBase64 string) (*RockReport, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}
	if strings.TrimSpace(imageBase64) == "" {
		return nil, errors.New("image payload is required")
	}

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"parts": []map[string]interface{}{
					{"text": identificationPrompt},
					{
						"inline_data": map[string]string{
							"mime_type": "image/jpeg",
							"data":      imageBase64,
						},
					},
				},
			},
		},
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Candidates) == 0 || len(raw.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("gemini response contained no candidates")
	}

	return ParseRockReport(raw.Candidates[0].Content.Parts[0].Text)
}

// ParseRockReport decodes the model's JSON answer, stripping the markdown
// code fences some model revisions wrap around it.
func ParseRockReport(text string) (*RockReport, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var report RockReport
	if err := json.Unmarshal([]byte(cleaned), &report); err != nil {
		return nil, fmt.Errorf("invalid identification response: %w", err)
	}
	if strings.TrimSpace(report.RockName) == "" {
		return nil, errors.New("identification response missing rock name")
	}
	return &report, nil
}
