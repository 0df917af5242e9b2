package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Engine grades reports via Gemini with JSON responses forced. Transient
// failures are retried a bounded number of times; a response that cannot be
// parsed into the expected structure is a hard error for that call.
type Engine struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewEngine(apiKey, model string, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Engine{
		APIKey:  strings.TrimSpace(apiKey),
		Model:   strings.TrimSpace(model),
		Timeout: timeout,
	}
}

const maxAttempts = 3

func (e *Engine) Grade(ctx context.Context, req GradeRequest) (GradeResponse, error) {
	raw, err := e.generate(ctx, gradeSystemPrompt, buildGradePrompt(req))
	if err != nil {
		return GradeResponse{}, err
	}
	var resp GradeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return GradeResponse{}, fmt.Errorf("oracle grade: malformed response: %w", err)
	}
	resp.Errors = resp.Errors.normalized()
	if resp.MatchedFindings == nil {
		resp.MatchedFindings = []string{}
	}
	return resp, nil
}

func (e *Engine) Style(ctx context.Context, candidate string) (StyleResponse, error) {
	raw, err := e.generate(ctx, styleSystemPrompt, buildStylePrompt(candidate))
	if err != nil {
		return StyleResponse{}, err
	}
	var resp StyleResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return StyleResponse{}, fmt.Errorf("oracle style: malformed response: %w", err)
	}
	if !validSubScore(resp.SystematicEvaluationScore) || !validSubScore(resp.OrganizationLanguageScore) {
		return StyleResponse{}, fmt.Errorf("oracle style: sub-score outside 0/0.5/1 scale")
	}
	return resp, nil
}

func validSubScore(v float64) bool { return v == 0 || v == 0.5 || v == 1 }

func (e *Engine) generate(ctx context.Context, system, prompt string) (string, error) {
	if e.APIKey == "" {
		return "", errors.New("oracle: API key is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return "", fmt.Errorf("oracle: model %q is nil", e.Model)
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			continue
		}
		text := firstText(resp)
		if text == "" {
			lastErr = errors.New("oracle: empty completion")
			continue
		}
		return stripFences(text), nil
	}
	return "", fmt.Errorf("oracle: exhausted %d attempts: %w", maxAttempts, lastErr)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return strings.TrimSpace(sb.String())
}

// stripFences tolerates models that wrap JSON in markdown code fences even
// when asked not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
