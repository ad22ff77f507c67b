package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const extractPrompt = `Extract entities and relations from the text below.
Respond with JSON only, shaped as:
{"entities":[{"name":"...","kind":"person|place|thing|concept","salience":0.0}],
 "relations":[{"subject":"...","relation":"...","object":"...","weight":0.0,"sentiment":0.0}],
 "confidence":0.0}
Weights and confidence are in [0,1]; sentiment is in [-1,1].
When a mention refers to one of these known entities, reuse that exact name: %s

Text: %s`

// OllamaExtractor runs structured extraction through an Ollama generate call.
type OllamaExtractor struct {
	model  string
	client *http.Client
}

func NewOllamaExtractor(model string) *OllamaExtractor {
	return &OllamaExtractor{model: model, client: &http.Client{Timeout: 30 * time.Second}}
}

func baseURL() string {
	base := os.Getenv("OLLAMA_URL")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base
}

func (e *OllamaExtractor) ExtractFacts(ctx context.Context, text, ownerID string, knownEntities []string) (*Result, error) {
	type genReq struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Format string `json:"format"`
		Stream bool   `json:"stream"`
	}
	type genResp struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}

	known := "none"
	if len(knownEntities) > 0 {
		known = strings.Join(knownEntities, ", ")
	}
	body, _ := json.Marshal(genReq{
		Model:  e.model,
		Prompt: fmt.Sprintf(extractPrompt, known, text),
		Format: "json",
		Stream: false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL()+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ollama generate status %d", resp.StatusCode)
	}
	var out genResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama generate error: %s", out.Error)
	}

	var result Result
	if err := json.Unmarshal([]byte(out.Response), &result); err != nil {
		return nil, fmt.Errorf("unparseable extraction response: %w", err)
	}
	return &result, nil
}
