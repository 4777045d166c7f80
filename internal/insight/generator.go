package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"sleepd/internal/storage"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4.1-mini"
	DefaultTimeout = 60 * time.Second
)

// Result is a generated insight.
type Result struct {
	Score          int    `json:"score"`
	Insight        string `json:"insight"`
	Analysis       string `json:"analysis"`
	Recommendation string `json:"recommendation"`
}

// Generator produces an insight for a window of records (newest first).
type Generator interface {
	Generate(ctx context.Context, goalMinutes int, records []storage.SleepRecord, period string) (Result, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, goalMinutes int, records []storage.SleepRecord, period string) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, goalMinutes int, records []storage.SleepRecord, period string) (Result, error) {
	return f(ctx, goalMinutes, records, period)
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIGenerator asks a chat completion model for the insight JSON.
type OpenAIGenerator struct {
	client openaigo.Client
	model  string
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("insight generator: api_key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	client := openaigo.NewClient(
		option.WithBaseURL(baseURL+"/"),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(timeout),
	)
	return &OpenAIGenerator{client: client, model: model}, nil
}

const systemPrompt = `You are a sleep health scientist.
STRICT RULES:
- ALWAYS convert minutes to "XhYm" format.
- "analysis" MUST be 3 sentences, each starting with "- ".
- Use \n between sentences.
- Return ONLY a JSON object.`

func (g *OpenAIGenerator) Generate(ctx context.Context, goalMinutes int, records []storage.SleepRecord, period string) (Result, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Model: openaigo.ChatModel(g.model),
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.SystemMessage(systemPrompt),
			openaigo.UserMessage(BuildPrompt(goalMinutes, records, period)),
		},
	})
	if err != nil {
		return Result{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Result{}, errors.New("llm returned empty choices")
	}
	return ParseResult(resp.Choices[0].Message.Content)
}

// ParseResult decodes the model's JSON answer, tolerating code fences
// and surrounding prose.
func ParseResult(content string) (Result, error) {
	raw := extractJSONFromText(content)
	var parsed struct {
		Score          float64 `json:"score"`
		Insight        string  `json:"insight"`
		Analysis       string  `json:"analysis"`
		Recommendation string  `json:"recommendation"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Result{}, fmt.Errorf("insight invalid json: %w", err)
	}
	if strings.TrimSpace(parsed.Insight) == "" {
		return Result{}, errors.New("insight missing headline")
	}
	score := int(math.Round(parsed.Score))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Result{
		Score:          score,
		Insight:        strings.TrimSpace(parsed.Insight),
		Analysis:       strings.TrimSpace(parsed.Analysis),
		Recommendation: strings.TrimSpace(parsed.Recommendation),
	}, nil
}

// BuildPrompt renders the user prompt for a window of records.
func BuildPrompt(goalMinutes int, records []storage.SleepRecord, period string) string {
	logs := make([]string, 0, len(records))
	for _, r := range records {
		rating := "n/a"
		if r.Rating != nil {
			rating = fmt.Sprintf("%d", *r.Rating)
		}
		logs = append(logs, fmt.Sprintf("Date: %s, Duration: %dm, Rating: %s/10", r.Day, r.Duration, rating))
	}
	timeframe := "7 days"
	if period == PeriodMonthly {
		timeframe = "30 days"
	}

	var b strings.Builder
	b.WriteString("USER DATA:\n")
	fmt.Fprintf(&b, "- Timeframe: Past %s\n", timeframe)
	fmt.Fprintf(&b, "- Personal Goal: %s (%d minutes)\n", goalText(goalMinutes), goalMinutes)
	fmt.Fprintf(&b, "- Sleep Logs: %s\n\n", strings.Join(logs, " | "))
	b.WriteString("INSTRUCTIONS FOR ANALYSIS:\n")
	b.WriteString("- Never write raw minutes like \"415 minutes\"; use \"6h55m\".\n")
	b.WriteString("- The analysis uses \"-\" bullet points, one per observation.\n")
	b.WriteString("- Mention specific days or trends and start with a positive one.\n")
	fmt.Fprintf(&b, "- Explain the gap between the current average and the %dm goal.\n\n", goalMinutes)
	b.WriteString("INSTRUCTIONS FOR RECOMMENDATION:\n")
	b.WriteString("- 1-2 key focus points the user can act on tonight.\n\n")
	b.WriteString("TASK:\n")
	fmt.Fprintf(&b, "1. Sleep Score (0-100): 50%% goal achievement against %dm, 30%% consistency across the %s period, 20%% average rating.\n", goalMinutes, period)
	b.WriteString("2. Respond strictly as JSON:\n")
	b.WriteString(`{"score": <number>, "insight": "<short headline>", "analysis": "- <sentence>\n- <sentence>\n- <sentence>", "recommendation": "<1-2 tips>"}`)
	return b.String()
}

func goalText(minutes int) string {
	h, m := minutes/60, minutes%60
	if m > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}

func extractJSONFromText(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "```") {
		rest := strings.TrimSpace(strings.TrimPrefix(raw, "```"))
		if i := strings.Index(rest, "\n"); i >= 0 {
			rest = rest[i+1:]
		}
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		raw = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(raw, "{") {
		if i := strings.Index(raw, "{"); i >= 0 {
			if j := strings.LastIndex(raw, "}"); j > i {
				return strings.TrimSpace(raw[i : j+1])
			}
		}
	}
	return raw
}
