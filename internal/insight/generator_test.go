package insight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sleepd/internal/storage"
)

func TestParseResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		score   int
		wantErr bool
	}{
		{"plain", `{"score": 72, "insight": "Good", "analysis": "- a", "recommendation": "r"}`, 72, false},
		{"fenced", "```json\n{\"score\": 80.6, \"insight\": \"Nice\"}\n```", 81, false},
		{"prose", `Here you go: {"score": 140, "insight": "Wow"} thanks`, 100, false},
		{"garbage", `not json`, 0, true},
		{"no headline", `{"score": 50}`, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseResult(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got.Score != tt.score {
				t.Fatalf("score = %d, want %d", got.Score, tt.score)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	r := 8
	p := BuildPrompt(450, []storage.SleepRecord{{Day: "2026-03-09", Duration: 415, Rating: &r}, {Day: "2026-03-08", Duration: 500}}, PeriodWeekly)
	for _, want := range []string{"Past 7 days", "7h 30m (450 minutes)", "Date: 2026-03-09, Duration: 415m, Rating: 8/10", "Rating: n/a/10"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
	if !strings.Contains(BuildPrompt(480, nil, PeriodMonthly), "Past 30 days") {
		t.Fatal("monthly timeframe")
	}
}

func TestOpenAIGenerator(t *testing.T) {
	t.Parallel()
	models := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		models <- body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4.1-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"score\": 77, \"insight\": \"Consistent bedtime\", \"analysis\": \"- a\", \"recommendation\": \"Dim lights\"}"}
			}]
		}`))
	}))
	defer srv.Close()

	g, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator: %v", err)
	}
	res, err := g.Generate(context.Background(), 480, []storage.SleepRecord{{Day: "2026-03-09", Duration: 470}}, PeriodWeekly)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Score != 77 || res.Insight != "Consistent bedtime" {
		t.Fatalf("res = %+v", res)
	}
	if m := <-models; m != DefaultModel {
		t.Fatalf("model = %s", m)
	}
}

func TestOpenAIGeneratorRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
