package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Verdict is a grader's judgement of one turn against a semantic criterion.
type Verdict struct {
	Pass   bool   `json:"pass" yaml:"pass"`
	Reason string `json:"reason" yaml:"reason"`
}

// Grader judges whether a turn's replies satisfy a natural-language
// criterion. Implementations call an LLM and return its verdict.
type Grader interface {
	Grade(ctx context.Context, criterion, input string, replies []Reply) (*Verdict, error)
}

const graderMaxTokens = 512

var verdictSchema = func() string {
	s, err := jsonschema.For[Verdict](&jsonschema.ForOptions{})
	if err != nil {
		panic(fmt.Sprintf("harness: verdict schema: %v", err))
	}
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("harness: verdict schema: %v", err))
	}
	return string(b)
}()

func gradeSystemPrompt() string {
	return "You judge transcripts from an automated voice assistant test. " +
		"Decide whether the assistant replies satisfy the given criterion. " +
		"Answer with a single JSON object matching this schema, nothing else:\n" +
		verdictSchema
}

func gradeUserPrompt(criterion, input string, replies []Reply) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Criterion: %s\n\nTranscript:\n", criterion)
	if input != "" {
		fmt.Fprintf(&sb, "user: %s\n", input)
	}
	for i := range replies {
		fmt.Fprintf(&sb, "assistant: %s\n", replies[i].Text())
	}
	return sb.String()
}

// parseVerdict decodes a model reply, tolerating markdown fences and mildly
// malformed JSON.
func parseVerdict(text string) (*Verdict, error) {
	text = strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	var v Verdict
	if err := unmarshalJSON([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("harness: parse verdict %q: %w", text, err)
	}
	return &v, nil
}

// OpenAIGrader judges turns with an OpenAI-compatible chat model.
type OpenAIGrader struct {
	client *openai.Client
	model  string
}

// NewOpenAIGrader builds a grader for the given model. baseURL is optional
// and points the client at an OpenAI-compatible gateway.
func NewOpenAIGrader(apiKey, baseURL, model string) (*OpenAIGrader, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("harness: openai grader missing api key")
	}
	if model == "" {
		return nil, fmt.Errorf("harness: openai grader missing model")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIGrader{client: &client, model: model}, nil
}

func (g *OpenAIGrader) Grade(ctx context.Context, criterion, input string, replies []Reply) (*Verdict, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(gradeSystemPrompt()),
			openai.UserMessage(gradeUserPrompt(criterion, input, replies)),
		},
		MaxTokens: openai.Int(graderMaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("harness: openai grade: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("harness: openai grade: empty response")
	}
	return parseVerdict(resp.Choices[0].Message.Content)
}

// GeminiGrader judges turns with a Gemini model.
type GeminiGrader struct {
	client *genai.Client
	model  string
}

func NewGeminiGrader(ctx context.Context, apiKey, model string) (*GeminiGrader, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("harness: gemini grader missing api key")
	}
	if model == "" {
		return nil, fmt.Errorf("harness: gemini grader missing model")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("harness: gemini client: %w", err)
	}
	return &GeminiGrader{client: client, model: model}, nil
}

func (g *GeminiGrader) Grade(ctx context.Context, criterion, input string, replies []Reply) (*Verdict, error) {
	prompt := gradeSystemPrompt() + "\n\n" + gradeUserPrompt(criterion, input, replies)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Parts: []*genai.Part{{Text: prompt}}, Role: "user"},
	}, nil)
	if err != nil {
		if e, ok := err.(*apierror.APIError); ok {
			err = e.Unwrap()
		}
		return nil, fmt.Errorf("harness: gemini grade: %w", err)
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("harness: gemini grade: empty response")
	}
	return parseVerdict(sb.String())
}
