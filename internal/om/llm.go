package om

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/axiomme/axiomme/internal/embedder"
)

// InferenceSource distinguishes which stage produced a failure.
type InferenceSource string

const (
	SourceObserver  InferenceSource = "observer"
	SourceReflector InferenceSource = "reflector"
)

// inferenceTemperature/inferenceNumPredict are the fixed sampling options
// sent with every observer/reflector request; spec.md:253 fixes the wire
// shape but leaves these as constants rather than per-call tunables.
const (
	inferenceTemperature = 0.2
	inferenceNumPredict  = 512
)

// InferenceFailureKind classifies an LLM-pipeline failure for the outbox
// replay loop's retry/dead-letter decision.
type InferenceFailureKind string

const (
	FailureTransient InferenceFailureKind = "transient"
	FailureSchema    InferenceFailureKind = "schema"
	FailureFatal     InferenceFailureKind = "fatal"
)

// InferenceError wraps a classified OM inference failure.
type InferenceError struct {
	Source InferenceSource
	Kind   InferenceFailureKind
	Err    error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("om inference failed: source=%s kind=%s: %v", e.Source, e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// StructuredOutput is the parsed shape common to Observer and Reflector
// LLM responses.
type StructuredOutput struct {
	Observations      []string
	CurrentTask       string
	SuggestedResponse string
}

// loopbackClient POSTs system+user prompts to a loopback-only endpoint and
// tolerantly parses JSON, JSON-in-content, or XML responses.
type loopbackClient struct {
	endpoint string
	model    string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

func newLoopbackClient(endpoint, model string) *loopbackClient {
	return &loopbackClient{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 4 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "om-llm",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		}),
	}
}

func (c *loopbackClient) infer(ctx context.Context, source InferenceSource, system, user string) (StructuredOutput, error) {
	if err := embedder.ValidateLoopback(c.endpoint); err != nil {
		return StructuredOutput{}, &InferenceError{Source: source, Kind: FailureFatal, Err: err}
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.post(ctx, system, user)
	})
	if err != nil {
		kind := FailureTransient
		if strings.HasPrefix(err.Error(), "schema:") {
			kind = FailureSchema
		}
		return StructuredOutput{}, &InferenceError{Source: source, Kind: kind, Err: err}
	}
	return result.(StructuredOutput), nil
}

func (c *loopbackClient) post(ctx context.Context, system, user string) (StructuredOutput, error) {
	body, _ := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"stream": false,
		"options": map[string]any{
			"temperature": inferenceTemperature,
			"num_predict": inferenceNumPredict,
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return StructuredOutput{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return StructuredOutput{}, fmt.Errorf("transient: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return StructuredOutput{}, fmt.Errorf("transient: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return StructuredOutput{}, fmt.Errorf("schema: status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return StructuredOutput{}, fmt.Errorf("transient: read body: %w", err)
	}
	return parseStructuredOutput(buf.Bytes())
}

// parseStructuredOutput tolerates snake_case/camelCase JSON, JSON embedded
// in a "content" field, or XML observation blocks, per 4.F.3/4.F.5.
func parseStructuredOutput(raw []byte) (StructuredOutput, error) {
	parsed := gjson.ParseBytes(raw)

	if obs := firstPresent(parsed, "observations", "Observations"); obs.IsArray() {
		return StructuredOutput{
			Observations:      stringArray(obs),
			CurrentTask:       firstPresent(parsed, "current_task", "currentTask").String(),
			SuggestedResponse: firstPresent(parsed, "suggested_response", "suggestedResponse").String(),
		}, nil
	}

	if content := parsed.Get("content"); content.Exists() && content.String() != "" {
		inner := gjson.Parse(content.String())
		if obs := firstPresent(inner, "observations", "Observations"); obs.IsArray() {
			return StructuredOutput{
				Observations:      stringArray(obs),
				CurrentTask:       firstPresent(inner, "current_task", "currentTask").String(),
				SuggestedResponse: firstPresent(inner, "suggested_response", "suggestedResponse").String(),
			}, nil
		}
		if xmlOut, err := parseXMLObservations(content.String()); err == nil {
			return xmlOut, nil
		}
		if lines := bulletedLines(content.String()); len(lines) > 0 {
			return StructuredOutput{Observations: lines}, nil
		}
	}

	if xmlOut, err := parseXMLObservations(string(raw)); err == nil {
		return xmlOut, nil
	}

	if lines := bulletedLines(string(raw)); len(lines) > 0 {
		return StructuredOutput{Observations: lines}, nil
	}

	return StructuredOutput{}, fmt.Errorf("schema: unrecognised response shape")
}

func firstPresent(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func stringArray(r gjson.Result) []string {
	arr := r.Array()
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.String())
	}
	return out
}

type xmlObservations struct {
	Observations      []string `xml:"observations>item"`
	CurrentTask       string   `xml:"current-task"`
	SuggestedResponse string   `xml:"suggested-response"`
}

func parseXMLObservations(s string) (StructuredOutput, error) {
	var x xmlObservations
	if err := xml.Unmarshal([]byte(s), &x); err != nil || len(x.Observations) == 0 {
		return StructuredOutput{}, fmt.Errorf("schema: no xml observations block")
	}
	return StructuredOutput{Observations: x.Observations, CurrentTask: x.CurrentTask, SuggestedResponse: x.SuggestedResponse}, nil
}

var bulletLinePattern = regexp.MustCompile(`^[-*•]\s+(.*)$`)

func bulletedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if m := bulletLinePattern.FindStringSubmatch(line); m != nil {
			out = append(out, strings.TrimSpace(m[1]))
		}
	}
	return out
}
