package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Validator is implemented by extraction targets that carry constraints the
// JSON schema alone cannot express (enums, cross-field rules). CompleteJSON
// treats a Validate error like an unmarshal error: retry with feedback.
type Validator interface {
	Validate() error
}

// Completer is the text-only half of Client.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

const jsonRetries = 3

// JSONRetrier adapts a text-only Completer into a full Client by parsing the
// response body as JSON and retrying with feedback on failure.
type JSONRetrier struct {
	Completer
}

// CompleteJSON asks for a completion and unmarshals it into out. Each failed
// attempt is appended to the conversation together with the parse error so
// the model can correct itself; after three attempts it gives up with
// ErrSchemaGaveUp and the last response.
func (j JSONRetrier) CompleteJSON(ctx context.Context, req Request, out any) (*Response, error) {
	messages := make([]Message, len(req.Messages))
	copy(messages, req.Messages)

	var last *Response
	for attempt := 0; attempt < jsonRetries; attempt++ {
		attemptReq := req
		attemptReq.Messages = messages

		resp, err := j.Complete(ctx, attemptReq)
		if err != nil {
			return nil, err
		}
		last = resp

		parseErr := UnmarshalResponse(resp.Text, out)
		if parseErr == nil {
			return resp, nil
		}

		messages = append(messages,
			Message{Role: "assistant", Content: resp.Text},
			Message{Role: "user", Content: fmt.Sprintf(
				"Your previous response was not valid: %v. Respond again with only a JSON object matching the requested structure.", parseErr)},
		)
	}
	return last, ErrSchemaGaveUp
}

// UnmarshalResponse extracts the JSON object from a model response and
// unmarshals it into out, running out's Validate hook if present. Models
// routinely wrap JSON in markdown fences or prose, so the first balanced
// object or array in the text is used.
func UnmarshalResponse(text string, out any) error {
	body := ExtractJSON(text)
	if body == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("schema violation: %w", err)
		}
	}
	return nil
}

// ExtractJSON returns the first balanced JSON object or array in text,
// stripping markdown code fences. Returns "" when none is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip ```json ... ``` fences.
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := -1
	for i, r := range text {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
