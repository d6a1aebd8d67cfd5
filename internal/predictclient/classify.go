package predictclient

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/example/bakeready/internal/prediction"
)

const (
	// DaysField is the response field carrying the estimate.
	DaysField = "days_until_bake_ready"
	// excerptLength caps how much of a raw body ends up in a message.
	excerptLength = 200
)

// Classify turns a status code and raw response body into an outcome. It is
// pure: the same input always yields the same outcome.
func Classify(status int, body string) prediction.Outcome {
	if status < 200 || status > 299 {
		return classifyError(status, body)
	}

	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return prediction.Outcome{Failure: &prediction.Failure{
			Kind:       prediction.KindMalformedResponse,
			StatusCode: status,
			Message:    withExcerpt(fmt.Sprintf("malformed response from prediction service (status %d)", status), body),
		}}
	}

	fields, _ := parsed.(map[string]any)
	value, ok := fields[DaysField]
	if !ok || value == nil {
		return prediction.Outcome{Failure: &prediction.Failure{
			Kind:       prediction.KindMissingField,
			StatusCode: status,
			Message:    fmt.Sprintf("response from prediction service has no %s field", DaysField),
		}}
	}

	number, ok := value.(float64)
	if !ok {
		return malformedField(status, fmt.Sprintf("%s is not a number", DaysField), body)
	}
	days := math.Round(number)
	if days < 0 || days > math.MaxInt32 {
		return malformedField(status, fmt.Sprintf("%s is out of range: %v", DaysField, number), body)
	}

	success := &prediction.Success{Days: int(days)}
	if message, ok := fields["message"].(string); ok {
		success.Message = message
	}
	if raw, ok := fields["raw_prediction"].(float64); ok {
		success.RawPrediction = &raw
	}
	return prediction.Outcome{Success: success}
}

func classifyError(status int, body string) prediction.Outcome {
	failure := &prediction.Failure{
		Kind:       prediction.KindApplication,
		StatusCode: status,
	}

	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		if fields, ok := parsed.(map[string]any); ok {
			failure.Message = errorMessage(fields)
		}
	}
	if failure.Message == "" {
		failure.Message = withExcerpt(statusLine(status), body)
	}
	return prediction.Outcome{Failure: failure}
}

// errorMessage prefers "detail" over "message". A structured detail, such as a
// list of validation errors, is rendered as compact JSON.
func errorMessage(fields map[string]any) string {
	switch detail := fields["detail"].(type) {
	case string:
		if detail != "" {
			return detail
		}
	case nil:
	default:
		if encoded, err := json.Marshal(detail); err == nil {
			return string(encoded)
		}
	}
	if message, ok := fields["message"].(string); ok {
		return message
	}
	return ""
}

func malformedField(status int, reason, body string) prediction.Outcome {
	return prediction.Outcome{Failure: &prediction.Failure{
		Kind:       prediction.KindMalformedResponse,
		StatusCode: status,
		Message:    withExcerpt(fmt.Sprintf("malformed response from prediction service (status %d): %s", status, reason), body),
	}}
}

func statusLine(status int) string {
	line := fmt.Sprintf("prediction service returned %d", status)
	if text := http.StatusText(status); text != "" {
		line += " " + text
	}
	return line
}

func withExcerpt(message, body string) string {
	if excerpt := Excerpt(body); excerpt != "" {
		return message + ": " + excerpt
	}
	return message
}

// Excerpt returns at most the first 200 characters of a trimmed body.
func Excerpt(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) > excerptLength {
		return string(runes[:excerptLength])
	}
	return body
}
