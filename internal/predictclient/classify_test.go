package predictclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/bakeready/internal/prediction"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    prediction.ErrorKind
		days    int
		message string
	}{
		{name: "zero days is present", status: 200, body: `{"days_until_bake_ready": 0}`, days: 0},
		{name: "full payload", status: 200, body: `{"prediction": 3, "days_until_bake_ready": 3, "message": "Predicted: 3 days", "raw_prediction": 9.2}`, days: 3},
		{name: "fractional days are rounded", status: 200, body: `{"days_until_bake_ready": 2.6}`, days: 3},
		{name: "detail on error", status: 500, body: `{"detail": "model unavailable"}`, kind: prediction.KindApplication, message: "model unavailable"},
		{name: "message on error", status: 400, body: `{"message": "File must be an image"}`, kind: prediction.KindApplication, message: "File must be an image"},
		{name: "detail wins over message", status: 503, body: `{"detail": "Model not loaded", "message": "other"}`, kind: prediction.KindApplication, message: "Model not loaded"},
		{name: "structured detail", status: 422, body: `{"detail": [{"msg": "field required"}]}`, kind: prediction.KindApplication, message: `[{"msg":"field required"}]`},
		{name: "plain text error", status: 502, body: "upstream crashed", kind: prediction.KindApplication, message: "prediction service returned 502 Bad Gateway: upstream crashed"},
		{name: "empty error body", status: 504, body: "", kind: prediction.KindApplication, message: "prediction service returned 504 Gateway Timeout"},
		{name: "json error without detail", status: 500, body: `{"error": "x"}`, kind: prediction.KindApplication, message: `prediction service returned 500 Internal Server Error: {"error": "x"}`},
		{name: "non json success", status: 200, body: "oops", kind: prediction.KindMalformedResponse, message: "malformed response from prediction service (status 200): oops"},
		{name: "empty success body", status: 200, body: "", kind: prediction.KindMalformedResponse, message: "malformed response from prediction service (status 200)"},
		{name: "missing field", status: 200, body: `{"prediction": 4}`, kind: prediction.KindMissingField},
		{name: "null field", status: 200, body: `{"days_until_bake_ready": null}`, kind: prediction.KindMissingField},
		{name: "json array", status: 200, body: `[1, 2]`, kind: prediction.KindMissingField},
		{name: "string field", status: 200, body: `{"days_until_bake_ready": "3"}`, kind: prediction.KindMalformedResponse},
		{name: "negative field", status: 201, body: `{"days_until_bake_ready": -2}`, kind: prediction.KindMalformedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := Classify(tc.status, tc.body)

			if tc.kind == "" {
				require.True(t, outcome.OK(), "unexpected failure: %+v", outcome.Failure)
				require.Equal(t, tc.days, outcome.Success.Days)
				return
			}

			require.False(t, outcome.OK())
			require.Nil(t, outcome.Success)
			require.Equal(t, tc.kind, outcome.Failure.Kind)
			require.Equal(t, tc.status, outcome.Failure.StatusCode)
			if tc.message != "" {
				require.Equal(t, tc.message, outcome.Failure.Message)
			}
		})
	}
}

func TestClassifyCapturesOptionalSuccessFields(t *testing.T) {
	outcome := Classify(200, `{"days_until_bake_ready": 3, "message": "Predicted: 3 days", "raw_prediction": 9.2}`)

	require.True(t, outcome.OK())
	require.Equal(t, "Predicted: 3 days", outcome.Success.Message)
	require.NotNil(t, outcome.Success.RawPrediction)
	require.InDelta(t, 9.2, *outcome.Success.RawPrediction, 1e-9)
}

func TestClassifyIsIdempotent(t *testing.T) {
	inputs := []struct {
		status int
		body   string
	}{
		{200, `{"days_until_bake_ready": 5}`},
		{500, `{"detail": "model unavailable"}`},
		{200, "oops"},
		{404, "not found"},
	}
	for _, in := range inputs {
		first := Classify(in.status, in.body)
		second := Classify(in.status, in.body)
		require.Equal(t, first, second)
	}
}

func TestClassifyTruncatesLongBodies(t *testing.T) {
	body := strings.Repeat("é", 500)

	outcome := Classify(500, body)

	require.Equal(t, prediction.KindApplication, outcome.Failure.Kind)
	prefix := "prediction service returned 500 Internal Server Error: "
	require.True(t, strings.HasPrefix(outcome.Failure.Message, prefix))
	require.Equal(t, 200, len([]rune(strings.TrimPrefix(outcome.Failure.Message, prefix))))
}
