package prediction

import "fmt"

// Image is an encoded image blob as delivered by an acquirer or produced by
// the preprocessor. Values are treated as immutable once constructed.
type Image struct {
	Data     []byte
	Size     int64
	MIMEType string
	Name     string
}

// NewImage builds an Image whose declared size matches the payload.
func NewImage(data []byte, name, mimeType string) Image {
	return Image{
		Data:     data,
		Size:     int64(len(data)),
		MIMEType: mimeType,
		Name:     name,
	}
}

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	// KindPreprocess is only ever logged; the preprocessor degrades to the original image.
	KindPreprocess        ErrorKind = "preprocess_error"
	KindNetwork           ErrorKind = "network_error"
	KindApplication       ErrorKind = "application_error"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindMissingField      ErrorKind = "missing_field"
)

// NetworkCause narrows a KindNetwork failure.
type NetworkCause string

const (
	NetworkCauseNone       NetworkCause = ""
	NetworkCauseTimeout    NetworkCause = "timeout"
	NetworkCauseConnection NetworkCause = "connection"
	NetworkCauseCanceled   NetworkCause = "canceled"
)

// Success carries the estimate returned by the inference service.
type Success struct {
	Days          int      `json:"days"`
	Message       string   `json:"message,omitempty"`
	RawPrediction *float64 `json:"raw_prediction,omitempty"`
}

// Failure is the terminal error of an attempt.
type Failure struct {
	Message    string       `json:"message"`
	Kind       ErrorKind    `json:"kind"`
	Network    NetworkCause `json:"network,omitempty"`
	StatusCode int          `json:"status_code,omitempty"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Timeout reports whether the failure was caused by the request deadline.
func (f *Failure) Timeout() bool {
	return f != nil && f.Kind == KindNetwork && f.Network == NetworkCauseTimeout
}

// Outcome is the result of one attempt. Exactly one of Success and Failure is set.
type Outcome struct {
	Success *Success `json:"success,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(days int) Outcome {
	return Outcome{Success: &Success{Days: days}}
}

// Failed builds a failed outcome.
func Failed(kind ErrorKind, message string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: message}}
}

// NetworkFailed builds a KindNetwork outcome with the given cause.
func NetworkFailed(cause NetworkCause, message string) Outcome {
	return Outcome{Failure: &Failure{Kind: KindNetwork, Network: cause, Message: message}}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Success != nil && o.Failure == nil
}

// Label is a short, stable name for the outcome used in logs and persistence.
func (o Outcome) Label() string {
	if o.OK() {
		return "success"
	}
	if o.Failure != nil {
		return string(o.Failure.Kind)
	}
	return "unknown"
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
