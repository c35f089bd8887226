package schemas

import (
	"errors"
	"strings"

	json "github.com/json-iterator/go"
)

// ResultStatus is the outcome class of a handler invocation.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusIdle    ResultStatus = "idle"
)

// Result is what every action handler returns. Failures are data, never panics.
type Result struct {
	Agent     string         `json:"agent"`
	Status    ResultStatus   `json:"status"`
	Action    string         `json:"action,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// OK reports whether the handler succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Set stores a payload value under key and returns the result for chaining.
func (r Result) Set(key string, v any) Result {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[key] = v
	return r
}

// ErrorResult builds an error result for agent. The error field carries
// ErrorText(err).
func ErrorResult(agent string, err error, now string) Result {
	return Result{Agent: agent, Status: StatusError, Error: ErrorText(err), Timestamp: now}
}

// Failure is an error with a separate caller facing message. Error follows the
// Go convention for error strings; Text is what a Result reports.
type Failure struct {
	msg  string
	text string
}

// NewFailure returns a Failure reading msg as an error and text in results.
func NewFailure(msg, text string) *Failure { return &Failure{msg: msg, text: text} }

func (f *Failure) Error() string { return f.msg }

// Text returns the caller facing message.
func (f *Failure) Text() string { return f.text }

// ErrorText renders err for a Result. A Failure anywhere in the chain has its
// message swapped for its text; any wrapping context is kept.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if !errors.As(err, &f) {
		return err.Error()
	}
	return strings.Replace(err.Error(), f.msg, f.text, 1)
}

// StringList is a list of strings that also accepts a bare string when decoding,
// so a single label value is normalized to a one element list.
type StringList []string

// MarshalJSON always emits an array, never null.
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*l = items
	return nil
}
