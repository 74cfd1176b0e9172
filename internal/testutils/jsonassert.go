//go:build test

package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/blemgr/internal/events"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions controls how loosely a document has to match.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not name,
	// so expectations list only the fields a test cares about.
	IgnoreExtraKeys bool `default:"true"`
	// NullAsEmpty lets `null` match `[]`; nil Go slices marshal as null.
	NullAsEmpty bool `default:"true"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

// WithIgnoreExtraKeys sets whether keys missing from the expected document are ignored
func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.IgnoreExtraKeys = ignore
	}
}

// WithNullAsEmpty sets whether null and empty arrays are interchangeable
func WithNullAsEmpty(enable bool) Option {
	return func(opts *JSONAssertOptions) {
		opts.NullAsEmpty = enable
	}
}

// JSONAsserter compares event payloads, bridge results and CLI JSON lines
// against expected documents and reports gojsondiff output on mismatch.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	ja.t.Helper()
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertValue marshals actual and compares it against expectedJSON
func (ja *JSONAsserter) AssertValue(actual any, expectedJSON string) {
	ja.t.Helper()
	ja.Assert(MustJSON(actual), expectedJSON)
}

// AssertEvent compares an event as {"name": ..., "payload": ...} against expectedJSON
func (ja *JSONAsserter) AssertEvent(ev events.Event, expectedJSON string) {
	ja.t.Helper()
	if ev == nil {
		ja.t.Errorf("JSON assertion failed: event is nil, expected %s", expectedJSON)
		return
	}
	ja.AssertValue(eventDoc(ev), expectedJSON)
}

// AssertEvents compares a recorded event sequence, in order, against an
// expected array of {"name", "payload"} documents.
func (ja *JSONAsserter) AssertEvents(evs []events.Event, expectedJSON string) {
	ja.t.Helper()
	docs := make([]map[string]any, 0, len(evs))
	for _, ev := range evs {
		docs = append(docs, eventDoc(ev))
	}
	ja.AssertValue(docs, expectedJSON)
}

func eventDoc(ev events.Event) map[string]any {
	return map[string]any{"name": ev.Name(), "payload": ev}
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects
	expected = map[string]any{"value": expected}
	actual = map[string]any{"value": actual}
	ja.align(expected, actual)

	diff, err := gojsondiff.New().Compare([]byte(MustJSON(expected)), []byte(MustJSON(actual)))
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}
	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, _ := f.Format(diff)
	return out
}

// align rewrites actual in place so that differences the options tolerate
// disappear before the diff. Arrays are matched by index.
func (ja *JSONAsserter) align(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return
		}
		if ja.options.IgnoreExtraKeys {
			for k := range act {
				if _, keep := exp[k]; !keep {
					delete(act, k)
				}
			}
		}
		for k, ev := range exp {
			av, present := act[k]
			if ja.options.NullAsEmpty && present && isNullOrEmpty(ev) && isNullOrEmpty(av) {
				act[k] = ev
				continue
			}
			ja.align(ev, av)
		}
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			ja.align(exp[i], act[i])
		}
	}
}

func isNullOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	arr, ok := v.([]any)
	return ok && len(arr) == 0
}
