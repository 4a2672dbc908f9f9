package watch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedTemplate means the request template is not valid structured
// data. Surfaced at load time, before any request is sent.
var ErrMalformedTemplate = errors.New("malformed request template")

// Placeholder is a recognized substitution token in a request template.
type Placeholder string

const (
	PlaceholderSesskey           Placeholder = "{sesskey}"
	PlaceholderTimestamp         Placeholder = "{timestamp}"
	PlaceholderCourseId          Placeholder = "{courseId}"
	PlaceholderContextInstanceId Placeholder = "{contextInstanceId}"
	PlaceholderVideoId           Placeholder = "{videoId}"
	PlaceholderResourceId        Placeholder = "{fsresourceid}"
	PlaceholderTime              Placeholder = "{time}"
)

// TickState is the renderer's view of one tick: the watched time the
// report states, the progress it claims after this tick's credit, and
// the wall clock it observed.
type TickState struct {
	// seconds credited before this tick, floored
	WatchedSeconds int64
	// ratio the report claims once this tick's credit lands, in [0,1]
	Progress float64
	// whether this tick's credit reaches the target
	Finishing bool
	// wall clock at render time
	Timestamp time.Time
	// filler for an anti-replay field, applied only when the template
	// declares one
	Unique string
}

// placeholderSources gives every recognized token exactly one value
// source. Tokens outside this table pass through verbatim; the template
// author is trusted.
var placeholderSources = map[Placeholder]func(TickState, ResourceContext) string{
	PlaceholderSesskey: func(_ TickState, rc ResourceContext) string {
		return rc.SessionKey
	},
	PlaceholderTimestamp: func(st TickState, _ ResourceContext) string {
		return strconv.FormatInt(st.Timestamp.Unix(), 10)
	},
	PlaceholderCourseId: func(_ TickState, rc ResourceContext) string {
		return strconv.FormatInt(rc.CourseId, 10)
	},
	PlaceholderContextInstanceId: func(_ TickState, rc ResourceContext) string {
		return strconv.FormatInt(rc.ContextInstanceId, 10)
	},
	PlaceholderVideoId: func(_ TickState, rc ResourceContext) string {
		return strconv.FormatInt(rc.VideoId, 10)
	},
	PlaceholderResourceId: func(_ TickState, rc ResourceContext) string {
		return strconv.FormatInt(rc.ResourceId, 10)
	},
	PlaceholderTime: func(st TickState, _ ResourceContext) string {
		return strconv.FormatInt(st.WatchedSeconds, 10)
	},
}

// Template is an operator-captured progress report body with placeholder
// tokens, usually lifted straight from browser developer tools. Opaque
// except for the recognized tokens and the three overridable fields.
type Template struct {
	text string
}

// ParseTemplate validates the template text by substituting token values
// and checking the result parses, so a broken capture fails at load time
// rather than mid-run. Placeholders may sit in string or numeric
// positions; both survive substitution.
func ParseTemplate(text string) (Template, error) {
	t := Template{text: text}
	sample := t.substitute(
		TickState{Timestamp: time.Unix(0, 0)},
		ResourceContext{SessionKey: "x"},
	)
	if !json.Valid([]byte(sample)) {
		return Template{}, fmt.Errorf("%w: not valid JSON after substitution", ErrMalformedTemplate)
	}
	return t, nil
}

func (t Template) substitute(st TickState, rc ResourceContext) string {
	pairs := make([]string, 0, len(placeholderSources)*2)
	for ph, source := range placeholderSources {
		pairs = append(pairs, string(ph), source(st, rc))
	}
	return strings.NewReplacer(pairs...).Replace(t.text)
}

// Render produces one progress report body: placeholder substitution
// followed by the per-tick field overrides.
func (t Template) Render(st TickState, rc ResourceContext) ([]byte, error) {
	return applyFieldOverrides([]byte(t.substitute(st, rc)), st)
}

// probeWatchedSeconds is the token watched time a one-shot probe claims,
// small enough to never disturb real progress.
const probeWatchedSeconds = 3

// RenderProbe substitutes placeholders for a single diagnostic request,
// leaving every authored field value untouched.
func (t Template) RenderProbe(rc ResourceContext, now time.Time) ([]byte, error) {
	rendered := t.substitute(TickState{
		WatchedSeconds: probeWatchedSeconds,
		Timestamp:      now,
	}, rc)
	if !json.Valid([]byte(rendered)) {
		return nil, fmt.Errorf("%w: not valid JSON after substitution", ErrMalformedTemplate)
	}
	return []byte(rendered), nil
}

// applyFieldOverrides rewrites the progress, finish and unique fields of
// a rendered document. The fields live at the top level, or under the
// first call's args when the template is a service bundle. Only fields
// the author declared are touched: progress is always restated, finish
// is forced to 1 only on a finishing tick, unique gets a fresh filler.
func applyFieldOverrides(body []byte, st TickState) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	if target := overrideTarget(doc); target != nil {
		if _, ok := target["progress"]; ok {
			target["progress"] = strconv.FormatFloat(st.Progress, 'f', 2, 64)
		}
		if _, ok := target["finish"]; ok && st.Finishing {
			target["finish"] = 1
		}
		if _, ok := target["unique"]; ok && st.Unique != "" {
			target["unique"] = st.Unique
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}
	return out, nil
}

func overrideTarget(doc any) map[string]any {
	switch v := doc.(type) {
	case map[string]any:
		return v
	case []any:
		if len(v) == 0 {
			return nil
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return nil
		}
		args, ok := first["args"].(map[string]any)
		if !ok {
			return nil
		}
		return args
	default:
		return nil
	}
}
