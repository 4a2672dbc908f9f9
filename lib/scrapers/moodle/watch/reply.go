package watch

import (
	"errors"

	"github.com/tidwall/gjson"
)

// CompletionLiteral is the exact value the platform writes into a
// progress reply's completion field once it considers the resource done.
const CompletionLiteral = "已完成"

// ErrMalformedReply means a response body could not be read as any known
// reply shape. Treated as "no completion signal this tick", never fatal.
var ErrMalformedReply = errors.New("malformed progress reply")

// Reply is the interpreted view of one progress-report response.
type Reply struct {
	// the completion field matched CompletionLiteral
	Completed bool
	// the service envelope flagged an error
	ServiceError bool

	// echoed diagnostics, empty when absent
	Status     string
	Progress   string
	TotalTime  string
	Completion string
}

// InterpretReply reads a progress-report response. Player modules answer
// in two shapes: a bare object, or a service bundle whose first entry
// carries the object under data. Either way only a handful of fields are
// recognized; everything else is ignored.
func InterpretReply(body []byte) (Reply, error) {
	if !gjson.ValidBytes(body) {
		return Reply{}, ErrMalformedReply
	}

	parsed := gjson.ParseBytes(body)
	view := parsed

	var reply Reply
	if parsed.IsArray() {
		first := parsed.Get("0")
		if !first.Exists() {
			// an empty bundle carries no signal at all
			return Reply{}, nil
		}
		if first.Get("error").Bool() {
			reply.ServiceError = true
		}
		view = first.Get("data")
		if !view.Exists() {
			view = first
		}
	}

	if !view.IsObject() {
		return reply, nil
	}

	reply.Status = view.Get("status").String()
	reply.Progress = view.Get("progress").String()
	reply.TotalTime = view.Get("totaltime").String()
	reply.Completion = view.Get("completion").String()
	reply.Completed = reply.Completion == CompletionLiteral
	return reply, nil
}

// snippet truncates a raw body for log lines without splitting runes.
func snippet(body []byte) string {
	const maxRunes = 160
	runes := []rune(string(body))
	if len(runes) <= maxRunes {
		return string(runes)
	}
	return string(runes[:maxRunes]) + "…"
}
