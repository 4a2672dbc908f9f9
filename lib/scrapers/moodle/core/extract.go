package core

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var sesskeyInputRegex = regexp.MustCompile(`name=["']sesskey["']\s+value=["']([a-zA-Z0-9]+)["']`)
var sesskeyGenericRegex = regexp.MustCompile(`sesskey["']?\s*[:=]\s*["']([a-zA-Z0-9]+)["']`)

// ExtractSesskey pulls the session key out of rendered page text. The
// hidden logout-form input is the most reliable carrier; inline script
// assignments ("sesskey":"..." inside M.cfg and friends) are the fallback.
func ExtractSesskey(html string) string {
	if m := sesskeyInputRegex.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := sesskeyGenericRegex.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// Config is the subset of the page-global M.cfg object this tool reads.
type Config struct {
	Sesskey           string
	CourseId          int64
	ContextInstanceId int64
	SessionTimeout    int64
	Wwwroot           string
}

var moodleConfigRegex = regexp.MustCompile(`(?s)M\.cfg\s*=\s*(\{.*?\})\s*;`)
var moodleConfigPropertyRegex = regexp.MustCompile(`(?s)cfg\s*:\s*(\{.*?\})`)
var trailingCommaRegex = regexp.MustCompile(`,\s*([}\]])`)

// ExtractConfig locates the M.cfg assignment (or the cfg: property form
// some theme bundles emit) and decodes it leniently: trailing commas are
// stripped and single-quoted literals get a second parse attempt.
// ok is false when no config object could be decoded at all.
func ExtractConfig(html string) (cfg Config, ok bool) {
	m := moodleConfigRegex.FindStringSubmatch(html)
	if m == nil {
		m = moodleConfigPropertyRegex.FindStringSubmatch(html)
	}
	if m == nil {
		return Config{}, false
	}

	fields, err := DecodeLooseObject(m[1])
	if err != nil {
		return Config{}, false
	}

	cfg.Sesskey, _ = fields["sesskey"].(string)
	cfg.Wwwroot, _ = fields["wwwroot"].(string)
	cfg.CourseId = LooseInt64(fields["courseId"])
	cfg.ContextInstanceId = LooseInt64(fields["contextInstanceId"])
	cfg.SessionTimeout = LooseInt64(fields["sessiontimeout"])
	return cfg, true
}

// DecodeLooseObject parses a script-embedded object literal that is
// usually JSON but sometimes written with single quotes or trailing
// commas by the platform's theme.
func DecodeLooseObject(raw string) (map[string]any, error) {
	cleaned := trailingCommaRegex.ReplaceAllString(raw, "$1")

	var fields map[string]any
	err := json.Unmarshal([]byte(cleaned), &fields)
	if err == nil {
		return fields, nil
	}

	recovered := strings.ReplaceAll(cleaned, "'", `"`)
	err = json.Unmarshal([]byte(recovered), &fields)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// LooseInt64 coerces the numeric shapes the platform mixes freely:
// JSON numbers and digit strings ("28800").
func LooseInt64(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
