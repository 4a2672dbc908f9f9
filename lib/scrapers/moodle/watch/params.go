// Package watch drives simulated watch progress for streaming resource
// activities: it resolves the identity a progress report needs from page
// text, renders an operator-captured request template against evolving
// state, and replays it on a timer until the server reports completion.
package watch

import (
	"regexp"
	"strconv"
	"strings"

	"coursewatch/lib/scrapers/moodle/core"
)

// PageData is everything the resource page itself can tell us, extracted
// from static text without executing the page's script.
type PageData struct {
	// from the embedded playerdata object or inline script patterns
	ResourceId int64
	// playerdata sometimes carries its own session key
	SessionKey string
	// declared media length in seconds, when the page exposes one
	Duration int64
	// resource title from the page heading
	Name string

	// page-global M.cfg values
	Config    core.Config
	HasConfig bool
}

var (
	playerdataAssignRegex   = regexp.MustCompile(`(?s)playerdata\s*=\s*(\{.*?\})\s*;`)
	playerdataPropertyRegex = regexp.MustCompile(`(?s)playerdata\s*:\s*(\{.*?\})`)
	playerdataBareRegex     = regexp.MustCompile(`(?s)playerdata\s*=\s*(\{.*?\})`)

	// inline-script and data-attribute shapes the player markup has been
	// seen to carry the instance id in, most specific first
	resourceIdRegexes = []*regexp.Regexp{
		regexp.MustCompile(`fsresourceid\s*[:=]\s*(\d+)`),
		regexp.MustCompile(`data-fsresourceid\s*=\s*"?(\d+)"?`),
		regexp.MustCompile(`fsresource\s*:\s*\{[^}]*?id\s*:\s*(\d+)`),
		regexp.MustCompile(`cmid\s*[:=]\s*(\d+)`),
	}

	durationRegexes = []*regexp.Regexp{
		regexp.MustCompile(`duration\s*[:=]\s*(\d+)`),
		regexp.MustCompile(`data-duration\s*=\s*"?(\d+)"?`),
	}

	headingRegex    = regexp.MustCompile(`(?s)<h2[^>]*>(.*?)</h2>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// ExtractPageData reads a resource page. The playerdata object is the
// preferred source since it belongs to the player itself; the loose
// inline-script patterns only fill fields playerdata did not provide.
func ExtractPageData(html string) PageData {
	var data PageData

	if fields, ok := extractPlayerdata(html); ok {
		data.ResourceId = core.LooseInt64(fields["fsresourceid"])
		data.Duration = core.LooseInt64(fields["duration"])
		if sk, ok := fields["sesskey"].(string); ok {
			data.SessionKey = sk
		}
	}

	if data.ResourceId == 0 {
		for _, re := range resourceIdRegexes {
			if m := re.FindStringSubmatch(html); m != nil {
				data.ResourceId, _ = strconv.ParseInt(m[1], 10, 64)
				break
			}
		}
	}

	if data.Duration == 0 {
		for _, re := range durationRegexes {
			if m := re.FindStringSubmatch(html); m != nil {
				data.Duration, _ = strconv.ParseInt(m[1], 10, 64)
				break
			}
		}
	}

	if m := headingRegex.FindStringSubmatch(html); m != nil {
		data.Name = strings.TrimSpace(whitespaceRegex.ReplaceAllString(m[1], " "))
	}

	data.Config, data.HasConfig = core.ExtractConfig(html)
	return data
}

func extractPlayerdata(html string) (map[string]any, bool) {
	m := playerdataAssignRegex.FindStringSubmatch(html)
	if m == nil {
		m = playerdataPropertyRegex.FindStringSubmatch(html)
	}
	if m == nil {
		m = playerdataBareRegex.FindStringSubmatch(html)
	}
	if m == nil {
		return nil, false
	}
	fields, err := core.DecodeLooseObject(m[1])
	if err != nil {
		return nil, false
	}
	return fields, true
}
