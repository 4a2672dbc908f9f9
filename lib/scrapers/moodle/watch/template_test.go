package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestParseTemplate(t *testing.T) {
	valid := []string{
		`{"progress": 0, "finish": 0, "time": "{time}"}`,
		`{"fsresourceid": {fsresourceid}, "time": {time}}`,
		`[{"index":0,"methodname":"mod_fsresource_record","args":{"fsresourceid":{fsresourceid},"time":{time},"timestamp":{timestamp},"progress":"0.00"}}]`,
	}
	for _, text := range valid {
		_, err := ParseTemplate(text)
		require.NoError(t, err, text)
	}

	invalid := []string{
		``,
		`{"progress": 0,`,
		`progress=0&time={time}`,
		// sesskey substitutes to a bare word, so it only fits a string position
		`{"sesskey": {sesskey}}`,
	}
	for _, text := range invalid {
		_, err := ParseTemplate(text)
		require.ErrorIs(t, err, ErrMalformedTemplate, text)
	}
}

func TestRenderOverridesTopLevelFields(t *testing.T) {
	tmpl, err := ParseTemplate(`{"progress": 0, "finish": 0, "time": "{time}"}`)
	require.NoError(t, err)

	st := TickState{
		WatchedSeconds: 0,
		Progress:       0.5,
		Finishing:      false,
		Timestamp:      time.Unix(1700000000, 0),
		Unique:         "1700000000000_aaaaaaaaaaaa",
	}
	body, err := tmpl.Render(st, ResourceContext{ResourceId: 89161, SessionKey: "abc"})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(body)
	require.Equal(t, "0.50", parsed.Get("progress").String())
	require.Equal(t, int64(0), parsed.Get("finish").Int())
	require.Equal(t, int64(0), parsed.Get("time").Int())
	require.False(t, parsed.Get("unique").Exists())

	// same tick state renders the same bytes
	again, err := tmpl.Render(st, ResourceContext{ResourceId: 89161, SessionKey: "abc"})
	require.NoError(t, err)
	require.Equal(t, body, again)
}

func TestRenderFinishingTick(t *testing.T) {
	tmpl, err := ParseTemplate(`{"progress": 0, "finish": 0, "time": "{time}"}`)
	require.NoError(t, err)

	body, err := tmpl.Render(TickState{
		WatchedSeconds: 50,
		Progress:       1,
		Finishing:      true,
		Timestamp:      time.Unix(1700000000, 0),
	}, ResourceContext{})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(body)
	require.Equal(t, "1.00", parsed.Get("progress").String())
	require.Equal(t, int64(1), parsed.Get("finish").Int())
	require.Equal(t, int64(50), parsed.Get("time").Int())
}

func TestRenderLeavesAuthoredFinishUntilFinishing(t *testing.T) {
	// whatever finish value the capture carried stays until the
	// finishing tick forces a 1
	tmpl, err := ParseTemplate(`{"progress": 0, "finish": 7, "time": "{time}"}`)
	require.NoError(t, err)

	body, err := tmpl.Render(TickState{Progress: 0.1, Timestamp: time.Unix(0, 0)}, ResourceContext{})
	require.NoError(t, err)
	require.Contains(t, string(body), `"finish":7`)
}

func TestRenderServiceBundleOverrides(t *testing.T) {
	tmpl, err := ParseTemplate(`[{"index":0,"methodname":"mod_fsresource_record","args":{"fsresourceid":{fsresourceid},"courseid":{courseId},"time":{time},"progress":"0.00","finish":0,"unique":"seed","sesskey":"{sesskey}"}}]`)
	require.NoError(t, err)

	body, err := tmpl.Render(TickState{
		WatchedSeconds: 30,
		Progress:       0.42,
		Finishing:      false,
		Timestamp:      time.Unix(1700000000, 0),
		Unique:         "1700000000123_x7k2mfoq91bc",
	}, ResourceContext{CourseId: 2545, ResourceId: 89161, SessionKey: "abc"})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(body)
	require.Equal(t, "mod_fsresource_record", parsed.Get("0.methodname").String())

	args := parsed.Get("0.args")
	require.Equal(t, int64(89161), args.Get("fsresourceid").Int())
	require.Equal(t, int64(2545), args.Get("courseid").Int())
	require.Equal(t, int64(30), args.Get("time").Int())
	require.Equal(t, "0.42", args.Get("progress").String())
	require.Equal(t, int64(0), args.Get("finish").Int())
	require.Equal(t, "1700000000123_x7k2mfoq91bc", args.Get("unique").String())
	require.Equal(t, "abc", args.Get("sesskey").String())
}

func TestRenderUniqueOnlyWhenDeclared(t *testing.T) {
	withUnique, err := ParseTemplate(`{"progress": 0, "unique": "seed", "time": {time}}`)
	require.NoError(t, err)

	body, err := withUnique.Render(TickState{
		Timestamp: time.Unix(0, 0), Unique: "42_fresh",
	}, ResourceContext{})
	require.NoError(t, err)
	require.Equal(t, "42_fresh", gjson.GetBytes(body, "unique").String())

	// an empty filler keeps the authored value
	body, err = withUnique.Render(TickState{Timestamp: time.Unix(0, 0)}, ResourceContext{})
	require.NoError(t, err)
	require.Equal(t, "seed", gjson.GetBytes(body, "unique").String())

	without, err := ParseTemplate(`{"progress": 0, "time": {time}}`)
	require.NoError(t, err)
	body, err = without.Render(TickState{
		Timestamp: time.Unix(0, 0), Unique: "42_fresh",
	}, ResourceContext{})
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(body, "unique").Exists())
}

func TestRenderPlaceholderValues(t *testing.T) {
	tmpl, err := ParseTemplate(`{"sesskey":"{sesskey}","ts":{timestamp},"course":{courseId},"ctx":{contextInstanceId},"video":{videoId},"rid":{fsresourceid},"time":{time}}`)
	require.NoError(t, err)

	body, err := tmpl.Render(TickState{
		WatchedSeconds: 42,
		Timestamp:      time.Unix(1700000000, 0),
	}, ResourceContext{
		CourseId:          2545,
		ContextInstanceId: 159716,
		VideoId:           160001,
		ResourceId:        89161,
		SessionKey:        "abc",
	})
	require.NoError(t, err)

	parsed := gjson.ParseBytes(body)
	require.Equal(t, "abc", parsed.Get("sesskey").String())
	// epoch seconds, not millis
	require.Equal(t, int64(1700000000), parsed.Get("ts").Int())
	require.Equal(t, int64(2545), parsed.Get("course").Int())
	require.Equal(t, int64(159716), parsed.Get("ctx").Int())
	require.Equal(t, int64(160001), parsed.Get("video").Int())
	require.Equal(t, int64(89161), parsed.Get("rid").Int())
	require.Equal(t, int64(42), parsed.Get("time").Int())
}

func TestRenderKeepsUnknownTokens(t *testing.T) {
	tmpl, err := ParseTemplate(`{"client":"{useragent}","progress":0,"time":{time}}`)
	require.NoError(t, err)

	body, err := tmpl.Render(TickState{Timestamp: time.Unix(0, 0)}, ResourceContext{})
	require.NoError(t, err)
	require.Equal(t, "{useragent}", gjson.GetBytes(body, "client").String())
}

func TestRenderProbeLeavesFieldsAlone(t *testing.T) {
	tmpl, err := ParseTemplate(`[{"index":0,"methodname":"mod_fsresource_record","args":{"fsresourceid":{fsresourceid},"time":"{time}","timestamp":{timestamp},"progress":"0.00","finish":0,"unique":"seed","sesskey":"{sesskey}"}}]`)
	require.NoError(t, err)

	body, err := tmpl.RenderProbe(
		ResourceContext{ResourceId: 89161, SessionKey: "abc"},
		time.Unix(1700000000, 0),
	)
	require.NoError(t, err)

	// pure substitution: authored values, formatting and key order all
	// survive untouched
	require.Equal(t,
		`[{"index":0,"methodname":"mod_fsresource_record","args":{"fsresourceid":89161,"time":"3","timestamp":1700000000,"progress":"0.00","finish":0,"unique":"seed","sesskey":"abc"}}]`,
		string(body))
}
