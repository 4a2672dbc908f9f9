package core

import (
	"context"
	"net/http"
	"testing"

	"coursewatch/lib/telemetry"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const dashboardHtml = `<html><head>
<script type="text/javascript">
//<![CDATA[
var M = {}; M.yui = {};
M.cfg = {"wwwroot":"https://courses.gdut.edu.cn","sesskey":"QfJ8xJ2kLm","sessiontimeout":"28800","courseId":1,"contextInstanceId":1};
//]]>
</script>
</head><body>
<form action="https://courses.gdut.edu.cn/login/logout.php" method="post">
<input type="hidden" name="sesskey" value="QfJ8xJ2kLm">
</form>
</body></html>`

func TestSessionCookies(t *testing.T) {
	cookies := sessionCookies(ClientOptions{SessionCookie: "wd5061qf6606kc9t"})
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookieName, cookies[0].Name)
	require.Equal(t, "wd5061qf6606kc9t", cookies[0].Value)

	cookies = sessionCookies(ClientOptions{
		CookieHeader:  "MoodleSession=abc123; MOODLEID1_=deadbeef",
		SessionCookie: "ignored-when-header-present",
	})
	require.Len(t, cookies, 2)
	require.Equal(t, "abc123", cookies[0].Value)
	require.Equal(t, "MOODLEID1_", cookies[1].Name)

	require.Empty(t, sessionCookies(ClientOptions{}))
}

func TestExtractSesskey(t *testing.T) {
	for _, tt := range []struct {
		name string
		html string
		want string
	}{
		{
			name: "hidden input",
			html: `<input type="hidden" name="sesskey" value="AbC123xyz">`,
			want: "AbC123xyz",
		},
		{
			name: "script assignment",
			html: `<script>var cfg = {"sesskey":"ZZtop99"};</script>`,
			want: "ZZtop99",
		},
		{
			name: "single quoted",
			html: `<script>sesskey: 'q1w2e3'</script>`,
			want: "q1w2e3",
		},
		{
			name: "absent",
			html: `<html><body>nothing here</body></html>`,
			want: "",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExtractSesskey(tt.html))
		})
	}
}

func TestExtractConfig(t *testing.T) {
	cfg, ok := ExtractConfig(`<script>
M.cfg = {"wwwroot":"https:\/\/courses.gdut.edu.cn","sesskey":"abc","courseId":2545,"contextInstanceId":159716,"sessiontimeout":"28800"};
</script>`)
	require.True(t, ok)
	require.Equal(t, "abc", cfg.Sesskey)
	require.Equal(t, int64(2545), cfg.CourseId)
	require.Equal(t, int64(159716), cfg.ContextInstanceId)
	require.Equal(t, int64(28800), cfg.SessionTimeout)
	require.Equal(t, "https://courses.gdut.edu.cn", cfg.Wwwroot)

	cfg, ok = ExtractConfig(`<script>M.cfg = {'sesskey':'single','courseId':7,};</script>`)
	require.True(t, ok)
	require.Equal(t, "single", cfg.Sesskey)
	require.Equal(t, int64(7), cfg.CourseId)

	_, ok = ExtractConfig(`<script>var unrelated = 1;</script>`)
	require.False(t, ok)
}

func TestSesskeyFetch(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:scrapers/moodle/core")
	defer cleanup()

	client, err := NewClient("https://courses.gdut.edu.cn", ClientOptions{
		SessionCookie: "fake",
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.Http.GetClient())
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(
		"GET", "https://courses.gdut.edu.cn/my/",
		httpmock.NewStringResponder(200, dashboardHtml),
	)

	key, err := client.Sesskey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "QfJ8xJ2kLm", key)

	// cached: no second fetch
	key, err = client.Sesskey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "QfJ8xJ2kLm", key)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSesskeyFetchFailure(t *testing.T) {
	client, err := NewClient("https://courses.gdut.edu.cn", ClientOptions{
		SessionCookie: "fake",
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(client.Http.GetClient())
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder(
		"GET", "https://courses.gdut.edu.cn/my/",
		httpmock.NewStringResponder(http.StatusForbidden, "expired"),
	)

	_, err = client.Sesskey(context.Background())
	require.Error(t, err)
}
