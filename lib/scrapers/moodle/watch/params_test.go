package watch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractPageDataPlayerdata(t *testing.T) {
	html := `<html><body>
<h2>微观经济学   第一章</h2>
<script>var playerdata = {'fsresourceid':89161,'sesskey':'abc'}</script>
</body></html>`

	data := ExtractPageData(html)
	require.Equal(t, int64(89161), data.ResourceId)
	require.Equal(t, "abc", data.SessionKey)
	require.Equal(t, "微观经济学 第一章", data.Name)
	require.False(t, data.HasConfig)
}

func TestExtractPageDataPlayerdataJson(t *testing.T) {
	// digit-string ids and trailing commas both show up in the wild
	html := `<script>
playerdata = {"fsresourceid": "89161", "sesskey": "k3y", "duration": 3600,};
</script>`

	data := ExtractPageData(html)
	require.Equal(t, int64(89161), data.ResourceId)
	require.Equal(t, "k3y", data.SessionKey)
	require.Equal(t, int64(3600), data.Duration)
}

func TestExtractPageDataPlayerdataPropertyForm(t *testing.T) {
	html := `<script>player.init({playerdata: {"fsresourceid": 52, "sesskey": "pp"}});</script>`

	data := ExtractPageData(html)
	require.Equal(t, int64(52), data.ResourceId)
	require.Equal(t, "pp", data.SessionKey)
}

func TestExtractPageDataResourceIdPatterns(t *testing.T) {
	cases := []struct {
		name string
		html string
		want int64
	}{
		{"inline assignment", `<script>fsresourceid = 89161;</script>`, 89161},
		{"data attribute", `<div data-fsresourceid="777"></div>`, 777},
		{"nested object", `<script>var opts = {fsresource: {autoplay: true, id: 4321}};</script>`, 4321},
		{"cmid", `<script>var cmid = 1234;</script>`, 1234},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := ExtractPageData(c.html)
			require.Equal(t, c.want, data.ResourceId)
		})
	}
}

func TestExtractPageDataPlayerdataWins(t *testing.T) {
	// loose patterns must not overwrite what the player object declared
	html := `<script>
var playerdata = {'fsresourceid':89161,'sesskey':'abc'};
var cmid = 555;
</script>`

	data := ExtractPageData(html)
	require.Equal(t, int64(89161), data.ResourceId)
	require.Equal(t, "abc", data.SessionKey)
}

func TestExtractPageDataDuration(t *testing.T) {
	data := ExtractPageData(`<video data-duration="1800"></video>`)
	require.Equal(t, int64(1800), data.Duration)

	data = ExtractPageData(`<script>var duration = 7200;</script>`)
	require.Equal(t, int64(7200), data.Duration)
}

func TestExtractPageDataConfig(t *testing.T) {
	html := `<script>
//<![CDATA[
M.cfg = {"wwwroot":"https:\/\/courses.gdut.edu.cn","sesskey":"OqkZwEPT3c","courseId":2545,"contextInstanceId":159716,"sessiontimeout":"28800"};
//]]>
</script>`

	data := ExtractPageData(html)
	require.True(t, data.HasConfig)
	require.Equal(t, "OqkZwEPT3c", data.Config.Sesskey)
	require.Equal(t, int64(2545), data.Config.CourseId)
	require.Equal(t, int64(159716), data.Config.ContextInstanceId)
	require.Equal(t, int64(28800), data.Config.SessionTimeout)
}

func TestExtractPageDataEmptyPage(t *testing.T) {
	data := ExtractPageData("<html><body>nothing here</body></html>")
	require.Equal(t, PageData{}, data)
}

func TestExtractPageDataFullPage(t *testing.T) {
	html := fmt.Sprintf(`<html><body>
<h2 class="main">
	第三章
	成本理论
</h2>
<script>
M.cfg = {"wwwroot":"https:\/\/courses.gdut.edu.cn","sesskey":"pagekey","courseId":2545,"contextInstanceId":159716,"sessiontimeout":28800};
</script>
<script>var playerdata = {'fsresourceid':%d,'sesskey':'abc','duration':100};</script>
</body></html>`, 89161)

	data := ExtractPageData(html)
	require.Equal(t, int64(89161), data.ResourceId)
	require.Equal(t, "abc", data.SessionKey)
	require.Equal(t, int64(100), data.Duration)
	require.Equal(t, "第三章 成本理论", data.Name)
	require.True(t, data.HasConfig)
	require.Equal(t, "pagekey", data.Config.Sesskey)
}
