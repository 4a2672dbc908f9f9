package view

import (
	"context"
	"testing"

	"coursewatch/lib/scrapers/moodle/core"
	"coursewatch/lib/telemetry"

	"github.com/dgraph-io/badger/v4"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const dashboardHtml = `<html><body>
<nav><a href="https://courses.gdut.edu.cn/course/view.php?id=9999">导航里的课程（忽略）</a></nav>
<section id="block-myoverview" class="block_myoverview block">
	<div class="card">
		<a href="https://courses.gdut.edu.cn/course/view.php?id=2545"><img alt=""></a>
		<a href="https://courses.gdut.edu.cn/course/view.php?id=2545">马克思主义基本原理</a>
	</div>
	<div class="card">
		<a href="https://courses.gdut.edu.cn/course/view.php?id=2546">大学英语</a>
	</div>
	<a href="https://courses.gdut.edu.cn/grade/report.php?id=2545">成绩（忽略）</a>
</section>
</body></html>`

const coursePageHtml = `<html><body><ul class="topics">
<li class="activity fsresource modtype_fsresource">
	<a class="aalink" href="https://courses.gdut.edu.cn/mod/fsresource/view.php?id=159716">
		<span class="instancename">第一章 导论</span>
	</a>
	<span class="activity-completion" data-completionstate="1"></span>
</li>
<li class="activity fsresource modtype_fsresource">
	<div class="activityinstance">
		<img class="activityicon nofilter" data-id="159717" src="https://courses.gdut.edu.cn/theme/image.php/boost/core/1/f/video">
		<span class="instancename">第二章 劳动价值论</span>
	</div>
	<button class="btn">待办事项</button>
</li>
<li class="activity assign modtype_assign">
	<a class="aalink" href="https://courses.gdut.edu.cn/mod/assign/view.php?id=159800">
		<span class="instancename">第一次作业</span>
	</a>
</li>
<li class="activity fsresource modtype_fsresource">
	<a class="aalink" href="https://courses.gdut.edu.cn/mod/fsresource/view.php?id=159716">
		<span class="instancename">第一章 导论（重复）</span>
	</a>
</li>
<li class="activity fsresource modtype_fsresource">
	<a class="aalink" href="https://courses.gdut.edu.cn/mod/fsresource/view.php?id=159718">
		<span class="instancename">第三章 剩余价值论</span>
	</a>
	<span class="activity-completion notcompleted"></span>
</li>
</ul></body></html>`

const legacyCoursePageHtml = `<html><body>
<div class="weeks">
	<a href="/mod/fsresource/view.php?id=301">旧版主题视频一</a>
	<a href="/mod/fsresource/view.php?id=302">旧版主题视频二</a>
	<a href="/mod/forum/view.php?id=303">讨论区</a>
</div>
</body></html>`

func setup(t testing.TB, cache *badger.DB) Client {
	cleanup := telemetry.SetupForTesting("test:lib/scrapers/moodle/view")
	t.Cleanup(cleanup)

	coreClient, err := core.NewClient("https://courses.gdut.edu.cn", core.ClientOptions{
		SessionCookie: "fake",
	})
	require.NoError(t, err)
	coreClient.SetSesskey("testkey")

	httpmock.ActivateNonDefault(coreClient.Http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewClient(coreClient, ClientOptions{
		ClientId: "tester",
		Cache:    cache,
	})
}

func TestCourses(t *testing.T) {
	client := setup(t, nil)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/my/",
		httpmock.NewStringResponder(200, dashboardHtml))

	courses, err := client.Courses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, int64(2545), courses[0].Id)
	require.Equal(t, "马克思主义基本原理", courses[0].Name)
	require.Equal(t, int64(2546), courses[1].Id)
	require.Equal(t, "大学英语", courses[1].Name)
}

func TestCoursesEnrollmentFallback(t *testing.T) {
	client := setup(t, nil)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/my/",
		httpmock.NewStringResponder(200, `<html><body>rendered client side</body></html>`))
	httpmock.RegisterResponder("POST", "https://courses.gdut.edu.cn/lib/ajax/service.php",
		httpmock.NewStringResponder(200, `[{"error":false,"data":{"courses":[
			{"id":2545,"fullname":"马克思主义基本原理","shortname":"marx","viewurl":"https://courses.gdut.edu.cn/course/view.php?id=2545"}
		]}}]`))

	courses, err := client.Courses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, int64(2545), courses[0].Id)
	require.Equal(t, "马克思主义基本原理", courses[0].Name)
}

func TestCoursesCached(t *testing.T) {
	cache, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	client := setup(t, cache)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/my/",
		httpmock.NewStringResponder(200, dashboardHtml))

	first, err := client.Courses(context.Background())
	require.NoError(t, err)
	second, err := client.Courses(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestVideos(t *testing.T) {
	client := setup(t, nil)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/course/view.php",
		httpmock.NewStringResponder(200, coursePageHtml))

	videos, err := client.Videos(context.Background(), Course{
		Id:   2545,
		Name: "马克思主义基本原理",
		Href: "https://courses.gdut.edu.cn/course/view.php?id=2545",
	})
	require.NoError(t, err)
	require.Len(t, videos, 3)

	require.Equal(t, int64(159716), videos[0].Id)
	require.Equal(t, "第一章 导论", videos[0].Name)
	require.Equal(t, CompletionDone, videos[0].Completion)

	require.Equal(t, int64(159717), videos[1].Id)
	require.Equal(t, "第二章 劳动价值论", videos[1].Name)
	require.Equal(t, "/mod/fsresource/view.php?id=159717", videos[1].Href)
	require.Equal(t, CompletionIncomplete, videos[1].Completion)

	require.Equal(t, int64(159718), videos[2].Id)
	require.Equal(t, CompletionIncomplete, videos[2].Completion)
}

func TestVideosPageWideFallback(t *testing.T) {
	client := setup(t, nil)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/course/view.php",
		httpmock.NewStringResponder(200, legacyCoursePageHtml))

	videos, err := client.Videos(context.Background(), Course{
		Href: "https://courses.gdut.edu.cn/course/view.php?id=7",
	})
	require.NoError(t, err)
	require.Len(t, videos, 2)
	require.Equal(t, int64(301), videos[0].Id)
	require.Equal(t, "旧版主题视频一", videos[0].Name)
	require.Equal(t, CompletionUnknown, videos[0].Completion)
	require.Equal(t, int64(302), videos[1].Id)
}

func TestVideosNeverCached(t *testing.T) {
	cache, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	client := setup(t, cache)

	httpmock.RegisterResponder("GET", "https://courses.gdut.edu.cn/course/view.php",
		httpmock.NewStringResponder(200, coursePageHtml))

	course := Course{Href: "https://courses.gdut.edu.cn/course/view.php?id=2545"}
	_, err = client.Videos(context.Background(), course)
	require.NoError(t, err)
	_, err = client.Videos(context.Background(), course)
	require.NoError(t, err)

	require.Equal(t, 2, httpmock.GetTotalCallCount())
}
