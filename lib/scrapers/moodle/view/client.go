// Package view reads the LMS's rendered pages: the dashboard course
// overview and per-course activity listings. Course pages are always
// fetched live because completion badges must be fresh; the dashboard is
// cached briefly since enrollments rarely change mid-session.
package view

import (
	"context"
	"strings"
	"time"

	"coursewatch/lib/htmlutil"
	"coursewatch/lib/scrapers/moodle/ajax"
	"coursewatch/lib/scrapers/moodle/core"
	"coursewatch/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Client struct {
	ClientId string
	Core     *core.Client
	Ajax     ajax.Client
	cache    pageCache
}

type ClientOptions struct {
	// a unique id for this client, used to namespace cache keys
	ClientId string
	// optional; listings are fetched live on every call when nil
	Cache *badger.DB
}

func NewClient(coreClient *core.Client, opts ClientOptions) Client {
	return Client{
		ClientId: opts.ClientId,
		Core:     coreClient,
		Ajax:     ajax.NewClient(coreClient),
		cache: pageCache{
			db:      opts.Cache,
			baseUrl: coreClient.BaseUrl,
		},
	}
}

// Course is an enrollment visible on the dashboard.
type Course struct {
	Id   int64
	Name string
	Href string
}

// Completion is the activity completion badge state on a course page.
type Completion int

const (
	CompletionUnknown Completion = iota
	CompletionIncomplete
	CompletionDone
)

func (c Completion) String() string {
	switch c {
	case CompletionIncomplete:
		return "incomplete"
	case CompletionDone:
		return "done"
	}
	return "unknown"
}

// Video is a streaming resource activity on a course page. Id is the
// course module id from the activity link, not the player's resource id.
type Video struct {
	Id         int64
	Name       string
	Href       string
	Completion Completion
}

const dashboardPath = "/my/"

const COURSE_LIST_LIFETIME = int64(time.Hour / time.Second)

// Courses lists enrollments from the dashboard's course overview block,
// falling back to the enrollment web service when the block is rendered
// client side and the server HTML carries no links.
func (c Client) Courses(ctx context.Context) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "client:Courses")
	defer span.End()

	cached, err := c.cache.get(ctx, c.ClientId, dashboardPath)
	if err == nil {
		span.SetStatus(codes.Ok, "CACHE HIT")
		return coursesFromAnchors(cached.Anchors), nil
	}
	if err != errPageNotCached {
		span.RecordError(err)
		span.AddEvent("CACHE ERROR", trace.WithAttributes(attribute.KeyValue{
			Key:   "log.severity",
			Value: attribute.StringValue("WARN"),
		}))
	}

	html, err := c.Core.GetPage(ctx, dashboardPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}

	courses := parseOverviewCourses(doc)
	if len(courses) == 0 {
		span.AddEvent("dashboard overview block empty, using enrollment service")
		enrolled, err := c.Ajax.EnrolledCoursesByTimeline(ctx, "all")
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "enrollment service fallback failed")
			return nil, err
		}
		for _, e := range enrolled {
			courses = append(courses, Course{
				Id:   e.Id,
				Name: e.FullName,
				Href: e.ViewUrl,
			})
		}
	}

	err = c.cache.set(ctx, c.ClientId, dashboardPath, cachedListing{
		Anchors:   anchorsFromCourses(courses),
		ExpiresAt: timezone.Now().Unix() + COURSE_LIST_LIFETIME,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cache dashboard listing")
	}

	return courses, nil
}

// Videos lists the streaming resource activities on a course page along
// with their completion badge state. Never cached: a stale completion
// badge would cause finished videos to be watched again.
func (c Client) Videos(ctx context.Context, course Course) ([]Video, error) {
	ctx, span := tracer.Start(ctx, "client:Videos")
	defer span.End()
	span.SetAttributes(attribute.KeyValue{
		Key:   "url",
		Value: attribute.StringValue(course.Href),
	})

	html, err := c.Core.GetPage(ctx, course.Href)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course page")
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, err
	}

	return parseCourseVideos(doc), nil
}

func coursesFromAnchors(anchors []htmlutil.Anchor) []Course {
	courses := make([]Course, 0, len(anchors))
	for _, a := range anchors {
		if a == (htmlutil.Anchor{}) {
			continue
		}
		courses = append(courses, Course{
			Id:   courseIdFromHref(a.Href),
			Name: a.Name,
			Href: a.Href,
		})
	}
	return courses
}

func anchorsFromCourses(courses []Course) []htmlutil.Anchor {
	anchors := make([]htmlutil.Anchor, 0, len(courses))
	for _, c := range courses {
		anchors = append(anchors, htmlutil.Anchor{
			Name: c.Name,
			Href: c.Href,
		})
	}
	return anchors
}
