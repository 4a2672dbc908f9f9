package view

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"coursewatch/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	courseLinkRegex = regexp.MustCompile(`/course/view\.php\?id=(\d+)`)
	videoLinkRegex  = regexp.MustCompile(`/mod/fsresource/view\.php\?id=(\d+)`)
)

func courseIdFromHref(href string) int64 {
	m := courseLinkRegex.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	id, _ := strconv.ParseInt(m[1], 10, 64)
	return id
}

// overviewContainers matches the course overview block across theme
// variants; ids are sometimes suffixed with a block instance number.
const overviewContainers = `section#block-myoverview, div#block-myoverview, ` +
	`div.block_myoverview, section.block_myoverview, [id^="block-myoverview"]`

// parseOverviewCourses pulls course links strictly from the dashboard's
// overview block. Links elsewhere on the page (navigation, footers,
// recently-accessed widgets) are ignored on purpose. Themes render the
// same course as both a nameless image link and a title link, so entries
// are merged per course id and the first non-empty name wins.
func parseOverviewCourses(doc *goquery.Document) []Course {
	var order []string
	names := map[string]string{}
	hrefs := map[string]string{}

	doc.Find(overviewContainers).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		m := courseLinkRegex.FindStringSubmatch(href)
		if m == nil {
			return
		}
		key := m[1]
		if _, ok := names[key]; !ok {
			order = append(order, key)
			names[key] = ""
			hrefs[key] = href
		}
		if names[key] == "" {
			name := htmlutil.CleanText(a.Text())
			if name == "" {
				name = a.AttrOr("title", "")
			}
			names[key] = name
		}
	})

	courses := make([]Course, 0, len(order))
	for _, key := range order {
		name := names[key]
		if name == "" {
			name = hrefs[key]
		}
		id, _ := strconv.ParseInt(key, 10, 64)
		courses = append(courses, Course{Id: id, Name: name, Href: hrefs[key]})
	}
	return courses
}

// parseCourseVideos walks the activity list and keeps streaming resource
// modules, identified either by their module link or by a video activity
// icon. When the page carries no recognizable activity list at all, any
// module link found page-wide is taken instead.
func parseCourseVideos(doc *goquery.Document) []Video {
	var videos []Video

	doc.Find("li.activity").Each(func(_ int, li *goquery.Selection) {
		var id int64
		var name, href string

		if a := li.Find(`a[href*="/mod/fsresource/view.php?id="]`).First(); a.Length() > 0 {
			href = a.AttrOr("href", "")
			if m := videoLinkRegex.FindStringSubmatch(href); m != nil {
				id, _ = strconv.ParseInt(m[1], 10, 64)
				name = htmlutil.CleanText(a.Text())
				if name == "" {
					name = a.AttrOr("title", "")
				}
			}
		}

		if icon := li.Find("img.activityicon").First(); icon.Length() > 0 {
			if strings.Contains(icon.AttrOr("src", ""), "/f/video") {
				if id == 0 {
					id, _ = strconv.ParseInt(icon.AttrOr("data-id", ""), 10, 64)
				}
				if name == "" {
					name = htmlutil.CleanText(li.Find(".instancename").First().Text())
				}
				if href == "" && id != 0 {
					href = fmt.Sprintf("/mod/fsresource/view.php?id=%d", id)
				}
			}
		}

		if id == 0 {
			return
		}
		if name == "" {
			name = fmt.Sprintf("fsresource-%d", id)
		}

		videos = append(videos, Video{
			Id:         id,
			Name:       name,
			Href:       href,
			Completion: completionState(li),
		})
	})

	if len(videos) == 0 {
		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href := a.AttrOr("href", "")
			m := videoLinkRegex.FindStringSubmatch(href)
			if m == nil {
				return
			}
			id, _ := strconv.ParseInt(m[1], 10, 64)
			name := htmlutil.CleanText(a.Text())
			if name == "" {
				name = a.AttrOr("title", "")
			}
			if name == "" {
				name = fmt.Sprintf("fsresource-%d", id)
			}
			videos = append(videos, Video{
				Id:         id,
				Name:       name,
				Href:       href,
				Completion: CompletionUnknown,
			})
		})
	}

	return dedupeVideos(videos)
}

func dedupeVideos(videos []Video) []Video {
	seen := map[int64]bool{}
	out := videos[:0]
	for _, v := range videos {
		if seen[v.Id] {
			continue
		}
		seen[v.Id] = true
		out = append(out, v)
	}
	return out
}

// completionState reads the activity's completion badge. The badge takes
// several shapes across theme versions: a numeric state attribute, state
// classes, or only a todo button labeled 待办事项 on unfinished activities.
func completionState(li *goquery.Selection) Completion {
	if comp := li.Find(".activity-completion").First(); comp.Length() > 0 {
		state := comp.AttrOr("data-completionstate", comp.AttrOr("data-state", ""))
		if state != "" {
			if n, err := strconv.Atoi(state); err == nil {
				if n == 0 {
					return CompletionIncomplete
				}
				return CompletionDone
			}
		}
		classes := comp.AttrOr("class", "")
		if strings.Contains(classes, "notcompleted") || strings.Contains(classes, "incomplete") {
			return CompletionIncomplete
		}
		if strings.Contains(classes, "completed") {
			return CompletionDone
		}
	}

	todo := false
	li.Find("button").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if strings.Contains(b.Text(), "待办事项") {
			todo = true
			return false
		}
		return true
	})
	if todo {
		return CompletionIncomplete
	}
	return CompletionUnknown
}
