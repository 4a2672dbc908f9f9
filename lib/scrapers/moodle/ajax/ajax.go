// Package ajax speaks the LMS's bundled-call web service protocol: every
// request is a JSON array of calls posted to /lib/ajax/service.php, every
// response an array of per-call envelopes.
package ajax

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"coursewatch/lib/scrapers/moodle/core"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
)

const serviceEndpoint = "/lib/ajax/service.php"

type Client struct {
	Core *core.Client
}

func NewClient(c *core.Client) Client {
	return Client{Core: c}
}

// call is one entry in the request bundle.
type call struct {
	Index      int    `json:"index"`
	MethodName string `json:"methodname"`
	Args       any    `json:"args"`
}

// envelope is one entry in the response bundle.
type envelope struct {
	Error     bool            `json:"error"`
	Exception *exceptionInfo  `json:"exception"`
	Data      json.RawMessage `json:"data"`
}

type exceptionInfo struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
}

// ServiceError is a failure the service reports inside a 200 response.
type ServiceError struct {
	Method    string
	Message   string
	ErrorCode string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: service error", e.Method)
	}
	if e.ErrorCode == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Method, e.Message, e.ErrorCode)
}

// Call invokes a single web service method and returns its data payload.
// The info query param duplicates the method name purely to label server
// logs; routing happens through the body.
func (c Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Call:"+method)
	defer span.End()

	sesskey, err := c.Core.Sesskey(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve sesskey")
		return nil, err
	}

	body, err := json.Marshal([]call{{
		Index:      0,
		MethodName: method,
		Args:       args,
	}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal call bundle")
		return nil, err
	}

	res, err := c.Core.Http.R().
		SetContext(ctx).
		SetQueryParam("sesskey", sesskey).
		SetQueryParam("info", method).
		SetHeader("content-type", "application/json").
		SetBody(body).
		Post(serviceEndpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make request")
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("%s: status %s", method, res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}

	var envelopes []envelope
	if err := json.Unmarshal(res.Body(), &envelopes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse response bundle")
		return nil, fmt.Errorf("%s: parse response: %w", method, err)
	}
	if len(envelopes) == 0 {
		err := fmt.Errorf("%s: empty response bundle", method)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	entry := envelopes[0]
	if entry.Error {
		serr := &ServiceError{Method: method}
		if entry.Exception != nil {
			serr.Message = entry.Exception.Message
			serr.ErrorCode = entry.Exception.ErrorCode
		}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "service reported an error")
		return nil, serr
	}
	return entry.Data, nil
}

// PostRaw replays a prepared report body against the service endpoint and
// returns the raw response. The bundle wrapper and reply interpretation
// stay with the caller: player modules disagree on shapes, so the payload
// goes over the wire untouched. The timestamp query param mirrors what the
// web player sends and doubles as a cache buster.
func (c Client) PostRaw(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "PostRaw")
	defer span.End()

	sesskey, err := c.Core.Sesskey(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve sesskey")
		return nil, err
	}

	res, err := c.Core.Http.R().
		SetContext(ctx).
		SetQueryParam("sesskey", sesskey).
		SetQueryParam("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10)).
		SetHeader("content-type", "application/json").
		SetBody(payload).
		Post(serviceEndpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make request")
		return nil, fmt.Errorf("service replay: %w", err)
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("service replay: status %s", res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, err
	}
	return res.Body(), nil
}

// ModuleInfo describes a course module as the service reports it. Instance
// is the module-type-local id player payloads call the resource id; Id is
// the course module id from the page URL.
type ModuleInfo struct {
	Id       int64
	Instance int64
	Name     string
}

// CourseModule looks up a course module by its cmid. Some deployments
// return the record flat, others nested under "cm"; both are handled.
func (c Client) CourseModule(ctx context.Context, cmid int64) (ModuleInfo, error) {
	ctx, span := tracer.Start(ctx, "CourseModule")
	defer span.End()

	data, err := c.Call(ctx, "core_course_get_course_module", map[string]any{"cmid": cmid})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return ModuleInfo{}, err
	}

	body := gjson.ParseBytes(data)
	record := body
	if cm := body.Get("cm"); cm.IsObject() {
		record = cm
	}
	instance := record.Get("instance")
	if !instance.Exists() {
		err := fmt.Errorf("core_course_get_course_module: no instance in reply")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ModuleInfo{}, err
	}
	return ModuleInfo{
		Id:       record.Get("id").Int(),
		Instance: instance.Int(),
		Name:     record.Get("name").String(),
	}, nil
}

// Course is an enrolled course as the timeline service reports it.
type Course struct {
	Id        int64  `json:"id"`
	FullName  string `json:"fullname"`
	ShortName string `json:"shortname"`
	ViewUrl   string `json:"viewurl"`
}

// EnrolledCoursesByTimeline lists the user's enrollments. classification
// is the dashboard filter: "all", "inprogress", "past" or "future".
func (c Client) EnrolledCoursesByTimeline(ctx context.Context, classification string) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "EnrolledCoursesByTimeline")
	defer span.End()

	data, err := c.Call(ctx, "core_course_get_enrolled_courses_by_timeline_classification", map[string]any{
		"offset":           0,
		"limit":            0,
		"classification":   classification,
		"sort":             "fullname",
		"customfieldname":  "",
		"customfieldvalue": "",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "call failed")
		return nil, err
	}

	var parsed struct {
		Courses []Course `json:"courses"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse course list")
		return nil, fmt.Errorf("parse course list: %w", err)
	}
	return parsed.Courses, nil
}
