package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"coursewatch/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var ErrNoSesskey = fmt.Errorf("could not locate a session key in the dashboard page")

const SessionCookieName = "MoodleSession"

// Client is an authenticated handle on the platform. Authentication is
// cookie-only: the operator lifts the session cookie out of a logged-in
// browser, the platform has no credential login we are willing to drive.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	mu      sync.Mutex
	sesskey string
}

type ClientOptions struct {
	// CookieHeader is a full Cookie header value ("MoodleSession=...; other=...").
	// It takes priority over SessionCookie.
	CookieHeader string
	// SessionCookie is the bare value of the MoodleSession cookie.
	SessionCookie string
	// Timeout defaults to 30s.
	Timeout time.Duration
}

func NewClient(baseUrl string, opts ClientOptions) (*Client, error) {
	parsed, err := url.Parse(baseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseUrl, "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	cookies := sessionCookies(opts)
	if len(cookies) > 0 {
		jar.SetCookies(parsed, cookies)
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeaders(map[string]string{
		"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Safari/537.36",
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"accept-language": "zh-CN,zh;q=0.9,en;q=0.8",
	})
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsed.Hostname()))
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 30
	}
	client.SetTimeout(opts.Timeout)

	// the platform throws simultaneous-session warnings on aggressive
	// traffic, so everything funnels through one slow limiter
	rateLimiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "coursewatch.scrapers.moodle.http")

	return &Client{
		BaseUrl: parsed,
		Http:    client,
	}, nil
}

// sessionCookies turns the configured auth material into jar cookies so
// that server-side session refreshes merge instead of double-sending.
func sessionCookies(opts ClientOptions) []*http.Cookie {
	if opts.CookieHeader != "" {
		var cookies []*http.Cookie
		for _, pair := range strings.Split(opts.CookieHeader, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || name == "" {
				continue
			}
			cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
		}
		return cookies
	}
	if opts.SessionCookie != "" {
		return []*http.Cookie{{
			Name:  SessionCookieName,
			Value: opts.SessionCookie,
			Path:  "/",
		}}
	}
	return nil
}

// GetPage fetches a path relative to the base url and returns the body text.
// Non-2xx statuses are errors: every page this tool reads requires a live
// session, and the platform answers dead sessions with redirects or 40x.
func (c *Client) GetPage(ctx context.Context, path string) (string, error) {
	ctx, span := tracer.Start(ctx, "GetPage")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return "", fmt.Errorf("fetch %s: %w", path, err)
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("fetch %s: status %s", path, res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected status")
		return "", err
	}
	return res.String(), nil
}

// Sesskey returns the session-scoped anti-forgery key the AJAX endpoint
// demands, scraping it from the dashboard on first use.
func (c *Client) Sesskey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sesskey != "" {
		return c.sesskey, nil
	}

	ctx, span := tracer.Start(ctx, "Sesskey")
	defer span.End()

	html, err := c.GetPage(ctx, "/my/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return "", err
	}
	key := ExtractSesskey(html)
	if key == "" {
		span.SetStatus(codes.Error, ErrNoSesskey.Error())
		return "", ErrNoSesskey
	}
	c.sesskey = key
	return key, nil
}

// SetSesskey overrides the cached session key, mainly so a key already
// resolved from a resource page is reused instead of refetched.
func (c *Client) SetSesskey(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	c.sesskey = key
	c.mu.Unlock()
}
