// Package portal is a read-only client for the student portal REST API:
// the student profile, the class timeline, weekly class schedules and
// the daily attendance log.
//
// Credentials are never stored here. Callers inject a TokenSource and
// the client asks it for a bearer token on every request.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portalcal/internal/fetch"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/schedule"
)

var (
	ErrNoToken      = errors.New("portal: no access token available")
	ErrTokenExpired = errors.New("portal: access token expired")
	// ErrUnauthorized is returned when the portal rejects the token.
	ErrUnauthorized = errors.New("portal: unauthorized")
)

// TokenSource supplies the bearer token for portal calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// EnvToken reads the token from the named environment variable on each
// call, so a rotated token is picked up without a restart.
type EnvToken string

func (e EnvToken) Token(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", fmt.Errorf("%w: $%s is empty", ErrNoToken, string(e))
	}
	return v, nil
}

// Profile is the subset of /profile the calendar needs.
type Profile struct {
	StudentID string `json:"studentId"`
	Name      string `json:"studentName"`
	Email     string `json:"email"`
}

// AttendanceSummary is the portal's own attendance aggregate.
type AttendanceSummary struct {
	AttendanceRate float64 `json:"attendanceRate"`
	TotalDays      int     `json:"totalDays"`
	PresentDays    int     `json:"presentDays"`
	AbsentDays     int     `json:"absentDays"`
}

// Client talks to the portal API under baseURL (e.g.
// "https://portal.example.edu/api").
type Client struct {
	baseURL string
	tokens  TokenSource
	fetcher *fetch.Fetcher
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a Client. Responses go through f so that a portal
// outage falls back to the last cached payload.
func NewClient(baseURL string, tokens TokenSource, f *fetch.Fetcher, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		fetcher: f,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Profile returns the logged-in student's profile.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var wire struct {
		Profile
		StudentID json.RawMessage `json:"studentId"`
	}
	if err := c.getJSON(ctx, "profile", "/profile", &wire); err != nil {
		return Profile{}, err
	}
	p := wire.Profile
	p.StudentID = idString(wire.StudentID)
	if p.StudentID == "" {
		return Profile{}, errors.New("portal: profile has no studentId")
	}
	return p, nil
}

// ClassTimeline returns the dated class entries for a student. Entries
// are returned as sent; dates are normalized by the caller.
func (c *Client) ClassTimeline(ctx context.Context, studentID string) ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	path := "/academic/class-timelines/" + url.PathEscape(studentID)
	if err := c.getJSON(ctx, "class-timeline", path, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Source == "" {
			entries[i].Source = "timeline"
		}
	}
	return entries, nil
}

// ClassSchedules returns the weekly class slots.
func (c *Client) ClassSchedules(ctx context.Context) ([]schedule.ClassSchedule, error) {
	var wire []struct {
		schedule.ClassSchedule
		ID json.RawMessage `json:"classScheduleId"`
	}
	if err := c.getJSON(ctx, "class-schedules", "/admin/academic/class-schedules", &wire); err != nil {
		return nil, err
	}
	out := make([]schedule.ClassSchedule, 0, len(wire))
	for _, w := range wire {
		s := w.ClassSchedule
		s.ID = idString(w.ID)
		out = append(out, s)
	}
	return out, nil
}

// Attendance returns the daily attendance log for a student.
func (c *Client) Attendance(ctx context.Context, studentID string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	path := "/academic/daily-attendance/student/" + url.PathEscape(studentID)
	if err := c.getJSON(ctx, "attendance", path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// AttendanceSummary returns the portal-computed attendance aggregate.
func (c *Client) AttendanceSummary(ctx context.Context, studentID string) (AttendanceSummary, error) {
	var s AttendanceSummary
	path := "/academic/daily-attendance/summary/student/" + url.PathEscape(studentID)
	err := c.getJSON(ctx, "attendance-summary", path, &s)
	return s, err
}

func (c *Client) getJSON(ctx context.Context, id, path string, out any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := CheckExpiry(tok, c.now()); err != nil {
		return err
	}

	res, err := c.fetcher.Get(ctx, fetch.Request{
		ID:     id,
		URL:    c.baseURL + path,
		Header: http.Header{"Authorization": {"Bearer " + tok}, "Accept": {"application/json"}},
	})
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, path, se.Code)
		}
		return fmt.Errorf("portal: %s: %w", id, err)
	}

	if err := json.Unmarshal(res.Body, out); err != nil {
		return fmt.Errorf("portal: decode %s: %w", id, err)
	}
	appLog.Debug("portal response decoded", "id", id, "bytes", len(res.Body), "from_cache", res.FromCache)
	return nil
}

// CheckExpiry rejects a JWT whose exp claim is before now. The signature
// is not verified; that is the portal's job. Opaque (non-JWT) tokens and
// tokens without exp pass.
func CheckExpiry(token string, now time.Time) error {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

// idString accepts ids sent as JSON numbers or strings.
func idString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
