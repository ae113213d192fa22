package portal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portalcal/internal/calendar"
	"portalcal/internal/fetch"
	"portalcal/internal/model"
	"portalcal/internal/portal"
)

func newPortal(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"studentId": 4021, "studentName": "Aye Chan", "email": "aye@example.edu"}`))
	})
	mux.HandleFunc("/api/academic/class-timelines/4021", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"courseName": "Databases", "classDate": "2024-04-15", "startTime": "09:00", "endTime": "10:30", "room": "B201"},
			{"courseName": "Networks", "classDate": {"year": 2024, "month": 4, "day": 16}, "startTime": "13:00"},
			{"courseName": "Broken", "classDate": true}
		]`))
	})
	mux.HandleFunc("/api/admin/academic/class-schedules", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"classScheduleId": 7, "courseName": "Databases", "dayOfWeek": "Mon", "startTime": "09:00", "endTime": "10:30"},
			{"classScheduleId": "cs-8", "courseName": "Networks", "dayOfWeek": "Wed", "startTime": "13:00", "durationMinutes": 60}
		]`))
	})
	mux.HandleFunc("/api/academic/daily-attendance/student/4021", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"attendanceDate": "2024-04-15", "checkInTime": "08:55", "checkOutTime": "10:31", "status": "Present", "courseName": "Databases"}]`))
	})
	mux.HandleFunc("/api/academic/daily-attendance/summary/student/4021", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"attendanceRate": 87.5, "totalDays": 8, "presentDays": 7, "absentDays": 1}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, tok portal.TokenSource) *portal.Client {
	t.Helper()
	return portal.NewClient(srv.URL+"/api/", tok, fetch.New(t.TempDir(), srv.Client()))
}

func TestClientEndpoints(t *testing.T) {
	srv := newPortal(t)
	c := newClient(t, srv, portal.StaticToken("good"))
	ctx := context.Background()

	p, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.StudentID != "4021" || p.Name != "Aye Chan" {
		t.Fatalf("unexpected profile %+v", p)
	}

	entries, err := c.ClassTimeline(ctx, p.StudentID)
	if err != nil {
		t.Fatalf("ClassTimeline: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("timeline entries = %d, want 3", len(entries))
	}
	if entries[0].Source != "timeline" {
		t.Errorf("source = %q, want timeline", entries[0].Source)
	}
	if key, ok := calendar.NormalizeIn(entries[1].ClassDate, time.UTC); !ok || key != "2024-04-16" {
		t.Errorf("object classDate normalized to %q, %v", key, ok)
	}
	if entries[2].ClassDate.Kind() != model.DateInvalid {
		t.Errorf("boolean classDate should decode as invalid, got %v", entries[2].ClassDate.Kind())
	}

	scheds, err := c.ClassSchedules(ctx)
	if err != nil {
		t.Fatalf("ClassSchedules: %v", err)
	}
	if len(scheds) != 2 || scheds[0].ID != "7" || scheds[1].ID != "cs-8" {
		t.Fatalf("unexpected schedules %+v", scheds)
	}
	if scheds[1].DurationMinutes != 60 {
		t.Errorf("duration = %d, want 60", scheds[1].DurationMinutes)
	}

	recs, err := c.Attendance(ctx, p.StudentID)
	if err != nil {
		t.Fatalf("Attendance: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != "Present" || recs[0].CheckIn != "08:55" {
		t.Fatalf("unexpected attendance %+v", recs)
	}

	sum, err := c.AttendanceSummary(ctx, p.StudentID)
	if err != nil {
		t.Fatalf("AttendanceSummary: %v", err)
	}
	if sum.AttendanceRate != 87.5 || sum.TotalDays != 8 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv := newPortal(t)
	c := newClient(t, srv, portal.StaticToken("bad"))
	if _, err := c.Profile(context.Background()); !errors.Is(err, portal.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClientMissingToken(t *testing.T) {
	srv := newPortal(t)
	t.Setenv("PORTALCAL_TEST_TOKEN", "")
	c := newClient(t, srv, portal.EnvToken("PORTALCAL_TEST_TOKEN"))
	if _, err := c.Profile(context.Background()); !errors.Is(err, portal.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestEnvTokenReadsEachCall(t *testing.T) {
	src := portal.EnvToken("PORTALCAL_TEST_TOKEN")
	t.Setenv("PORTALCAL_TEST_TOKEN", "first")
	if tok, _ := src.Token(context.Background()); tok != "first" {
		t.Fatalf("token = %q", tok)
	}
	t.Setenv("PORTALCAL_TEST_TOKEN", " second ")
	if tok, _ := src.Token(context.Background()); tok != "second" {
		t.Fatalf("token = %q", tok)
	}
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestCheckExpiry(t *testing.T) {
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "opaque token", token: "abc123"},
		{name: "no exp", token: signed(t, jwt.MapClaims{"sub": "4021"})},
		{name: "valid", token: signed(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})},
		{name: "expired", token: signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()}), wantErr: true},
		{name: "expires now", token: signed(t, jwt.MapClaims{"exp": now.Unix()}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := portal.CheckExpiry(tt.token, now)
			if tt.wantErr != errors.Is(err, portal.ErrTokenExpired) {
				t.Fatalf("CheckExpiry() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClientRefusesExpiredToken(t *testing.T) {
	srv := newPortal(t)
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)
	tok := portal.StaticToken(signed(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()}))
	c := portal.NewClient(srv.URL+"/api", tok, fetch.New(t.TempDir(), srv.Client()),
		portal.WithClock(func() time.Time { return now }))
	if _, err := c.Profile(context.Background()); !errors.Is(err, portal.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}
