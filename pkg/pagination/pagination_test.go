package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Clamping(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"limit=50&offset=10", 50, 10},
		{"limit=500", MaxLimit, 0},
		{"limit=-3", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
		{"offset=-5", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(newContext("/?" + tt.query))
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected HasMore with 5 total and first page of 2")
	}
	last := NewResponse([]string{"e"}, 5, 2, 4)
	if last.HasMore {
		t.Error("expected no more results on the last page")
	}
}

func TestParams_Offsets(t *testing.T) {
	p := Params{Limit: 20, Offset: 10}
	if p.NextOffset() != 30 {
		t.Errorf("expected next offset 30, got %d", p.NextOffset())
	}
	if p.PreviousOffset() != 0 {
		t.Errorf("expected previous offset clamped to 0, got %d", p.PreviousOffset())
	}
	if !p.HasPrevious() {
		t.Error("expected HasPrevious with offset 10")
	}
	if p.HasNext(30) {
		t.Error("expected no next page when offset+limit == total")
	}
}

func TestResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/auto-assignment-events?status=FAILED&limit=10&offset=10")
	r := NewResponse(nil, 35, 10, 10).WithLinks(u)

	next, err := url.Parse(r.Next)
	if err != nil {
		t.Fatalf("parse next: %v", err)
	}
	if next.Path != "/api/v1/auto-assignment-events" {
		t.Errorf("unexpected path %q", next.Path)
	}
	q := next.Query()
	if q.Get("offset") != "20" || q.Get("limit") != "10" || q.Get("status") != "FAILED" {
		t.Errorf("unexpected next query %q", next.RawQuery)
	}

	prev, _ := url.Parse(r.Prev)
	if prev.Query().Get("offset") != "0" {
		t.Errorf("expected previous offset 0, got %q", prev.Query().Get("offset"))
	}
}

func TestResponse_WithLinksSinglePage(t *testing.T) {
	u, _ := url.Parse("/api/v1/auto-assignment-events")
	r := NewResponse(nil, 3, 20, 0).WithLinks(u)
	if r.Next != "" || r.Prev != "" {
		t.Errorf("expected no links, got next=%q prev=%q", r.Next, r.Prev)
	}
}
