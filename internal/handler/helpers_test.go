package handler

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/keygate/keygate/internal/model"
)

func TestPathID(t *testing.T) {
	tests := []struct {
		in     string
		wantID int64
		wantOK bool
	}{
		{"1", 1, true},
		{"42", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		id, ok := pathID(tt.in)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("pathID(%q) = (%d, %v), want (%d, %v)", tt.in, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestPagination(t *testing.T) {
	tests := []struct {
		query     string
		wantSkip  int
		wantLimit int
	}{
		{"", 0, 50},
		{"?skip=10&limit=20", 10, 20},
		{"?skip=-5", 0, 50},
		{"?limit=0", 0, 1},
		{"?limit=9999", 0, 200},
		{"?skip=abc&limit=xyz", 0, 50},
	}

	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/keys"+tt.query, nil)
		skip, limit := pagination(r)
		if skip != tt.wantSkip || limit != tt.wantLimit {
			t.Errorf("pagination(%q) = (%d, %d), want (%d, %d)",
				tt.query, skip, limit, tt.wantSkip, tt.wantLimit)
		}
	}
}

func TestQueryBoolPtr(t *testing.T) {
	r := httptest.NewRequest("GET", "/projects", nil)
	if got := queryBoolPtr(r, "is_active"); got != nil {
		t.Errorf("absent parameter should return nil, got %v", *got)
	}

	r = httptest.NewRequest("GET", "/projects?is_active=true", nil)
	if got := queryBoolPtr(r, "is_active"); got == nil || !*got {
		t.Error("is_active=true should return pointer to true")
	}

	r = httptest.NewRequest("GET", "/projects?is_active=false", nil)
	if got := queryBoolPtr(r, "is_active"); got == nil || *got {
		t.Error("is_active=false should return pointer to false")
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, 404, "Key not found")

	if rr.Code != 404 {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != 404 {
		t.Errorf("error.code = %d, want 404", resp.Error.Code)
	}
	if resp.Error.Message != "Key not found" {
		t.Errorf("error.message = %q, want %q", resp.Error.Message, "Key not found")
	}
}
