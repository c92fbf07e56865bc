package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJob_GetDisplayTitle(t *testing.T) {
	tests := []struct {
		title    string
		filename string
		url      string
		expected string
	}{
		{"Video Title", "", "https://youtube.com/watch?v=123", "Video Title"},
		{"", "", "https://youtube.com/watch?v=123", "https://youtube.com/watch?v=123"},
		{"", "/tmp/mdjob_1/Clip_Name.mp4", "https://youtube.com/watch?v=456", "Clip_Name"},
		{"https://example.com/v", "", "https://example.com/v", "https://example.com/v"},
	}

	for _, test := range tests {
		job := &Job{Title: test.title, Filename: test.filename, URL: test.url}
		result := job.GetDisplayTitle()
		if result != test.expected {
			t.Errorf("GetDisplayTitle() with title='%s', filename='%s' = '%s', expected '%s'",
				test.title, test.filename, result, test.expected)
		}
	}
}

func TestNewJob(t *testing.T) {
	job := NewJob("id-1", "https://example.com/v", "137+140", "", "mp4", "/tmp/ws")

	if job.Status != StatusQueued {
		t.Errorf("Expected status queued, got %s", job.Status)
	}
	if job.Progress != 0 {
		t.Errorf("Expected zero progress, got %v", job.Progress)
	}
	if job.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}

func TestJob_SetStatus(t *testing.T) {
	job := NewJob("id-1", "u", "best", "", "", "/tmp/ws")

	if job.SetStatus(StatusPaused) {
		t.Fatal("queued -> paused must be rejected")
	}
	if !job.SetStatus(StatusDownloading) {
		t.Fatal("queued -> downloading must be accepted")
	}
	if job.StartedAt.IsZero() {
		t.Error("Expected StartedAt to be stamped")
	}
	if !job.SetStatus(StatusDone) {
		t.Fatal("downloading -> done must be accepted")
	}
	if job.FinishedAt.IsZero() {
		t.Error("Expected FinishedAt to be stamped")
	}
	if job.SetStatus(StatusQueued) {
		t.Error("done is terminal")
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	job := &Job{ID: "a", TotalBytes: ptr(int64(10)), SpeedBPS: ptr(1.5), ETASeconds: ptr(int64(3))}
	c := job.Clone()
	*c.TotalBytes = 20
	*c.SpeedBPS = 2
	*c.ETASeconds = 4

	if *job.TotalBytes != 10 || *job.SpeedBPS != 1.5 || *job.ETASeconds != 3 {
		t.Error("Clone shares pointers with the original")
	}
	if (*Job)(nil).Clone() != nil {
		t.Error("Clone of nil must be nil")
	}
}

func TestJob_JSONProjectionHidesWorkspace(t *testing.T) {
	job := NewJob("id-1", "https://example.com/v", "best", "", "", "/secret/mdjob_x")
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "/secret") {
		t.Errorf("workspace leaked into projection: %s", data)
	}
	if !strings.Contains(string(data), `"status":"queued"`) {
		t.Errorf("missing status: %s", data)
	}
}

func ptr[T any](v T) *T { return &v }
