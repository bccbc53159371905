package batch

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"backend-formcoach/internal/auth"

	"github.com/gofiber/fiber/v2"
)

type testApp struct {
	app       *fiber.App
	runner    *Runner
	uploads   string
	processed string
}

func newTestApp(t *testing.T, cfg Config) *testApp {
	t.Helper()
	ta := &testApp{uploads: t.TempDir(), processed: t.TempDir()}
	cfg.ProcessedDir = ta.processed
	ta.runner, _ = newTestRunner(t, angleDetector, cfg)

	ta.app = fiber.New()
	RegisterRoutes(ta.app, ta.runner, HandlerConfig{UploadDir: ta.uploads, ProcessedDir: ta.processed}, func(c *fiber.Ctx) error {
		c.Locals(auth.LocalAthleteID, "athlete-1")
		return c.Next()
	})
	return ta
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestSubmitJSONAndStatus(t *testing.T) {
	ta := newTestApp(t, Config{})
	startRunner(t, ta.runner)
	writeTrack(t, ta.uploads, repTrackLines(1))

	resp := postJSON(t, ta.app, "/jobs", map[string]string{"path": "track.ndjson", "mode": "beginner"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var accepted struct {
		JobID  string `json:"job_id"`
		Status Status `json:"status"`
	}
	decode(t, resp, &accepted)
	if accepted.JobID == "" || accepted.Status != StatusQueued {
		t.Fatalf("unexpected response: %+v", accepted)
	}

	done := waitForStatus(t, ta.runner, accepted.JobID, StatusCompleted)
	if done.AthleteID != "athlete-1" || done.Input != InputLandmarks {
		t.Fatalf("unexpected job: %+v", done)
	}

	for _, path := range []string{"/jobs/", "/video-status/"} {
		resp, _ := ta.app.Test(httptest.NewRequest(http.MethodGet, path+accepted.JobID, nil))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		var job Job
		decode(t, resp, &job)
		if job.Result == nil || job.Result.CorrectSquats != 1 {
			t.Fatalf("%s: unexpected job %+v", path, job)
		}
	}
}

func TestSubmitMultipartUpload(t *testing.T) {
	ta := newTestApp(t, Config{WorkDir: t.TempDir(), Extractor: dirExtractor{t: t, reps: 1}})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("video", "squat.mp4")
	_, _ = part.Write([]byte("fake video"))
	_ = w.WriteField("mode", "pro")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload-video", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := ta.app.Test(req)
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %v %v", resp.StatusCode, err)
	}
	var accepted map[string]any
	decode(t, resp, &accepted)

	job, err := ta.runner.Get(req.Context(), accepted["video_id"].(string))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Mode != "pro" || job.Input != InputVideo || filepath.Dir(job.Path) != ta.uploads {
		t.Fatalf("unexpected job: %+v", job)
	}
	if data, _ := os.ReadFile(job.Path); string(data) != "fake video" {
		t.Fatalf("upload not saved")
	}
}

func TestSubmitRejects(t *testing.T) {
	ta := newTestApp(t, Config{QueueSize: 1})
	writeTrack(t, ta.uploads, repTrackLines(1))

	cases := []struct {
		body map[string]string
		want int
	}{
		{map[string]string{}, http.StatusBadRequest},
		{map[string]string{"path": "../etc/passwd"}, http.StatusBadRequest},
		{map[string]string{"path": "missing.ndjson"}, http.StatusBadRequest},
		{map[string]string{"path": "track.ndjson", "input": "audio"}, http.StatusBadRequest},
		{map[string]string{"path": "track.ndjson", "mode": "expert"}, http.StatusBadRequest},
		{map[string]string{"path": "track.ndjson", "input": "video"}, http.StatusUnprocessableEntity},
		{map[string]string{"path": "track.ndjson"}, http.StatusAccepted},
		{map[string]string{"path": "track.ndjson"}, http.StatusServiceUnavailable},
	}
	for i, c := range cases {
		if resp := postJSON(t, ta.app, "/jobs", c.body); resp.StatusCode != c.want {
			t.Fatalf("case %d: expected %d, got %d", i, c.want, resp.StatusCode)
		}
	}
}

func TestStatusAndCancelErrors(t *testing.T) {
	ta := newTestApp(t, Config{})
	writeTrack(t, ta.uploads, repTrackLines(1))

	resp, _ := ta.app.Test(httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var accepted map[string]any
	decode(t, postJSON(t, ta.app, "/jobs", map[string]string{"path": "track.ndjson"}), &accepted)
	id := accepted["job_id"].(string)

	resp, _ = ta.app.Test(httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = ta.app.Test(httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestArtifacts(t *testing.T) {
	ta := newTestApp(t, Config{})
	if err := os.WriteFile(filepath.Join(ta.processed, "processed_abc.gif"), []byte("GIF89a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp, _ := ta.app.Test(httptest.NewRequest(http.MethodGet, "/api/videos/processed_abc.gif", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "GIF89a" {
		t.Fatalf("unexpected body %q", body)
	}

	resp, _ = ta.app.Test(httptest.NewRequest(http.MethodGet, "/api/thumbnails/missing.jpg", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
