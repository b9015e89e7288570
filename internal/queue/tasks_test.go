package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/hibiken/asynq"
)

func TestProcessImageTaskCarriesPipeline(t *testing.T) {
	payload := ProcessImagePayload{
		JobID:       "job-123",
		SourceType:  domain.SourceTypeS3Presigned,
		ObjectKey:   "uploads/job-123/source",
		Pipeline:    domain.DefaultPipeline([]float64{75, 12.5}, 90),
		RequestedAt: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
	}

	task, err := NewProcessImageTask(payload)
	if err != nil {
		t.Fatalf("NewProcessImageTask returned error: %v", err)
	}
	if task.Type() != TypeProcessImage {
		t.Fatalf("expected task type %q, got %q", TypeProcessImage, task.Type())
	}

	parsed, err := ParseProcessImagePayload(task)
	if err != nil {
		t.Fatalf("ParseProcessImagePayload returned error: %v", err)
	}
	if diff := cmp.Diff(payload, parsed); diff != "" {
		t.Fatalf("payload changed in transit (-want +got):\n%s", diff)
	}
	if parsed.Pipeline[1].Percent != 12.5 {
		t.Fatalf("expected fractional percent to survive, got %v", parsed.Pipeline[1].Percent)
	}
}

func TestParseProcessImagePayloadRejectsGarbage(t *testing.T) {
	if _, err := ParseProcessImagePayload(asynq.NewTask(TypeProcessImage, []byte("{"))); err == nil {
		t.Fatal("expected malformed payload error")
	}
}

func TestProcessImagePayloadValidation(t *testing.T) {
	if _, err := NewProcessImageTask(ProcessImagePayload{}); err == nil {
		t.Fatal("expected missing job_id error")
	}

	task := asynq.NewTask(TypeProcessImage, []byte(`{"job_id":"j","pipeline":[{"id":"x","action":"blur"}]}`))
	if _, err := ParseProcessImagePayload(task); err == nil {
		t.Fatal("expected unsupported action to be rejected")
	}
}

func TestTaskIDFollowsJobRevision(t *testing.T) {
	first := ProcessImagePayload{JobID: "job-1", Revision: 100}
	retry := ProcessImagePayload{JobID: "job-1", Revision: 100}
	restart := ProcessImagePayload{JobID: "job-1", Revision: 200}

	if TaskID(first) != TaskID(retry) {
		t.Fatalf("expected same revision to share task id, got %q and %q", TaskID(first), TaskID(retry))
	}
	if TaskID(first) == TaskID(restart) {
		t.Fatalf("expected a new revision to get a new task id, got %q", TaskID(restart))
	}
	if got := TaskID(ProcessImagePayload{JobID: "job-1"}); got != "job-1" {
		t.Fatalf("expected bare job id without revision, got %q", got)
	}
}
