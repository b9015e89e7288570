package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dunamismax/sepiatone/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessImage = "image:process"

// ProcessImagePayload is the JSON body of an image:process task.
type ProcessImagePayload struct {
	JobID       string                `json:"job_id"`
	UserID      string                `json:"user_id,omitempty"`
	SourceType  string                `json:"source_type"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	ObjectKey   string                `json:"object_key"`
	Pipeline    []domain.PipelineStep `json:"pipeline"`
	RequestedAt time.Time             `json:"requested_at"`
	// Revision identifies the job state this task was started from.
	Revision    int64                 `json:"revision,omitempty"`
}

// TaskID is stable for one job revision. A failed job gets a new revision
// when its status changes, so an archived task never blocks a restart.
func TaskID(payload ProcessImagePayload) string {
	if payload.Revision == 0 {
		return payload.JobID
	}
	return payload.JobID + ":" + strconv.FormatInt(payload.Revision, 10)
}

func NewProcessImageTask(payload ProcessImagePayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("process payload: job_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessImage, body), nil
}

func ParseProcessImagePayload(task *asynq.Task) (ProcessImagePayload, error) {
	var payload ProcessImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if err := domain.ValidatePipeline(payload.Pipeline); err != nil {
		return ProcessImagePayload{}, fmt.Errorf("process payload: %w", err)
	}
	return payload, nil
}
