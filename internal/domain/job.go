package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	ActionResize = "resize"
	ActionSepia  = "sepia"
)

type CreateJobRequest struct {
	SourceType string         `json:"source_type"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	ObjectKey  string         `json:"object_key,omitempty"`
	Pipeline   []PipelineStep `json:"pipeline"`
}

// PipelineStep is one output of a job. Percent is only read by resize steps.
type PipelineStep struct {
	ID      string  `json:"id"`
	Action  string  `json:"action"`
	Percent float64 `json:"percent,omitempty"`
	Format  string  `json:"format,omitempty"`
	Quality int     `json:"quality,omitempty"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Pipeline   []PipelineStep
	ObjectKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DefaultPipeline is the batch behavior: one resize per percentage
// followed by a sepia output, with step IDs used as filename suffixes.
func DefaultPipeline(percentages []float64, quality int) []PipelineStep {
	steps := make([]PipelineStep, 0, len(percentages)+1)
	for _, p := range percentages {
		steps = append(steps, PipelineStep{
			ID:      PercentLabel(p),
			Action:  ActionResize,
			Percent: p,
			Format:  "jpeg",
			Quality: quality,
		})
	}
	return append(steps, PipelineStep{
		ID:      ActionSepia,
		Action:  ActionSepia,
		Format:  "jpeg",
		Quality: quality,
	})
}

// PercentLabel formats p in its shortest form: 75, 12.5.
func PercentLabel(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	return ValidatePipeline(r.Pipeline)
}

func ValidatePipeline(steps []PipelineStep) error {
	if len(steps) == 0 {
		return errors.New("pipeline must contain at least one step")
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return fmt.Errorf("pipeline[%d].id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("pipeline[%d].id %q is duplicated", i, id)
		}
		seen[id] = struct{}{}

		switch strings.ToLower(strings.TrimSpace(step.Action)) {
		case "":
			return fmt.Errorf("pipeline[%d].action is required", i)
		case ActionResize:
			if step.Percent <= 0 || math.IsNaN(step.Percent) || math.IsInf(step.Percent, 0) {
				return fmt.Errorf("pipeline[%d].percent must be positive for action=resize", i)
			}
		case ActionSepia:
		default:
			return fmt.Errorf("pipeline[%d].action %q is not supported", i, step.Action)
		}

		if step.Quality < 0 || step.Quality > 100 {
			return fmt.Errorf("pipeline[%d].quality must be between 0 and 100", i)
		}
	}
	return nil
}
