package tutor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Stage statuses.
const (
	StageOK       = "ok"
	StageDegraded = "degraded"
)

// Stage is one timed step of a turn.
type Stage struct {
	Name       string `json:"stage"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// progress records stages in the order they start. Each stage is also a
// child span of the turn.
type progress struct {
	stages []Stage
}

func (p *progress) begin(ctx context.Context, name string) (context.Context, func(degraded bool)) {
	ctx, span := tracer.Start(ctx, "tutor."+name)
	idx := len(p.stages)
	p.stages = append(p.stages, Stage{Name: name, Status: StageOK})
	began := time.Now()
	return ctx, func(degraded bool) {
		p.stages[idx].DurationMs = time.Since(began).Milliseconds()
		if degraded {
			p.stages[idx].Status = StageDegraded
			span.SetAttributes(attribute.Bool("tutor.degraded", true))
		}
		span.End()
	}
}
