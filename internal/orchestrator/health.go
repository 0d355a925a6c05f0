package orchestrator

import (
	"context"
	"time"

	"github.com/cuongbtq/visual-diff/shared/rabbitmq"
)

// Health status values
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// HealthReport summarizes the dependencies of this node.
type HealthReport struct {
	Status     string            `json:"status"`
	WorkerID   string            `json:"worker_id"`
	QueueDepth int               `json:"queue_depth"`
	Components map[string]string `json:"components"`
}

// Health probes the job store, the queue and the inference backends.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	report := HealthReport{
		Status:     HealthHealthy,
		WorkerID:   o.workerID,
		QueueDepth: len(o.jobsChan),
		Components: map[string]string{},
	}
	set := func(name string, err error) {
		if err != nil {
			report.Components[name] = err.Error()
			report.Status = HealthDegraded
			return
		}
		report.Components[name] = "ok"
	}

	set("store", o.store.Ping(ctx))

	if o.rabbitClient != nil {
		var err error
		if !o.rabbitClient.IsConnected() {
			err = rabbitmq.ErrNotConnected
		}
		set("rabbitmq", err)
	} else {
		report.Components["queue"] = "in-process"
	}

	if o.models != nil {
		for name, err := range o.models.Health(ctx) {
			set("inference_"+name, err)
		}
	}
	return report
}
