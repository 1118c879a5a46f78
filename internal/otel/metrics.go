package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce      sync.Once
	claimOpsCounter      metric.Int64Counter
	agentSpawnsCounter   metric.Int64Counter
	agentTurnDuration    metric.Float64Histogram
	mergeStageDuration   metric.Float64Histogram
	approvalDecisions    metric.Int64Counter
	activeAgentsGauge    metric.Int64ObservableGauge
	activeAgentsFunc     ActiveAgentsFunc
	activeAgentsFuncMu   sync.Mutex
)

// ActiveAgentsFunc returns the current count of running agents per project.
type ActiveAgentsFunc func() map[string]int64

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		claimOpsCounter, err = m.Int64Counter("murmur_claim_operations_total", metric.WithDescription("Total issue claim operations (claim, release, expire)"))
		if err != nil {
			return
		}
		agentSpawnsCounter, err = m.Int64Counter("murmur_agent_spawns_total", metric.WithDescription("Total agent processes spawned"))
		if err != nil {
			return
		}
		agentTurnDuration, err = m.Float64Histogram("murmur_agent_run_duration_seconds", metric.WithDescription("Agent run duration from spawn to exit, in seconds"))
		if err != nil {
			return
		}
		mergeStageDuration, err = m.Float64Histogram("murmur_merge_stage_duration_seconds", metric.WithDescription("Merge pipeline stage duration in seconds"))
		if err != nil {
			return
		}
		approvalDecisions, err = m.Int64Counter("murmur_approval_decisions_total", metric.WithDescription("Total tool-invocation approval decisions by source and outcome"))
		if err != nil {
			return
		}
		activeAgentsGauge, err = m.Int64ObservableGauge("murmur_active_agents", metric.WithDescription("Current running agent count by project"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			activeAgentsFuncMu.Lock()
			f := activeAgentsFunc
			activeAgentsFuncMu.Unlock()
			if f == nil {
				return nil
			}
			for project, n := range f() {
				o.ObserveInt64(activeAgentsGauge, n, metric.WithAttributes(AttrProject.String(project)))
			}
			return nil
		}, activeAgentsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// SetActiveAgentsFunc registers the callback used to populate the active-agents gauge.
// Call after InitMetrics.
func SetActiveAgentsFunc(f ActiveAgentsFunc) {
	activeAgentsFuncMu.Lock()
	activeAgentsFunc = f
	activeAgentsFuncMu.Unlock()
}

// RecordClaimOp records a claim-registry operation (claim, release, expire).
func RecordClaimOp(ctx context.Context, op string, project string) {
	if claimOpsCounter == nil {
		return
	}
	claimOpsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		AttrProject.String(project),
	))
}

// RecordAgentSpawn records one agent process start. The run duration is recorded separately by RecordAgentRun.
func RecordAgentSpawn(ctx context.Context, project, agent string) {
	if agentSpawnsCounter != nil {
		agentSpawnsCounter.Add(ctx, 1, metric.WithAttributes(AttrProject.String(project), AttrAgent.String(agent)))
	}
}

// RecordAgentRun records the wall-clock duration of a completed agent run.
func RecordAgentRun(ctx context.Context, project, agent string, duration time.Duration) {
	if agentTurnDuration != nil {
		agentTurnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrProject.String(project), AttrAgent.String(agent)))
	}
}

// RecordMergeStage records the duration of one merge pipeline stage (fetch, rebase, push, etc.).
func RecordMergeStage(ctx context.Context, project, stage string, duration time.Duration) {
	if mergeStageDuration != nil {
		mergeStageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrProject.String(project), AttrStage.String(stage)))
	}
}

// RecordApprovalDecision records one permission/question broker decision.
func RecordApprovalDecision(ctx context.Context, source, decision string) {
	if approvalDecisions == nil {
		return
	}
	approvalDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		AttrStatus.String(decision),
	))
}
