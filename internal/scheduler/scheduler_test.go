package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	nextcalldomain "github.com/smallbiznis/dealcadence/internal/nextcall/domain"
	obsmetrics "github.com/smallbiznis/dealcadence/internal/observability/metrics"
	opportunitydomain "github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	opportunityrepository "github.com/smallbiznis/dealcadence/internal/opportunity/repository"
	"github.com/smallbiznis/dealcadence/internal/ratelimit"
	"github.com/smallbiznis/dealcadence/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type nextCallStub struct {
	mu       sync.Mutex
	batches  [][]snowflake.ID
	triggers []nextcalldomain.Trigger
	fail     map[snowflake.ID]error
}

func (n *nextCallStub) Recalculate(ctx context.Context, id snowflake.ID) (schedule.State, error) {
	return schedule.State{}, nil
}

func (n *nextCallStub) RecalculateBatch(ctx context.Context, ids []snowflake.ID) []nextcalldomain.BatchResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]snowflake.ID(nil), ids...))
	n.triggers = append(n.triggers, nextcalldomain.TriggerFromContext(ctx))

	results := make([]nextcalldomain.BatchResult, 0, len(ids))
	for _, id := range ids {
		result := nextcalldomain.BatchResult{OpportunityID: id}
		if err := n.fail[id]; err != nil {
			result.Err = err
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results
}

func (n *nextCallStub) SetManualNextCallDate(ctx context.Context, id snowflake.ID, date *time.Time) (opportunitydomain.Opportunity, error) {
	return opportunitydomain.Opportunity{}, nil
}

func (n *nextCallStub) ChangeStage(ctx context.Context, id snowflake.ID, stage opportunitydomain.Stage) (opportunitydomain.Opportunity, error) {
	return opportunitydomain.Opportunity{}, nil
}

func (n *nextCallStub) processed() []snowflake.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []snowflake.ID
	for _, batch := range n.batches {
		out = append(out, batch...)
	}
	return out
}

type schedulerEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	sched    *Scheduler
	nextCall *nextCallStub
	registry *prometheus.Registry
}

func setupScheduler(t *testing.T, batchSize int, locker *ratelimit.Locker) schedulerEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&opportunitydomain.Opportunity{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	scheduleCfg := config.DefaultScheduleConfig()
	scheduleCfg.Backfill.BatchSize = batchSize

	registry := prometheus.NewRegistry()
	nextCall := &nextCallStub{fail: map[snowflake.ID]error{}}
	sched, err := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clock.NewFakeClock(testNow),
		ScheduleCfg:     config.NewStaticScheduleConfigHolder(scheduleCfg),
		OpportunityRepo: opportunityrepository.Provide(),
		NextCall:        nextCall,
		Locker:          locker,
		Metrics:         obsmetrics.NewScheduleMetrics(registry, obsmetrics.Config{ServiceName: "dealcadence", Environment: "test"}),
		Config:          Config{RunInterval: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	return schedulerEnv{db: db, node: node, sched: sched, nextCall: nextCall, registry: registry}
}

func (e schedulerEnv) seed(t *testing.T, stage opportunitydomain.Stage, calculatedAt, nextCall *time.Time) snowflake.ID {
	t.Helper()
	opp := opportunitydomain.Opportunity{
		ID:                         e.node.Generate(),
		OrgID:                      1,
		OwnerUserID:                "owner-1",
		Name:                       "Acme",
		Stage:                      stage,
		NextCallDate:               nextCall,
		NextCallDateLastCalculated: calculatedAt,
		CreatedAt:                  testNow,
		UpdatedAt:                  testNow,
	}
	require.NoError(t, e.db.Create(&opp).Error)
	return opp.ID
}

func ptr(t time.Time) *time.Time { return &t }

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	for key, value := range labels {
		found := false
		for _, label := range metric.Label {
			if label.GetName() == key && label.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	env := setupScheduler(t, 10, nil)

	err := env.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, getCounterValue(t, env.registry, "dealcadence_scheduler_job_timeouts_total", labels))
	assert.Equal(t, 1.0, getCounterValue(t, env.registry, "dealcadence_scheduler_job_errors_total", map[string]string{
		"job":    "timeout_job",
		"reason": obsmetrics.JobReasonDeadlineExceeded,
	}))
}

func TestRunJobWrapsErrors(t *testing.T) {
	env := setupScheduler(t, 10, nil)
	boom := errors.New("boom")

	err := env.sched.runJob(context.Background(), "failing_job", 0, time.Second, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing_job")
	assert.Equal(t, 1.0, getCounterValue(t, env.registry, "dealcadence_scheduler_job_runs_total", map[string]string{"job": "failing_job"}))
}

func TestStaleSchedulesJobSelectsStaleOpenOpportunities(t *testing.T) {
	env := setupScheduler(t, 2, nil)

	neverCalculated := env.seed(t, opportunitydomain.StageDiscovery, nil, nil)
	old := env.seed(t, opportunitydomain.StageProposal, ptr(testNow.Add(-48*time.Hour)), nil)
	nextCallPassed := env.seed(t, opportunitydomain.StageNegotiation, ptr(testNow.Add(-time.Hour)), ptr(testNow.Add(-time.Minute)))
	env.seed(t, opportunitydomain.StageDiscovery, ptr(testNow.Add(-time.Hour)), ptr(testNow.Add(48*time.Hour)))
	env.seed(t, opportunitydomain.StageClosedWon, nil, nil)

	require.NoError(t, env.sched.StaleSchedulesJob(context.Background()))

	assert.Equal(t, []snowflake.ID{neverCalculated, old, nextCallPassed}, env.nextCall.processed())
	require.Len(t, env.nextCall.batches, 2)
	assert.Len(t, env.nextCall.batches[0], 2)
	for _, trigger := range env.nextCall.triggers {
		assert.Equal(t, nextcalldomain.TriggerScheduler, trigger)
	}
}

func TestStaleSchedulesJobContinuesPastFailures(t *testing.T) {
	env := setupScheduler(t, 1, nil)

	first := env.seed(t, opportunitydomain.StageDiscovery, nil, nil)
	second := env.seed(t, opportunitydomain.StageDiscovery, nil, nil)
	third := env.seed(t, opportunitydomain.StageDiscovery, nil, nil)
	sourceDown := errors.New("calendar down")
	env.nextCall.fail[second] = sourceDown

	err := env.sched.StaleSchedulesJob(context.Background())
	require.ErrorIs(t, err, sourceDown)
	assert.Contains(t, err.Error(), second.String())
	assert.Equal(t, []snowflake.ID{first, second, third}, env.nextCall.processed())

	assert.Equal(t, 2.0, getCounterValue(t, env.registry, "dealcadence_scheduler_batch_processed_total", map[string]string{
		"job": JobStaleSchedules, "outcome": "ok",
	}))
	assert.Equal(t, 1.0, getCounterValue(t, env.registry, "dealcadence_scheduler_batch_processed_total", map[string]string{
		"job": JobStaleSchedules, "outcome": "failed",
	}))
}

func TestFullBackfillJobCoversEveryOpenOpportunity(t *testing.T) {
	env := setupScheduler(t, 2, nil)

	var open []snowflake.ID
	for i := 0; i < 3; i++ {
		open = append(open, env.seed(t, opportunitydomain.StageDiscovery, ptr(testNow), ptr(testNow.Add(24*time.Hour))))
	}
	env.seed(t, opportunitydomain.StageClosedLost, nil, nil)

	require.NoError(t, env.sched.FullBackfillJob(context.Background()))
	assert.Equal(t, open, env.nextCall.processed())
	for _, trigger := range env.nextCall.triggers {
		assert.Equal(t, nextcalldomain.TriggerBackfill, trigger)
	}
}

func TestSetBatchSizeOverridesConfiguredPage(t *testing.T) {
	env := setupScheduler(t, 10, nil)
	for i := 0; i < 3; i++ {
		env.seed(t, opportunitydomain.StageDiscovery, nil, nil)
	}

	env.sched.SetBatchSize(1)
	require.NoError(t, env.sched.FullBackfillJob(context.Background()))
	assert.Len(t, env.nextCall.batches, 3)

	env.nextCall.batches = nil
	env.sched.SetBatchSize(0)
	require.NoError(t, env.sched.FullBackfillJob(context.Background()))
	assert.Len(t, env.nextCall.batches, 1)
}

func TestRunBackfillSkipsWhenLeaseHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	env := setupScheduler(t, 10, locker)
	id := env.seed(t, opportunitydomain.StageDiscovery, nil, nil)

	require.NoError(t, mr.Set(backfillLeaseKey, "other-replica"))
	require.NoError(t, env.sched.RunBackfill(context.Background()))
	assert.Empty(t, env.nextCall.processed())
	assert.Equal(t, 1.0, getCounterValue(t, env.registry, "dealcadence_scheduler_lease_skipped_total", map[string]string{"job": JobFullBackfill}))

	mr.Del(backfillLeaseKey)
	require.NoError(t, env.sched.RunBackfill(context.Background()))
	assert.Equal(t, []snowflake.ID{id}, env.nextCall.processed())
	assert.False(t, mr.Exists(backfillLeaseKey))
}

func TestStartCronRejectsInvalidSpec(t *testing.T) {
	env := setupScheduler(t, 10, nil)
	cfg := config.DefaultScheduleConfig()
	cfg.Backfill.Cron = "every now and then"
	env.sched.scheduleCfg = config.NewStaticScheduleConfigHolder(cfg)

	require.Error(t, env.sched.StartCron(context.Background()))
	require.NoError(t, env.sched.StopCron(context.Background()))
}

func TestStartAndStopCron(t *testing.T) {
	env := setupScheduler(t, 10, nil)

	require.NoError(t, env.sched.StartCron(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.sched.StopCron(ctx))
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	env := setupScheduler(t, 10, nil)
	env.seed(t, opportunitydomain.StageDiscovery, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(env.nextCall.processed()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}
