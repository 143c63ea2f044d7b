package practice

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// agentLatencyMetric is the histogram family the agent package registers.
const agentLatencyMetric = "carebridge_agent_llm_latency_seconds"

type statsDB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AgentLatencySnapshot summarizes assistant response latency from the
// in-process prometheus histogram.
type AgentLatencySnapshot struct {
	Total int64   `json:"total"`
	P50Ms float64 `json:"p50_ms"`
	P90Ms float64 `json:"p90_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// Stats is the operational snapshot served to the practice dashboard.
type Stats struct {
	PracticeID     string               `json:"practice_id"`
	PeriodStart    string               `json:"period_start"`
	PeriodEnd      string               `json:"period_end"`
	ActivePatients int64                `json:"active_patients"`
	Appointments   map[string]int64     `json:"appointments_by_status"`
	Claims         map[string]int64     `json:"claims_by_status"`
	AgentLatency   AgentLatencySnapshot `json:"agent_latency"`
}

// StatsRepository queries practice-level operational counts from the database.
type StatsRepository struct {
	db statsDB
}

func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	if pool == nil {
		panic("practice: pgx pool required for stats")
	}
	return &StatsRepository{db: pool}
}

func newStatsRepositoryWithDB(db statsDB) *StatsRepository {
	return &StatsRepository{db: db}
}

// AppointmentCounts returns appointment counts by status for the window.
func (r *StatsRepository) AppointmentCounts(ctx context.Context, practiceID string, start, end time.Time) (map[string]int64, error) {
	return r.countsByStatus(ctx, `
		SELECT status, COUNT(*)
		FROM appointments
		WHERE practice_id = $1 AND starts_at >= $2 AND starts_at < $3
		GROUP BY status`, practiceID, start, end)
}

// ClaimCounts returns claim counts by status for the window.
func (r *StatsRepository) ClaimCounts(ctx context.Context, practiceID string, start, end time.Time) (map[string]int64, error) {
	return r.countsByStatus(ctx, `
		SELECT status, COUNT(*)
		FROM claims
		WHERE practice_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY status`, practiceID, start, end)
}

func (r *StatsRepository) countsByStatus(ctx context.Context, query, practiceID string, start, end time.Time) (map[string]int64, error) {
	practiceID = strings.TrimSpace(practiceID)
	if practiceID == "" {
		return nil, fmt.Errorf("practice stats: practice_id required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("practice stats: invalid time range")
	}

	rows, err := r.db.Query(ctx, query, practiceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("practice stats: query counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("practice stats: scan counts: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("practice stats: iterate counts: %w", err)
	}
	return counts, nil
}

// ActivePatientCount returns the number of non-archived patients.
func (r *StatsRepository) ActivePatientCount(ctx context.Context, practiceID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM patients
		WHERE practice_id = $1 AND status <> 'archived'`, practiceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("practice stats: count patients: %w", err)
	}
	return n, nil
}

// snapshotAgentLatency aggregates the agent latency histogram across models,
// keeping only status="ok" samples, and estimates quantiles by linear
// interpolation within buckets.
func snapshotAgentLatency(gatherer prometheus.Gatherer) AgentLatencySnapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return AgentLatencySnapshot{}
	}

	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == agentLatencyMetric {
			family = mf
			break
		}
	}
	if family == nil {
		return AgentLatencySnapshot{}
	}

	cumulative := map[float64]uint64{}
	var total uint64
	for _, metric := range family.Metric {
		if metric == nil || !hasLabel(metric, "status", "ok") {
			continue
		}
		h := metric.GetHistogram()
		if h == nil {
			continue
		}
		total += h.GetSampleCount()
		for _, b := range h.Bucket {
			if b != nil {
				cumulative[b.GetUpperBound()] += b.GetCumulativeCount()
			}
		}
	}
	if total == 0 || len(cumulative) == 0 {
		return AgentLatencySnapshot{}
	}

	uppers := make([]float64, 0, len(cumulative))
	for upper := range cumulative {
		uppers = append(uppers, upper)
	}
	sort.Float64s(uppers)

	return AgentLatencySnapshot{
		Total: int64(total),
		P50Ms: histogramQuantile(0.50, total, uppers, cumulative) * 1000.0,
		P90Ms: histogramQuantile(0.90, total, uppers, cumulative) * 1000.0,
		P95Ms: histogramQuantile(0.95, total, uppers, cumulative) * 1000.0,
	}
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func histogramQuantile(q float64, total uint64, uppers []float64, cumulative map[float64]uint64) float64 {
	if total == 0 || q <= 0 {
		return 0
	}

	target := q * float64(total)
	var prevUpper, prevCum float64

	for _, upper := range uppers {
		cum := float64(cumulative[upper])
		if cum < target {
			prevUpper = upper
			prevCum = cum
			continue
		}

		bucketCount := cum - prevCum
		if bucketCount <= 0 || upper == prevUpper {
			return upper
		}
		if math.IsInf(upper, 1) {
			// Cannot interpolate into the +Inf bucket.
			return prevUpper
		}

		fraction := (target - prevCum) / bucketCount
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		return prevUpper + fraction*(upper-prevUpper)
	}

	last := uppers[len(uppers)-1]
	if math.IsInf(last, 1) && len(uppers) > 1 {
		return uppers[len(uppers)-2]
	}
	return last
}
