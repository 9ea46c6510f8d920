package observability

import (
	"context"
	"time"
)

// RecordRuleExecution logs a single rule-engine evaluation outcome as a
// structured metric event, independent of the Prometheus counters in
// prometheus.go — this is the line-oriented record an operator greps logs
// for; the Prometheus registry is what a dashboard scrapes.
func RecordRuleExecution(ctx context.Context, ruleID string, conditionTrue bool, actionOK bool, duration time.Duration) {
	LogEvent(ctx, LevelInfo, "metric", map[string]any{
		"name":           "rule_execution",
		"rule_id":        ruleID,
		"condition_true": conditionTrue,
		"action_ok":      actionOK,
		"latency_ms":     duration.Milliseconds(),
	})
}

// RecordFillProcessed logs the unified fill manager's handling of one fill.
func RecordFillProcessed(ctx context.Context, symbol, role string, netQty int, resized bool) {
	LogEvent(ctx, LevelInfo, "metric", map[string]any{
		"name":     "fill_processed",
		"symbol":   symbol,
		"role":     role,
		"net_qty":  netQty,
		"resized":  resized,
	})
}

// RecordBrokerOp logs the outcome of a broker round-trip (submit, cancel,
// historical bars, snapshot quote) for latency and error-rate visibility.
func RecordBrokerOp(ctx context.Context, op string, duration time.Duration, err error) {
	fields := map[string]any{
		"name":       "broker_op",
		"op":         op,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, LevelInfo, "metric", fields)
}
