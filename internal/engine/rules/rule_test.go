package rules

import (
	"testing"
	"time"
)

func TestRuleCooldownBlocksReExecution(t *testing.T) {
	r := &Rule{RuleID: "r1", CooldownSec: 60}
	now := time.Now()

	if r.onCooldown(now) {
		t.Fatal("fresh rule should not be on cooldown")
	}
	r.recordExecution(now)
	if !r.onCooldown(now.Add(time.Second)) {
		t.Fatal("rule should be on cooldown immediately after execution")
	}
	if r.onCooldown(now.Add(61 * time.Second)) {
		t.Fatal("rule should be off cooldown after CooldownSec elapses")
	}
}

func TestRuleQuotaResetsDaily(t *testing.T) {
	r := &Rule{RuleID: "r1", MaxPerDay: 2}
	day1 := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	r.recordExecution(day1)
	r.recordExecution(day1.Add(time.Minute))
	if !r.overQuota(day1.Add(2 * time.Minute)) {
		t.Fatal("expected quota exhausted after MaxPerDay executions")
	}

	day2 := day1.Add(24 * time.Hour)
	if r.overQuota(day2) {
		t.Fatal("expected quota to reset on a new day")
	}
}

func TestResetCooldownClearsLastExec(t *testing.T) {
	r := &Rule{RuleID: "r1", CooldownSec: 300}
	now := time.Now()
	r.recordExecution(now)
	r.ResetCooldown()
	if r.onCooldown(now) {
		t.Fatal("expected cooldown cleared by ResetCooldown")
	}
}
