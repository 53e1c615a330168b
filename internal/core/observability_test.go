package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"govcore/pkg/domain"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Record(_ context.Context, entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) snapshot() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.entries...)
}

func TestAuditRecordsOutcomes(t *testing.T) {
	audit := &recordingAudit{}
	svc := engagementService(t, WithAuditRecorder(audit))
	user := domain.User{ID: "u1"}
	obj := mustCreateEngagement(t, svc, user)

	// A denied patch is still audited, with the stable error kind.
	svc.Execute(context.Background(), user, domain.ObjectEngagement, obj.Meta().ID, "conduct_field_visit", nil)
	svc.Execute(context.Background(), user, domain.ObjectEngagement, obj.Meta().ID, "submit", nil)

	entries := audit.snapshot()
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if entries[0].Operation != "create_engagement" || entries[0].Status != AuditStatusSuccess {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	last := entries[2]
	if last.Status != AuditStatusError {
		t.Fatalf("failed submit should audit as error: %+v", last)
	}
	if last.Error != string(domain.KindValidationFailed) {
		t.Fatalf("audit error = %q, want validation kind", last.Error)
	}
	if last.Actor != "u1" || last.ObjectID != obj.Meta().ID {
		t.Fatalf("audit identity fields wrong: %+v", last)
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("govcore_test_metrics")
	rec.Observe(context.Background(), "patch_engagement", true, 5*time.Millisecond)
	rec.Observe(context.Background(), "patch_engagement", false, 7*time.Millisecond)

	vars := expvar.Get("govcore_test_metrics").(*expvar.Map)
	if got := vars.Get("patch_engagement_total").String(); got != "2" {
		t.Fatalf("total = %s, want 2", got)
	}
	if got := vars.Get("patch_engagement_errors").String(); got != "1" {
		t.Fatalf("errors = %s, want 1", got)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "create_intervention", true, 3*time.Millisecond)
	rec.Observe(context.Background(), "create_intervention", false, 9*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	if !names["govcore_operations_total"] || !names["govcore_operation_duration_seconds"] {
		t.Fatalf("missing metric families: %v", names)
	}
}

func TestJSONTraceTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTraceTracer(&buf)

	_, span := tracer.Start(context.Background(), "transition_engagement")
	span.End(errors.New("boom"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode trace line: %v", err)
	}
	if record["operation"] != "transition_engagement" {
		t.Fatalf("operation = %v", record["operation"])
	}
	if record["error"] != "boom" {
		t.Fatalf("error = %v", record["error"])
	}
}

func TestServiceMetricsAndTracing(t *testing.T) {
	var traces bytes.Buffer
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := engagementService(t,
		WithMetricsRecorder(rec),
		WithTracer(NewJSONTraceTracer(&traces)),
	)
	mustCreateEngagement(t, svc, domain.User{ID: "u1"})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("no metrics observed")
	}
	if !strings.Contains(traces.String(), "create_engagement") {
		t.Fatalf("trace output missing operation: %s", traces.String())
	}
}
