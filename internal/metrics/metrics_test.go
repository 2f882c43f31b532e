package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsIsSingleton(t *testing.T) {
	if NewMetrics() != NewMetrics() {
		t.Errorf("NewMetrics returned different instances")
	}
}

func TestObserveStorage(t *testing.T) {
	m := NewMetrics()
	ok := m.StorageOperationTotal.WithLabelValues("kv", "save", "success")
	failed := m.StorageOperationTotal.WithLabelValues("kv", "save", "error")
	beforeOK, beforeFailed := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	m.ObserveStorage("kv", "save", time.Now(), nil)
	m.ObserveStorage("kv", "save", time.Now(), errors.New("quota"))

	if got := testutil.ToFloat64(ok) - beforeOK; got != 1 {
		t.Errorf("success counter delta got %v want 1", got)
	}
	if got := testutil.ToFloat64(failed) - beforeFailed; got != 1 {
		t.Errorf("error counter delta got %v want 1", got)
	}
}
