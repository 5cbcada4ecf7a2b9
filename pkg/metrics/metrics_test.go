package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FilesReceived.WithLabelValues("application/pdf").Inc()
	m.TasksCompleted.WithLabelValues("thread", "success").Inc()
	m.ResourceCPUPercent.Set(0.42)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{
		`docbackbone_files_received_total{mime="application/pdf"} 1`,
		`docbackbone_tasks_completed_total{class="thread",outcome="success"} 1`,
		`docbackbone_resource_cpu_percent 0.42`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestNew_DoublePanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering collectors twice against the same registry")
		}
	}()
	New(reg)
}
