package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

const sampleSpecYAML = `
name: ingest-pdf
stages:
  - id: parse
    processor_name: pdf-parser
    timeout: 30s
    retry:
      max_attempts: 3
      backoff: exponential
      base: 1s
      max_delay: 30s
    resources:
      cpu_millis: 500
      memory_mb: 256
    on_failure: fail-pipeline
  - id: relate
    processor_name: relationship-detector
    dependencies: [parse]
    timeout: 15s
    on_failure: continue
`

func TestParseSpec_DecodesStagesAndDurations(t *testing.T) {
	spec, err := ParseSpec([]byte(sampleSpecYAML))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if spec.Name != "ingest-pdf" || len(spec.Stages) != 2 {
		t.Fatalf("unexpected spec: %+v", spec)
	}
	parse := spec.ByID()["parse"]
	if parse.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", parse.Timeout)
	}
	if parse.Retry.Base != time.Second || parse.Retry.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected retry policy: %+v", parse.Retry)
	}
	if parse.Retry.Backoff != domain.BackoffExponential {
		t.Fatalf("expected exponential backoff, got %v", parse.Retry.Backoff)
	}
	relate := spec.ByID()["relate"]
	if len(relate.Dependencies) != 1 || relate.Dependencies[0] != "parse" {
		t.Fatalf("unexpected dependencies: %+v", relate.Dependencies)
	}
	if relate.OnFailure != domain.OnFailureContinue {
		t.Fatalf("expected continue on-failure policy, got %v", relate.OnFailure)
	}
}

func TestParseSpec_RejectsUnknownDependency(t *testing.T) {
	_, err := ParseSpec([]byte("name: bad\nstages:\n  - id: a\n    processor_name: p\n    dependencies: [missing]\n"))
	if err == nil {
		t.Fatal("expected an error for a dependency on an unknown stage")
	}
}

func TestLoadSpecsDir_SkipsNonYAMLAndMissingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ingest.yaml"), []byte(sampleSpecYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a spec"), 0o644); err != nil {
		t.Fatal(err)
	}

	specs, err := LoadSpecsDir(dir)
	if err != nil {
		t.Fatalf("LoadSpecsDir: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "ingest-pdf" {
		t.Fatalf("unexpected specs: %+v", specs)
	}

	specs, err = LoadSpecsDir(filepath.Join(dir, "nonexistent"))
	if err != nil {
		t.Fatalf("LoadSpecsDir on missing dir should not error, got %v", err)
	}
	if specs != nil {
		t.Fatalf("expected nil specs for missing dir, got %+v", specs)
	}
}
