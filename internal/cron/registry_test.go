package cron

import (
	"context"
	"slices"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndSkipsNil(t *testing.T) {
	purge := &stubJob{name: "notification-cleanup"}
	retention := &stubJob{name: "outbox-retention"}
	registry, err := NewRegistry(purge, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.Register(retention); err != nil {
		t.Fatalf("register: %v", err)
	}

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0] != purge || jobs[1] != retention {
		t.Fatalf("unexpected jobs %v", registry.Names())
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
	if !slices.Equal(registry.Names(), []string{"notification-cleanup", "outbox-retention"}) {
		t.Fatalf("unexpected names %v", registry.Names())
	}
}

func TestRegistryRejectsDuplicateAndUnnamedJobs(t *testing.T) {
	if _, err := NewRegistry(&stubJob{name: "outbox-retention"}, &stubJob{name: "outbox-retention"}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if _, err := NewRegistry(&stubJob{}); err == nil {
		t.Fatal("expected missing name error")
	}
}
