package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"signal-scout/database"
)

type fakeRunner struct {
	run *database.PipelineRun
	err error
}

func (f *fakeRunner) Run(ctx context.Context) (*database.PipelineRun, error) {
	return f.run, f.err
}

func TestRunPipelineBusyReturnsConflict(t *testing.T) {
	s := &Server{}
	s.SetPipelineRunner(&fakeRunner{err: database.ErrPipelineBusy})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/pipeline/run", nil)
	s.handleRunPipeline(w, r)

	if w.Code != 409 {
		t.Fatalf("expected 409 when the lock is held, got %d", w.Code)
	}
}

func TestRunPipelineReturnsRun(t *testing.T) {
	s := &Server{}
	s.SetPipelineRunner(&fakeRunner{run: &database.PipelineRun{ID: "run-1", Status: "completed"}})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/pipeline/run", nil)
	s.handleRunPipeline(w, r)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
