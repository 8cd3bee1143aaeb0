package auth

import (
	"errors"
	"testing"
	"time"

	"signal-scout/database"
)

type fakeCaptureStore struct {
	captures map[string]*database.Capture
	latest   map[string]*database.Capture
}

func newFakeCaptureStore() *fakeCaptureStore {
	return &fakeCaptureStore{
		captures: make(map[string]*database.Capture),
		latest:   make(map[string]*database.Capture),
	}
}

func (f *fakeCaptureStore) CreateCaptureIfAbsent(capture *database.Capture) error {
	if _, ok := f.captures[capture.ID]; ok {
		return &database.AlreadyExistsError{Resource: "capture", ID: capture.ID}
	}
	f.captures[capture.ID] = capture
	f.latest[capture.SourceFeed] = capture
	return nil
}

func (f *fakeCaptureStore) GetLatestCaptureForFeed(sourceFeed string) (*database.Capture, error) {
	if c, ok := f.latest[sourceFeed]; ok {
		return c, nil
	}
	return nil, database.NewNotFoundErrorWithID("capture", sourceFeed)
}

type fakeNonceStore struct {
	seen map[string]bool
}

func newFakeNonceStore() *fakeNonceStore {
	return &fakeNonceStore{seen: make(map[string]bool)}
}

func (f *fakeNonceStore) CreateNonceIfAbsent(value string, seenAt time.Time) error {
	if f.seen[value] {
		return &database.AlreadyExistsError{Resource: "nonce", ID: value}
	}
	f.seen[value] = true
	return nil
}

const testSecret = "test-ingest-secret"

func newTestGuard() (*Guard, *fakeCaptureStore, *fakeNonceStore, time.Time) {
	captures := newFakeCaptureStore()
	nonces := newFakeNonceStore()
	guard := NewGuard(testSecret, captures, nonces, 5*time.Minute, 60*time.Second)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	guard.now = func() time.Time { return now }
	return guard, captures, nonces, now
}

func testCapture(id string) *database.Capture {
	return &database.Capture{ID: id, SourceFeed: "devtools-radar", Status: database.CaptureStatusPending}
}

func TestAdmitAcceptsValidSubmission(t *testing.T) {
	guard, captures, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)

	duplicate, err := guard.Admit(body, ComputeSignature(testSecret, body), now.UnixMilli(), "nonce-1", testCapture("cap-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duplicate {
		t.Error("first submission must not be a duplicate")
	}
	if _, ok := captures.captures["cap-1"]; !ok {
		t.Error("admitted capture must be persisted")
	}
}

func TestAdmitRejectsTamperedBody(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)
	tampered := []byte(`{"capture_id":"cap-1","extra":true}`)

	if _, err := guard.Admit(tampered, signature, now.UnixMilli(), "nonce-1", testCapture("cap-1")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestAdmitRejectsWrongSecret(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)

	if _, err := guard.Admit(body, ComputeSignature("other-secret", body), now.UnixMilli(), "nonce-1", testCapture("cap-1")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestAdmitRejectsNonHexSignature(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{}`)

	if _, err := guard.Admit(body, "not-hex!", now.UnixMilli(), "nonce-1", testCapture("cap-1")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("err = %v, want ErrBadSignature", err)
	}
}

func TestAdmitRejectsStaleTimestamp(t *testing.T) {
	guard, _, nonces, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)

	tests := []struct {
		name string
		sent time.Time
	}{
		{"too old", now.Add(-6 * time.Minute)},
		{"too far in the future", now.Add(6 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := guard.Admit(body, signature, tt.sent.UnixMilli(), "nonce-"+tt.name, testCapture("cap-1")); !errors.Is(err, ErrStaleTimestamp) {
				t.Errorf("err = %v, want ErrStaleTimestamp", err)
			}
		})
	}
	if len(nonces.seen) != 0 {
		t.Error("stale submissions must not consume nonces")
	}
}

func TestAdmitAcceptsTimestampAtTolerance(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)

	sent := now.Add(-5 * time.Minute)
	if _, err := guard.Admit(body, ComputeSignature(testSecret, body), sent.UnixMilli(), "nonce-edge", testCapture("cap-1")); err != nil {
		t.Errorf("drift exactly at tolerance must pass, got %v", err)
	}
}

func TestAdmitRejectsReplayedNonce(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)

	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-1", testCapture("cap-1")); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	// Same nonce on a different capture is a replay even though the
	// signature is valid.
	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-1", testCapture("cap-2")); !errors.Is(err, ErrReplayedNonce) {
		t.Errorf("err = %v, want ErrReplayedNonce", err)
	}
}

func TestAdmitRateLimitsSourceFeed(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)

	first := testCapture("cap-1")
	first.CreatedAt = now.Add(-30 * time.Second)
	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-1", first); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-2", testCapture("cap-2")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestAdmitAllowsSpacedSubmissions(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)

	first := testCapture("cap-1")
	first.CreatedAt = now.Add(-2 * time.Minute)
	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-1", first); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-2", testCapture("cap-2")); err != nil {
		t.Errorf("submission outside the interval must pass, got %v", err)
	}
}

func TestAdmitReportsDuplicateCapture(t *testing.T) {
	guard, _, _, now := newTestGuard()
	body := []byte(`{"capture_id":"cap-1"}`)
	signature := ComputeSignature(testSecret, body)

	first := testCapture("cap-1")
	first.CreatedAt = now.Add(-2 * time.Minute)
	if _, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-1", first); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	retry := testCapture("cap-1")
	retry.CreatedAt = now.Add(-2 * time.Minute)
	duplicate, err := guard.Admit(body, signature, now.UnixMilli(), "nonce-2", retry)
	if err != nil {
		t.Fatalf("retry must be admitted: %v", err)
	}
	if !duplicate {
		t.Error("retried capture id must report duplicate")
	}
}
