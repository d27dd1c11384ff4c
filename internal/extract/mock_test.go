package extract

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// --- Extractor Mock ---

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Name() string { return "mock" }

func (m *mockExtractor) CheckSession(ctx context.Context, sess Session) (Check, error) {
	args := m.Called(ctx, sess)
	return args.Get(0).(Check), args.Error(1)
}

func (m *mockExtractor) Login(ctx context.Context, sess Session, creds Credentials) (LoginStatus, error) {
	args := m.Called(ctx, sess, creds)
	return args.Get(0).(LoginStatus), args.Error(1)
}

func (m *mockExtractor) Extract(ctx context.Context, sess Session) (Check, error) {
	args := m.Called(ctx, sess)
	return args.Get(0).(Check), args.Error(1)
}

// mockCodeExtractor adds the two-factor submission step.
type mockCodeExtractor struct {
	mockExtractor
}

func (m *mockCodeExtractor) SubmitCode(ctx context.Context, sess Session, code string) (LoginStatus, error) {
	args := m.Called(ctx, sess, code)
	return args.Get(0).(LoginStatus), args.Error(1)
}

// --- CodeProvider Mock ---

type mockCodes struct {
	mock.Mock
}

func (m *mockCodes) WaitForCode(ctx context.Context, accountID string, since time.Time, timeout time.Duration) (string, error) {
	args := m.Called(ctx, accountID, since, timeout)
	return args.String(0), args.Error(1)
}

// --- Session fake ---

type fakeSession struct {
	mu          sync.Mutex
	refreshes   int
	resets      int
	snapshots   []string
	snapshotErr error
	refreshErr  error
	resetErr    error
}

func (s *fakeSession) Refresh(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	return s.refreshErr
}

func (s *fakeSession) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return s.resetErr
}

func (s *fakeSession) Snapshot(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshotErr != nil {
		return "", s.snapshotErr
	}
	ref := "prints/" + name + ".png"
	s.snapshots = append(s.snapshots, ref)
	return ref, nil
}
