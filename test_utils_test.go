package trustkit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// TestDataHelper bundles a seeded service over an in-memory store.
type TestDataHelper struct {
	t       *testing.T
	ctx     context.Context
	store   *MemoryStore
	service *Service
	clock   *testClock
}

// NewTestDataHelper creates a seeded service with a fixed clock.
func NewTestDataHelper(t *testing.T, opts ...Option) *TestDataHelper {
	t.Helper()
	store := NewMemoryStore()
	clock := newTestClock()
	base := []Option{WithClock(clock.Now), WithLogger(quietLogger())}
	service := NewService(store, append(base, opts...)...)

	ctx := context.Background()
	_, err := service.Seed(ctx)
	require.NoError(t, err)

	return &TestDataHelper{t: t, ctx: ctx, store: store, service: service, clock: clock}
}

// Actor returns a context acting as actorID.
func (h *TestDataHelper) Actor(actorID string) context.Context {
	return WithActorID(h.ctx, actorID)
}

// CreateTestUser creates a unique user ID.
func (h *TestDataHelper) CreateTestUser(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// RoleID returns the ID of a seeded or created role by name.
func (h *TestDataHelper) RoleID(name string) string {
	h.t.Helper()
	role, err := h.service.GetRoleByName(h.ctx, name)
	require.NoError(h.t, err)
	return role.ID
}

// Grant assigns the named role to userID as "admin-actor".
func (h *TestDataHelper) Grant(userID, roleName string) *UserRoleGrant {
	h.t.Helper()
	grant, err := h.service.AssignRole(h.Actor("admin-actor"), userID, h.RoleID(roleName), "test")
	require.NoError(h.t, err)
	return grant
}

// AuditCount returns the number of audit entries with action.
func (h *TestDataHelper) AuditCount(action AuditAction) int {
	h.t.Helper()
	entries, err := h.service.GetAuditLog(h.ctx, NewAuditLogFilter().WithAction(action).WithPagination(1000, 0))
	require.NoError(h.t, err)
	return len(entries)
}

// AssertPermissionGranted verifies a permission is granted
func (h *TestDataHelper) AssertPermissionGranted(userID string, resource Resource, action Action) {
	h.t.Helper()
	if !h.service.HasPermission(h.ctx, userID, resource, action) {
		h.t.Errorf("User %s should have permission %s.%s", userID, resource, action)
	}
}

// AssertPermissionDenied verifies a permission is denied
func (h *TestDataHelper) AssertPermissionDenied(userID string, resource Resource, action Action) {
	h.t.Helper()
	if h.service.HasPermission(h.ctx, userID, resource, action) {
		h.t.Errorf("User %s should not have permission %s.%s", userID, resource, action)
	}
}

// getTestDatabaseURL returns the database URL for testing
func getTestDatabaseURL() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// RequireDatabase skips the test if TEST_DATABASE_URL is unset or unreachable
func RequireDatabase(t testing.TB) *dbkit.DBKit {
	t.Helper()
	dbURL := getTestDatabaseURL()
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set - skipping database test")
	}

	kit, err := dbkit.New(dbkit.Config{URL: dbURL})
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !kit.IsHealthy(ctx) {
		kit.Close()
		t.Skip("database not available")
	}
	t.Cleanup(func() { kit.Close() })
	return kit
}

// SetupTestDatabase migrates the test database and returns a seeded service.
func SetupTestDatabase(t testing.TB, opts ...Option) (*Service, *PostgresStore) {
	t.Helper()
	kit := RequireDatabase(t)
	ctx := context.Background()

	_, err := kit.Migrate(ctx, Migrations())
	require.NoError(t, err)

	store := NewPostgresStore(kit)
	service := NewService(store, append([]Option{WithLogger(quietLogger())}, opts...)...)
	_, err = service.Seed(ctx)
	require.NoError(t, err)
	return service, store
}

// faultyStore wraps a MemoryStore and fails the operations named in fail.
type faultyStore struct {
	*MemoryStore
	mu   sync.Mutex
	fail map[string]error
	once map[string]bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore(), fail: make(map[string]error), once: make(map[string]bool)}
}

func (f *faultyStore) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
	delete(f.once, op)
}

// FailOnce fails the next call to op only.
func (f *faultyStore) FailOnce(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
	f.once[op] = true
}

func (f *faultyStore) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.fail[op]
	if err != nil && f.once[op] {
		delete(f.fail, op)
		delete(f.once, op)
	}
	return err
}

func (f *faultyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, f)
}

func (f *faultyStore) GetTrust(ctx context.Context, userID string) (*TrustRecord, error) {
	if err := f.err("GetTrust"); err != nil {
		return nil, err
	}
	return f.MemoryStore.GetTrust(ctx, userID)
}

func (f *faultyStore) DecrementTrust(ctx context.Context, userID string, penalty int, policy TrustPolicy, now time.Time) (*TrustRecord, error) {
	if err := f.err("DecrementTrust"); err != nil {
		return nil, err
	}
	return f.MemoryStore.DecrementTrust(ctx, userID, penalty, policy, now)
}

func (f *faultyStore) InsertShadowEntry(ctx context.Context, entry *ShadowLogEntry) error {
	if err := f.err("InsertShadowEntry"); err != nil {
		return err
	}
	return f.MemoryStore.InsertShadowEntry(ctx, entry)
}

func (f *faultyStore) InsertAudit(ctx context.Context, entry *AuditLogEntry) error {
	if err := f.err("InsertAudit"); err != nil {
		return err
	}
	return f.MemoryStore.InsertAudit(ctx, entry)
}

func (f *faultyStore) ListActiveGrants(ctx context.Context, userID string) ([]UserRoleGrant, error) {
	if err := f.err("ListActiveGrants"); err != nil {
		return nil, err
	}
	return f.MemoryStore.ListActiveGrants(ctx, userID)
}

func (f *faultyStore) InsertGrant(ctx context.Context, grant *UserRoleGrant) error {
	if err := f.err("InsertGrant"); err != nil {
		return err
	}
	return f.MemoryStore.InsertGrant(ctx, grant)
}

// newFaultyService returns a seeded service over a faultyStore.
func newFaultyService(t *testing.T, opts ...Option) (*Service, *faultyStore) {
	t.Helper()
	store := newFaultyStore()
	base := []Option{WithClock(newTestClock().Now), WithLogger(quietLogger())}
	service := NewService(store, append(base, opts...)...)
	_, err := service.Seed(context.Background())
	require.NoError(t, err)
	return service, store
}
