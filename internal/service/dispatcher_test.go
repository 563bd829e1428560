package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

type fakeStore struct {
	created []repository.Notification
	err     error
}

func (s *fakeStore) Create(_ context.Context, n *repository.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, *n)
	return nil
}

type publishedEvent struct {
	eventType  string
	requestID  string
	actorID    string
	recipients []string
	payload    map[string]interface{}
}

type fakePublisher struct {
	events []publishedEvent
}

func (p *fakePublisher) PublishRequestEvent(_ context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{}) {
	p.events = append(p.events, publishedEvent{eventType, requestID, actorID, recipients, payload})
}

type fakeDirectory struct {
	roleHolders map[string][]string
	userRoles   map[string][]string
	err         error
}

func (d *fakeDirectory) HasRole(_ context.Context, userID, role string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	for _, id := range d.roleHolders[role] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d *fakeDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.roleHolders[role], nil
}

func (d *fakeDirectory) UserRoles(_ context.Context, userID string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.userRoles[userID], nil
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

func newTestDispatcher(store *fakeStore, pub *fakePublisher, dir *fakeDirectory, renotify time.Duration) *Dispatcher {
	return NewDispatcher(store, pub, dir, renotify, testLogger())
}

func submittedRequest() *repository.Request {
	return &repository.Request{
		ID:            "req-1",
		RequestNumber: "REQ-202608-AB12CD34",
		RequesterID:   "alice",
		Amount:        15_000_000_00,
		Status:        repository.RequestStatusSubmitted,
		CurrentLevel:  1,
		Chain:         fullChain(),
	}
}

func TestDispatcherLevelOpenedAssigned(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleSupervisor: {"sam", "sue"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	req := submittedRequest()
	ap := &repository.Approval{RequestID: req.ID, Level: 1, Role: repository.RoleSupervisor}

	d.LevelOpened(context.Background(), req, ap, "sam")

	require.Len(t, store.created, 1, "assigned level notifies only the assignee")
	assert.Equal(t, "sam", store.created[0].UserID)
	assert.Equal(t, "Approval required", store.created[0].Title)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "approval_required", pub.events[0].eventType)
	assert.Equal(t, req.ID, pub.events[0].requestID)
	assert.Equal(t, []string{"sam"}, pub.events[0].recipients)
	assert.Equal(t, 1, pub.events[0].payload["level"])
}

func TestDispatcherLevelOpenedFanOut(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleFinance: {"fin1", "fin2"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	req := submittedRequest()
	ap := &repository.Approval{RequestID: req.ID, Level: 3, Role: repository.RoleFinance}

	d.LevelOpened(context.Background(), req, ap, "")

	require.Len(t, store.created, 2, "unassigned level notifies every role holder")
	assert.Equal(t, "fin1", store.created[0].UserID)
	assert.Equal(t, "fin2", store.created[1].UserID)
	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"fin1", "fin2"}, pub.events[0].recipients)
}

func TestDispatcherLevelOpenedNoRecipients(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	req := submittedRequest()
	ap := &repository.Approval{RequestID: req.ID, Level: 1, Role: repository.RoleSupervisor}

	d.LevelOpened(context.Background(), req, ap, "")

	assert.Empty(t, store.created)
	assert.Empty(t, pub.events, "no event is published when nobody can receive it")
}

func TestDispatcherRequestResolved(t *testing.T) {
	tests := []struct {
		status    string
		wantTitle string
		wantEvent string
	}{
		{repository.RequestStatusApproved, "Request approved", "request_approved"},
		{repository.RequestStatusRejected, "Request rejected", "request_rejected"},
		{repository.RequestStatusCompleted, "Request completed", "request_completed"},
	}

	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			store := &fakeStore{}
			pub := &fakePublisher{}
			d := newTestDispatcher(store, pub, &fakeDirectory{}, time.Hour)

			req := submittedRequest()
			d.RequestResolved(context.Background(), req, tc.status, "bob")

			require.Len(t, store.created, 1)
			assert.Equal(t, req.RequesterID, store.created[0].UserID, "resolution goes to the requester")
			assert.Equal(t, tc.wantTitle, store.created[0].Title)

			require.Len(t, pub.events, 1)
			assert.Equal(t, tc.wantEvent, pub.events[0].eventType)
			assert.Equal(t, "bob", pub.events[0].actorID)
		})
	}
}

func TestDispatcherRequestResolvedUnknownStatus(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub, &fakeDirectory{}, time.Hour)

	d.RequestResolved(context.Background(), submittedRequest(), repository.RequestStatusDraft, "bob")

	assert.Empty(t, store.created)
	assert.Empty(t, pub.events)
}

func TestDispatcherSLABreachEscalates(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{
		repository.RoleManager: {"meg"},
		repository.RoleFinance: {"fin1", "fin2"},
	}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	approver := "meg"
	d.SLABreach(context.Background(), BreachEvent{
		RequestID:      "req-1",
		RequestNumber:  "REQ-202608-AB12CD34",
		Level:          2,
		Role:           repository.RoleManager,
		ApproverID:     &approver,
		MinutesOverdue: 720,
	})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "sla_breach", pub.events[0].eventType)
	assert.ElementsMatch(t, []string{"meg", "fin1", "fin2"}, pub.events[0].recipients,
		"breach alerts the pending approver and escalates one role up")
	assert.Equal(t, 720, pub.events[0].payload["minutes_overdue"])
	assert.Len(t, store.created, 3)
}

func TestDispatcherSLABreachTopLevelDoesNotEscalate(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleAdmin: {"root"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	d.SLABreach(context.Background(), BreachEvent{
		RequestID:     "req-1",
		RequestNumber: "REQ-202608-AB12CD34",
		Level:         4,
		Role:          repository.RoleAdmin,
	})

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"root"}, pub.events[0].recipients)
}

func TestDispatcherSLABreachDeduplicated(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleSupervisor: {"sam"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	ev := BreachEvent{RequestID: "req-1", RequestNumber: "REQ-202608-AB12CD34", Level: 1, Role: repository.RoleSupervisor}

	d.SLABreach(context.Background(), ev)
	d.SLABreach(context.Background(), ev)

	assert.Len(t, pub.events, 1, "repeat breach within the re-notify window is suppressed")
	assert.Len(t, store.created, 1)

	// A different level of the same request is its own breach.
	ev.Level = 2
	ev.Role = repository.RoleManager
	dir.roleHolders[repository.RoleManager] = []string{"meg"}
	d.SLABreach(context.Background(), ev)
	assert.Len(t, pub.events, 2)
}

func TestDispatcherSLABreachRenotifiesAfterWindow(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleSupervisor: {"sam"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	ev := BreachEvent{RequestID: "req-1", RequestNumber: "REQ-202608-AB12CD34", Level: 1, Role: repository.RoleSupervisor}

	d.SLABreach(context.Background(), ev)

	// Age the dedup entry past the re-notify window.
	d.mu.Lock()
	d.lastBreach["req-1:1"] = time.Now().Add(-2 * time.Hour)
	d.mu.Unlock()

	d.SLABreach(context.Background(), ev)
	assert.Len(t, pub.events, 2)
}

func TestDispatcherSLABreachPrunesExpiredEntries(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleSupervisor: {"sam"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	// Levels that were resolved long ago must not linger in the dedup map.
	d.mu.Lock()
	d.lastBreach["resolved-req:1"] = time.Now().Add(-3 * time.Hour)
	d.lastBreach["resolved-req:2"] = time.Now().Add(-2 * time.Hour)
	d.mu.Unlock()

	d.SLABreach(context.Background(), BreachEvent{
		RequestID:     "req-1",
		RequestNumber: "REQ-202608-AB12CD34",
		Level:         1,
		Role:          repository.RoleSupervisor,
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.NotContains(t, d.lastBreach, "resolved-req:1")
	assert.NotContains(t, d.lastBreach, "resolved-req:2")
	assert.Contains(t, d.lastBreach, "req-1:1")
}

func TestDispatcherStoreFailureStillPublishes(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	pub := &fakePublisher{}
	dir := &fakeDirectory{roleHolders: map[string][]string{repository.RoleSupervisor: {"sam"}}}
	d := newTestDispatcher(store, pub, dir, time.Hour)

	req := submittedRequest()
	ap := &repository.Approval{RequestID: req.ID, Level: 1, Role: repository.RoleSupervisor}
	d.LevelOpened(context.Background(), req, ap, "sam")

	assert.Len(t, pub.events, 1, "persistence failures must not block event publishing")
}

func TestRoleAbove(t *testing.T) {
	assert.Equal(t, repository.RoleManager, roleAbove(repository.RoleSupervisor))
	assert.Equal(t, repository.RoleFinance, roleAbove(repository.RoleManager))
	assert.Equal(t, repository.RoleAdmin, roleAbove(repository.RoleFinance))
	assert.Equal(t, "", roleAbove(repository.RoleAdmin))
	assert.Equal(t, "", roleAbove("staff"))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupe([]string{"a", "b", "a", "", "c", "b"}))
	assert.Empty(t, dedupe([]string{"", ""}))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "15000000.00", formatAmount(15_000_000_00))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "12.30", formatAmount(1230))
}
