package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/user-sync/internal/domain"
	apperrors "github.com/Proton-105/user-sync/internal/errors"
	"github.com/Proton-105/user-sync/internal/notify"
)

func event(op domain.Operation, user string) domain.Event {
	return domain.Event{Operation: op, User: json.RawMessage(user)}
}

func TestRouter_CreateScenario(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	notifier := &recordingNotifier{}
	router := newTestRouter(store, notifier, nil)

	outcome := router.Route(ctx, event(domain.OperationCreate,
		`{"id":"1","email":"a@x.com","firstName":"A","lastName":"B","dob":"1990-01-01"}`))
	require.Equal(t, Applied, outcome.Kind, "%v", outcome.Err)

	stored, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, stored.Status)
	assert.Equal(t, fixedNow, stored.CreatedAt)
	assert.Equal(t, fixedNow, stored.UpdatedAt)

	assert.Equal(t, []notify.Notification{{ID: "1", Email: "a@x.com"}}, notifier.sent)
}

func TestRouter_IdempotentCreate(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	router := newTestRouter(store, nil, nil)

	ev := event(domain.OperationCreate, `{"id":"1","firstName":"A","email":"a@x.com"}`)
	require.Equal(t, Applied, router.Route(ctx, ev).Kind)
	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationCreate, `{"id":"1","firstName":"B","email":"a@x.com"}`)).Kind)

	assert.Equal(t, 1, store.Len())
	stored, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "B", stored.FirstName)
}

func TestRouter_UpdateMergesStatusChangeWithFields(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	router := newTestRouter(store, nil, nil)

	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationCreate, `{"id":"1","firstName":"A","email":"a@x.com"}`)).Kind)
	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationUpdate, `{"id":"1","status":"updated"}`)).Kind)

	outcome := router.Route(ctx, event(domain.OperationUpdate, `{"id":"1","firstName":"Z","status":"created"}`))
	require.Equal(t, Applied, outcome.Kind, "%v", outcome.Err)

	stored, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Z", stored.FirstName)
	assert.Equal(t, domain.StatusCreated, stored.Status)

	outcome = router.Route(ctx, event(domain.OperationUpdate, `{"id":"1","firstName":"Q","status":"archived"}`))
	assert.Equal(t, Rejected, outcome.Kind)
	assert.True(t, apperrors.Is(outcome.Err, apperrors.CodeMalformedMessage))
}

type corruptStore struct {
	*spyStore
}

func (corruptStore) GetByID(context.Context, string) (*domain.User, error) {
	return nil, apperrors.NewCorruptRecordError("decode user 1", errors.New("unexpected attribute type"))
}

func TestRouter_CorruptRecordIsRejected(t *testing.T) {
	store := corruptStore{spyStore: newSpyStore()}
	router := newTestRouter(store, nil, nil)

	outcome := router.Route(context.Background(), event(domain.OperationUpdate, `{"id":"1","firstName":"Z"}`))

	assert.Equal(t, Rejected, outcome.Kind)
	assert.True(t, outcome.Kind.Acknowledge(), "a record that cannot be decoded must not be redelivered forever")
	assert.Zero(t, store.Writes())
}

func TestRouter_UpdateMissingRecord(t *testing.T) {
	store := newSpyStore()
	router := newTestRouter(store, nil, nil)

	outcome := router.Route(context.Background(), event(domain.OperationUpdate, `{"id":"1","firstName":"Z"}`))

	assert.Equal(t, Rejected, outcome.Kind)
	assert.True(t, apperrors.Is(outcome.Err, apperrors.CodeNotFound))
	assert.True(t, outcome.Kind.Acknowledge())
	assert.Zero(t, store.Writes())
}

func TestRouter_BlockedGuard(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	blocked := &domain.User{ID: "1", FirstName: "A", LastName: "B", Email: "a@x.com", DOB: "1990-01-01", Status: domain.StatusBlocked}
	require.NoError(t, store.MemoryStore.Put(ctx, blocked))

	log, buf := newTestLogger()
	notifier := &recordingNotifier{}
	router := newTestRouter(store, notifier, log)

	testCases := []struct {
		name string
		user string
	}{
		{name: "names", user: `{"id":"1","firstName":"Z","lastName":"Y"}`},
		{name: "unblock attempt", user: `{"id":"1","status":"updated"}`},
		{name: "email", user: `{"id":"1","email":"new@x.com","dob":"2000-01-01"}`},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			outcome := router.Route(ctx, event(domain.OperationUpdate, tc.user))

			assert.Equal(t, Skipped, outcome.Kind)
			assert.True(t, apperrors.Is(outcome.Err, apperrors.CodeBlockedGuardAborted))
			assert.True(t, outcome.Kind.Acknowledge())
		})
	}

	assert.Zero(t, store.Writes())
	assert.Empty(t, notifier.sent)
	assert.Contains(t, buf.String(), "Update operation aborted: User is blocked")

	stored, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, *blocked, *stored)
}

func TestRouter_UpdatePartialMerge(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	router := newTestRouter(store, nil, nil)

	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationCreate,
		`{"id":"1","email":"a@x.com","firstName":"A","lastName":"B","dob":"1990-01-01"}`)).Kind)
	before, err := store.GetByID(ctx, "1")
	require.NoError(t, err)

	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationUpdate, `{"id":"1","firstName":"Z"}`)).Kind)

	after, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Z", after.FirstName)
	assert.Equal(t, before.LastName, after.LastName)
	assert.Equal(t, before.Email, after.Email)
	assert.Equal(t, before.DOB, after.DOB)
	assert.Equal(t, before.Status, after.Status)
}

func TestRouter_UpdateNotifies(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	require.NoError(t, store.MemoryStore.Put(ctx, &domain.User{ID: "1", Status: domain.StatusCreated}))
	notifier := &recordingNotifier{}
	router := newTestRouter(store, notifier, nil)

	require.Equal(t, Applied, router.Route(ctx, event(domain.OperationUpdate, `{"id":"1","status":"updated"}`)).Kind)
	assert.Equal(t, []notify.Notification{{ID: "1", Status: "updated", Message: "User updated"}}, notifier.sent)
}

func TestRouter_BlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	require.NoError(t, store.MemoryStore.Put(ctx, &domain.User{ID: "1", Status: domain.StatusUpdated}))
	router := newTestRouter(store, nil, nil)

	for i := 0; i < 2; i++ {
		outcome := router.Route(ctx, event(domain.OperationBlock, `{"id":"1"}`))
		require.Equal(t, Applied, outcome.Kind, "%v", outcome.Err)
	}

	stored, err := store.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, stored.Status)
}

func TestRouter_Classification(t *testing.T) {
	testCases := []struct {
		name    string
		ev      domain.Event
		failing bool
		kind    OutcomeKind
		code    apperrors.Code
	}{
		{name: "payload not an object", ev: event(domain.OperationCreate, `"1"`), kind: Rejected, code: apperrors.CodeMalformedMessage},
		{name: "create without id", ev: event(domain.OperationCreate, `{"firstName":"A"}`), kind: Rejected, code: apperrors.CodeMalformedMessage},
		{name: "update without id", ev: event(domain.OperationUpdate, `{"firstName":"A"}`), kind: Rejected, code: apperrors.CodeMalformedMessage},
		{name: "block without id", ev: event(domain.OperationBlock, `{}`), kind: Rejected, code: apperrors.CodeMalformedMessage},
		{name: "block unknown id", ev: event(domain.OperationBlock, `{"id":"9"}`), kind: Rejected, code: apperrors.CodeNotFound},
		{name: "store down", ev: event(domain.OperationCreate, `{"id":"1"}`), failing: true, kind: Retry, code: apperrors.CodeStoreUnavailable},
		{name: "unsupported operation", ev: event(domain.Operation("purge"), `{"id":"1"}`), kind: Rejected, code: apperrors.CodeUnknownOperation},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			store := newSpyStore()
			store.SetFailing(tc.failing)
			router := newTestRouter(store, nil, nil)

			outcome := router.Route(context.Background(), tc.ev)
			assert.Equal(t, tc.kind, outcome.Kind)
			assert.Equal(t, tc.code, apperrors.CodeOf(outcome.Err))
		})
	}
}

func TestOutcomeKind_Acknowledge(t *testing.T) {
	assert.True(t, Applied.Acknowledge())
	assert.True(t, Skipped.Acknowledge())
	assert.True(t, Rejected.Acknowledge())
	assert.False(t, Retry.Acknowledge())
	assert.Equal(t, "retry", Retry.String())
}
