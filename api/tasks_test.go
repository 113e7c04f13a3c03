package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/heriberto777/transferengine/progress"
	"github.com/heriberto777/transferengine/registry"
	"github.com/heriberto777/transferengine/store"
	"github.com/heriberto777/transferengine/store/db/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	driver, err := sqlite.NewDB(":memory:")
	require.NoError(t, err)
	st := store.New(driver)
	require.NoError(t, st.Migrate(context.Background()))
	return &Service{Store: st, Registry: registry.New(), Bus: progress.New()}
}

func validTask(name string) *store.Task {
	return &store.Task{
		Name:  name,
		Kind:  store.KindManual,
		Query: "SELECT id FROM orders",
	}
}

func TestUpsertTaskRejectsNonSelectQuery(t *testing.T) {
	s := newTestService(t)
	task := validTask("bad-query")
	task.Query = "DELETE FROM orders"
	_, err := s.UpsertTask(context.Background(), task)
	require.Error(t, err)
}

func TestUpsertTaskRejectsDownDirectionWithoutFieldMapping(t *testing.T) {
	s := newTestService(t)
	task := validTask("down-task")
	task.Direction = store.DirectionDown
	_, err := s.UpsertTask(context.Background(), task)
	require.Error(t, err)
}

// spec I6: an explicit existenceCheck.key must appear in fieldMapping's
// targetFields; a key naming a column the mapped row never has must be
// rejected at upsert time rather than silently misbehaving in validation.Run.
func TestUpsertTaskRejectsExistenceKeyOutsideTargetFields(t *testing.T) {
	s := newTestService(t)
	task := validTask("bad-existence-key")
	task.Direction = store.DirectionDown
	task.FieldMapping = &store.FieldMapping{
		SourceTable:  "src",
		TargetTable:  "dst",
		SourceFields: []string{"ID"},
		TargetFields: []string{"ClienteID"},
	}
	task.ValidationRules = &store.ValidationRules{
		ExistenceCheck: store.ExistenceCheck{Table: "dst", Key: "NotAMappedField"},
	}
	_, err := s.UpsertTask(context.Background(), task)
	require.Error(t, err)
}

func TestUpsertTaskAcceptsExistenceKeyWithinTargetFields(t *testing.T) {
	s := newTestService(t)
	task := validTask("good-existence-key")
	task.Direction = store.DirectionDown
	task.FieldMapping = &store.FieldMapping{
		SourceTable:  "src",
		TargetTable:  "dst",
		SourceFields: []string{"ID"},
		TargetFields: []string{"ClienteID"},
	}
	task.ValidationRules = &store.ValidationRules{
		ExistenceCheck: store.ExistenceCheck{Table: "dst", Key: "ClienteID"},
	}
	_, err := s.UpsertTask(context.Background(), task)
	require.NoError(t, err)
}

func TestUpsertTaskRejectsCoordinatorWithoutPostUpdate(t *testing.T) {
	s := newTestService(t)
	task := validTask("coordinator")
	task.LinkingMetadata.IsCoordinator = true
	_, err := s.UpsertTask(context.Background(), task)
	require.Error(t, err)
}

func TestUpsertTaskAcceptsValidTask(t *testing.T) {
	s := newTestService(t)
	created, err := s.UpsertTask(context.Background(), validTask("fine"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestUpsertTaskRejectsSecondCoordinatorInGroup(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first := validTask("member-a")
	first.LinkedGroup = "g1"
	first.LinkingMetadata.IsCoordinator = true
	first.PostUpdateQuery = "UPDATE orders SET synced = 1 WHERE id = 1"
	_, err := s.UpsertTask(ctx, first)
	require.NoError(t, err)

	second := validTask("member-b")
	second.LinkedGroup = "g1"
	second.LinkingMetadata.IsCoordinator = true
	second.PostUpdateQuery = "UPDATE orders SET synced = 1 WHERE id = 1"
	_, err = s.UpsertTask(ctx, second)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestExecuteTaskRejectsNonManualKind(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task := validTask("auto-only")
	task.Kind = store.KindAuto
	created, err := s.UpsertTask(ctx, task)
	require.NoError(t, err)

	err = s.ExecuteTask(ctx, created.ID, nil)
	require.Error(t, err)
}

func TestExecuteTaskRejectsWhenGloballyBusy(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	task := validTask("both-kind")
	task.Kind = store.KindBoth
	created, err := s.UpsertTask(ctx, task)
	require.NoError(t, err)

	other, err := s.Registry.Register(ctx, "some-other-auto-task", store.KindAuto)
	require.NoError(t, err)
	defer s.Registry.Complete(other.TaskID, registry.StateCompleted)

	err = s.ExecuteTask(ctx, created.ID, nil)
	require.Error(t, err)
}

func TestCancelTaskFailsForUnknownTask(t *testing.T) {
	s := newTestService(t)
	_, err := s.CancelTask(context.Background(), "missing", false, "test")
	require.Error(t, err)
}

func TestCancelTaskSucceedsForRunningTask(t *testing.T) {
	s := newTestService(t)
	_, err := s.Registry.Register(context.Background(), "running-task", store.KindManual)
	require.NoError(t, err)

	sub, err := s.CancelTask(context.Background(), "running-task", false, "operator request")
	require.NoError(t, err)
	require.NotNil(t, sub)
	sub.Unsubscribe()
}

// spec.md:109: cancel() must emit a status event, not just flip internal
// state and wait for the (possibly much later) terminal event.
func TestCancelTaskPublishesCancellingStatus(t *testing.T) {
	s := newTestService(t)
	_, err := s.Registry.Register(context.Background(), "running-task", store.KindManual)
	require.NoError(t, err)

	sub, err := s.CancelTask(context.Background(), "running-task", false, "operator request")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	evt := <-sub.Events
	assert.Equal(t, progress.KindStatus, evt.Kind)
	assert.Equal(t, string(store.StatusCancelling), evt.State)
}

func TestGetLinkingInfoReportsStandaloneTask(t *testing.T) {
	s := newTestService(t)
	created, err := s.UpsertTask(context.Background(), validTask("solo"))
	require.NoError(t, err)

	info, err := s.GetLinkingInfo(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, info.LinkedGroup)
	assert.Empty(t, info.Members)
}
