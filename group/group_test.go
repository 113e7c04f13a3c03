package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heriberto777/transferengine/store"
)

func TestSortMembersByExecutionOrderThenName(t *testing.T) {
	members := []*store.Task{
		{ID: "b", Name: "beta", LinkedExecutionOrder: 1},
		{ID: "a", Name: "alpha", LinkedExecutionOrder: 1},
		{ID: "c", Name: "gamma", LinkedExecutionOrder: 0},
	}
	sorted := SortMembers(members)
	assert.Equal(t, []string{"c", "a", "b"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
}

func TestCoordinatorOfRequiresExactlyOne(t *testing.T) {
	_, err := coordinatorOf([]*store.Task{
		{ID: "a"},
		{ID: "b"},
	})
	require.Error(t, err)
}

func TestCoordinatorOfRejectsCoordinatorWithoutPostUpdate(t *testing.T) {
	_, err := coordinatorOf([]*store.Task{
		{ID: "a", LinkingMetadata: store.LinkingMetadata{IsCoordinator: true}},
	})
	require.Error(t, err)
}

func TestCoordinatorOfRejectsTwoCoordinators(t *testing.T) {
	_, err := coordinatorOf([]*store.Task{
		{ID: "a", LinkingMetadata: store.LinkingMetadata{IsCoordinator: true}, PostUpdateQuery: "UPDATE t SET x=1 WHERE id=1"},
		{ID: "b", LinkingMetadata: store.LinkingMetadata{IsCoordinator: true}, PostUpdateQuery: "UPDATE t SET x=1 WHERE id=1"},
	})
	require.Error(t, err)
}

func TestCoordinatorOfAcceptsOneValidCoordinator(t *testing.T) {
	c, err := coordinatorOf([]*store.Task{
		{ID: "a"},
		{ID: "b", LinkingMetadata: store.LinkingMetadata{IsCoordinator: true}, PostUpdateQuery: "UPDATE t SET x=1 WHERE id=1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
}
