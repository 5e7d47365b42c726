package container

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FR-GRE-BDS-HPC-SW-SAGE2-GMA/iocatcher/internal/wire"
)

func TestRangeRegisterConflictThenRetrySucceeds(t *testing.T) {
	tracker := NewConsistencyTracker()

	idA := tracker.RegisterRange(1, 200, 100, wire.AccessWrite)
	require.EqualValues(t, 1, idA)

	idB := tracker.RegisterRange(2, 200, 100, wire.AccessWrite)
	require.EqualValues(t, -1, idB)

	require.True(t, tracker.UnregisterRange(1, idA, 200, 100, wire.AccessWrite))

	idB2 := tracker.RegisterRange(2, 200, 100, wire.AccessWrite)
	require.EqualValues(t, 2, idB2)
}

func TestReadRangesMayOverlapEachOther(t *testing.T) {
	tracker := NewConsistencyTracker()

	require.False(t, tracker.HasCollision(0, 100, wire.AccessRead))
	require.EqualValues(t, 1, tracker.RegisterRange(1, 0, 100, wire.AccessRead))
	require.EqualValues(t, 2, tracker.RegisterRange(2, 50, 100, wire.AccessRead))
}

func TestWriteRangeCollidesWithOverlappingRead(t *testing.T) {
	tracker := NewConsistencyTracker()
	require.EqualValues(t, 1, tracker.RegisterRange(1, 0, 100, wire.AccessRead))
	require.True(t, tracker.HasCollision(50, 10, wire.AccessWrite))
}

func TestDisconnectDropsOwnedRangesWithoutResettingNextID(t *testing.T) {
	tracker := NewConsistencyTracker()
	tracker.RegisterRange(7, 0, 10, wire.AccessWrite)
	tracker.RegisterRange(7, 100, 10, wire.AccessRead)
	tracker.RegisterRange(8, 200, 10, wire.AccessWrite)

	tracker.ClientDisconnect(7)

	require.False(t, tracker.HasCollision(0, 10, wire.AccessWrite))
	require.False(t, tracker.HasCollision(100, 10, wire.AccessRead))
	require.True(t, tracker.HasCollision(200, 10, wire.AccessWrite))

	id := tracker.RegisterRange(9, 0, 10, wire.AccessWrite)
	require.EqualValues(t, 4, id)
}

func TestUnregisterRequiresExactFiveFieldMatch(t *testing.T) {
	tracker := NewConsistencyTracker()
	id := tracker.RegisterRange(1, 0, 10, wire.AccessWrite)

	require.False(t, tracker.UnregisterRange(1, id, 0, 10, wire.AccessRead))
	require.False(t, tracker.UnregisterRange(2, id, 0, 10, wire.AccessWrite))
	require.True(t, tracker.UnregisterRange(1, id, 0, 10, wire.AccessWrite))
}
