package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vmforge/engine/internal/models"
)

func TestBroadcastPublishReachesOnlyDeploymentSubscribers(t *testing.T) {
	r := NewBroadcastRegistry()
	a, b := uuid.New(), uuid.New()

	var gotA, gotB []models.DeploymentLog
	r.Register(a, func(l models.DeploymentLog) { gotA = append(gotA, l) })
	r.Register(b, func(l models.DeploymentLog) { gotB = append(gotB, l) })

	r.Publish(a, models.DeploymentLog{Level: models.LogInfo, Message: "plan started"})
	r.Publish(a, models.DeploymentLog{Level: models.LogInfo, Message: "plan finished"})

	require.Len(t, gotA, 2)
	require.Equal(t, "plan started", gotA[0].Message)
	require.Empty(t, gotB)
}

func TestBroadcastUnregisterIsIdempotent(t *testing.T) {
	r := NewBroadcastRegistry()
	id := uuid.New()

	var got int
	tok1 := r.Register(id, func(models.DeploymentLog) { got++ })
	tok2 := r.Register(id, func(models.DeploymentLog) { got++ })
	require.Equal(t, 2, r.SubscriberCount(id))

	r.Unregister(id, tok1)
	r.Unregister(id, tok1)
	require.Equal(t, 1, r.SubscriberCount(id))

	r.Publish(id, models.DeploymentLog{Message: "line"})
	require.Equal(t, 1, got)

	r.Unregister(id, tok2)
	require.Zero(t, r.SubscriberCount(id))

	// publishing with no subscribers is a no-op
	r.Publish(id, models.DeploymentLog{Message: "line"})
	require.Equal(t, 1, got)
}

func TestBroadcastTapSeesAllDeployments(t *testing.T) {
	r := NewBroadcastRegistry()
	a, b := uuid.New(), uuid.New()

	var seen []uuid.UUID
	r.AddTap(func(id uuid.UUID, _ models.DeploymentLog) { seen = append(seen, id) })

	r.Publish(a, models.DeploymentLog{Message: "one"})
	r.Publish(b, models.DeploymentLog{Message: "two"})

	require.Equal(t, []uuid.UUID{a, b}, seen)
}

func TestBroadcastUnknownDeploymentIsNoOp(t *testing.T) {
	r := NewBroadcastRegistry()
	r.Unregister(uuid.New(), 99)
	r.Publish(uuid.New(), models.DeploymentLog{Message: "line"})
	require.Zero(t, r.SubscriberCount(uuid.New()))
}
