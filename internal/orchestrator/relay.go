package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vmforge/engine/internal/models"
	"github.com/vmforge/engine/pkg/logger"
)

const logChannelPrefix = "deployment:logs:"

// LogChannel names the redis pub/sub channel carrying one deployment's
// live log lines.
func LogChannel(deploymentID uuid.UUID) string {
	return logChannelPrefix + deploymentID.String()
}

// NewRedisTap forwards every published line to redis so other processes
// can serve live viewers. Delivery is fire-and-forget; the durable log
// list is the complete record.
func NewRedisTap(rdb *redis.Client) TapFunc {
	return func(deploymentID uuid.UUID, line models.DeploymentLog) {
		b, err := json.Marshal(line)
		if err != nil {
			return
		}
		if err := rdb.Publish(context.Background(), LogChannel(deploymentID), b).Err(); err != nil {
			logger.L().Warn("relay log line to redis failed",
				zap.String("deployment_id", deploymentID.String()), zap.Error(err))
		}
	}
}

// RunRedisBridge subscribes to all deployment log channels and republishes
// incoming lines into the local registry. It blocks until ctx is done.
func RunRedisBridge(ctx context.Context, rdb *redis.Client, reg *BroadcastRegistry) {
	sub := rdb.PSubscribe(ctx, logChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			idStr := strings.TrimPrefix(msg.Channel, logChannelPrefix)
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			var line models.DeploymentLog
			if err := json.Unmarshal([]byte(msg.Payload), &line); err != nil {
				logger.L().Warn("drop malformed relayed log line", zap.Error(err))
				continue
			}
			reg.Publish(id, line)
		}
	}
}
