package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Thejas-AM/consuma-api/internal/core/ports"
	"github.com/Thejas-AM/consuma-api/internal/tasks"
)

// newTaskQueue builds the queue named by queue.type. The in-process fallback
// doubles as the primary queue when no broker is configured.
func (s *Service) newTaskQueue(ctx context.Context) (ports.TaskQueue, error) {
	qc := s.cfg.Queue

	switch qc.Type {
	case "", "inprocess":
		return s.fallback, nil
	case "redis":
		if s.redis == nil {
			s.redis = redis.NewClient(&redis.Options{
				Addr:     qc.Redis.Addr,
				Password: qc.Redis.Password,
				DB:       qc.Redis.DB,
			})
			s.ownsRedis = true
		}
		if err := s.redis.Ping(ctx).Err(); err != nil {
			// Enqueue falls back to in-process tasks while the broker is down.
			s.logger.Warn("redis unreachable at startup",
				slog.String("addr", qc.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		return tasks.NewRedisQueue(s.redis, tasks.RedisConfig{
			Key:     qc.Redis.Key,
			Workers: qc.Redis.Workers,
		}, s.logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", qc.Type)
	}
}
