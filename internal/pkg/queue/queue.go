package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue 待分析任务的唤醒队列。任务本身以数据库为准，
// 队列只用于让 worker 提前醒来，丢失消息不影响正确性。
type Queue struct {
	client    *redis.Client
	queueName string
}

type AnalysisMessage struct {
	PendingAnalysisID int64  `json:"pending_analysis_id"`
	ProjectID         string `json:"project_id"`
	ChapterID         int64  `json:"chapter_id"`
	ChapterNumber     int    `json:"chapter_number"`
	Priority          int    `json:"priority"`
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将任务加入队列
func (q *Queue) Push(ctx context.Context, msg *AnalysisMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*AnalysisMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg AnalysisMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Drain 清空队列中积压的消息，返回清掉的条数
func (q *Queue) Drain(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.queueName).Result()
	if err != nil || n == 0 {
		return 0, err
	}
	if err := q.client.LTrim(ctx, q.queueName, 1, 0).Err(); err != nil {
		return 0, err
	}
	return n, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
