package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelAnalysisNotifications = "analysis_notifications"
	ChannelGeneratorEvents       = "auto_generator_events"

	TypeAnalysisNotification = "analysis_notification"
	TypeJobEvent             = "job_event"
)

// NotificationMessage 分析任务通知
type NotificationMessage struct {
	Type              string                 `json:"type"`
	UserID            int64                  `json:"user_id"`
	NotificationID    int64                  `json:"notification_id"`
	PendingAnalysisID int64                  `json:"pending_analysis_id"`
	ChapterID         int64                  `json:"chapter_id"`
	ChapterNumber     int                    `json:"chapter_number"`
	NotificationType  string                 `json:"notification_type"`
	Title             string                 `json:"title"`
	Message           string                 `json:"message,omitempty"`
	Data              map[string]interface{} `json:"data,omitempty"`
}

// JobEventMessage 自动生成任务事件
type JobEventMessage struct {
	Type          string `json:"type"`
	UserID        int64  `json:"user_id"`
	JobID         int64  `json:"job_id"`
	ProjectID     string `json:"project_id"`
	Status        string `json:"status"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
	LogType       string `json:"log_type,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishNotification 发布分析通知
func (p *Publisher) PublishNotification(ctx context.Context, msg *NotificationMessage) error {
	msg.Type = TypeAnalysisNotification
	return p.publish(ctx, ChannelAnalysisNotifications, msg)
}

// PublishJobEvent 发布任务事件
func (p *Publisher) PublishJobEvent(ctx context.Context, msg *JobEventMessage) error {
	msg.Type = TypeJobEvent
	return p.publish(ctx, ChannelGeneratorEvents, msg)
}

func (p *Publisher) publish(ctx context.Context, channel string, msg interface{}) error {
	if p == nil || p.client == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", channel, err)
	}
	return p.client.Publish(ctx, channel, data).Err()
}

// Envelope 订阅端只关心投递目标，原始内容原样转发
type Envelope struct {
	Channel string
	Type    string
	UserID  int64
	Payload []byte
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅通知与任务事件，直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*Envelope)) error {
	pubsub := s.client.Subscribe(ctx, ChannelAnalysisNotifications, ChannelGeneratorEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var head struct {
				Type   string `json:"type"`
				UserID int64  `json:"user_id"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil {
				continue // 忽略解析错误
			}

			handler(&Envelope{
				Channel: msg.Channel,
				Type:    head.Type,
				UserID:  head.UserID,
				Payload: []byte(msg.Payload),
			})
		}
	}
}
