/**
 * 任务取消总线
 * @date: 2026.10.17
 * @description: 通过 Redis PUBLISH/SUBSCRIBE 广播任务取消信号，
 *   任意进程收到后中止本地正在执行的同名任务
 */
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CancelMessage 取消消息
type CancelMessage struct {
	TaskID      string    `json:"task_id"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// CancelBus 取消信号发布与订阅
type CancelBus struct {
	client *redis.Client
	topic  string
}

// NewCancelBus 创建取消总线
func NewCancelBus(client *redis.Client, topic string) *CancelBus {
	if topic == "" {
		topic = "neotask:task:cancel"
	}
	return &CancelBus{client: client, topic: topic}
}

// Topic 频道名
func (b *CancelBus) Topic() string {
	return b.topic
}

// Publish 广播取消信号
func (b *CancelBus) Publish(ctx context.Context, taskID, reason string) error {
	payload, err := encodeCancel(CancelMessage{TaskID: taskID, Reason: reason, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish cancel for task %s: %w", taskID, err)
	}
	return nil
}

// Subscribe 订阅取消信号并回调，阻塞直到 ctx 结束
// 无法解析的消息被忽略
func (b *CancelBus) Subscribe(ctx context.Context, handler func(CancelMessage)) error {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	// 确认订阅建立
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", b.topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			m, err := decodeCancel(msg.Payload)
			if err != nil {
				continue
			}
			handler(m)
		}
	}
}

func encodeCancel(m CancelMessage) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cancel message: %w", err)
	}
	return string(b), nil
}

// decodeCancel 兼容只发送任务ID的纯文本消息
func decodeCancel(payload string) (CancelMessage, error) {
	var m CancelMessage
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return m, err
		}
	} else {
		m.TaskID = payload
	}
	if m.TaskID == "" {
		return m, fmt.Errorf("cancel message without task id")
	}
	return m, nil
}
