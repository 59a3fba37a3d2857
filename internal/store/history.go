package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ChatMessage is one line of a thread's chat history.
type ChatMessage struct {
	ThreadID  string    `json:"thread_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// History keeps the chat history of every thread.
type History interface {
	Append(ctx context.Context, threadID string, messages ...ChatMessage) error
	List(ctx context.Context, threadID string) ([]ChatMessage, error)
	Threads(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, threadID string) error
}

const (
	historyThreadsKey = "history:threads"
	historyMaxLen     = 500
)

func historyKey(threadID string) string {
	return fmt.Sprintf("history:%s", threadID)
}

// RedisHistory stores each thread's history as a capped Redis list.
type RedisHistory struct {
	redis *RedisClient
	ttl   time.Duration
}

var _ History = (*RedisHistory)(nil)

// NewRedisHistory keeps a thread's history for ttl after its last update.
func NewRedisHistory(redis *RedisClient, ttl time.Duration) *RedisHistory {
	return &RedisHistory{redis: redis, ttl: ttl}
}

func (h *RedisHistory) Append(ctx context.Context, threadID string, messages ...ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	key := historyKey(threadID)

	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		msg.ThreadID = threadID
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, data)
	}

	pipe := h.redis.GetClient().TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, -historyMaxLen, -1)
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	pipe.SAdd(ctx, historyThreadsKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add messages: %w", err)
	}
	return nil
}

func (h *RedisHistory) List(ctx context.Context, threadID string) ([]ChatMessage, error) {
	items, err := h.redis.GetClient().LRange(ctx, historyKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]ChatMessage, 0, len(items))
	for _, item := range items {
		var msg ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Threads returns the threads that still have history, sorted.
func (h *RedisHistory) Threads(ctx context.Context) ([]string, error) {
	client := h.redis.GetClient()
	ids, err := client.SMembers(ctx, historyThreadsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	threads := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := client.Exists(ctx, historyKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check thread %s: %w", id, err)
		}
		if n == 0 {
			// Expired since it was indexed.
			if err := client.SRem(ctx, historyThreadsKey, id).Err(); err != nil {
				return nil, fmt.Errorf("failed to unindex thread %s: %w", id, err)
			}
			continue
		}
		threads = append(threads, id)
	}
	sort.Strings(threads)
	return threads, nil
}

func (h *RedisHistory) Delete(ctx context.Context, threadID string) error {
	pipe := h.redis.GetClient().TxPipeline()
	pipe.Del(ctx, historyKey(threadID))
	pipe.SRem(ctx, historyThreadsKey, threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete history of thread %s: %w", threadID, err)
	}
	return nil
}

// MemoryHistory keeps history in process memory.
type MemoryHistory struct {
	mu      sync.Mutex
	threads map[string][]ChatMessage
}

var _ History = (*MemoryHistory)(nil)

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{threads: make(map[string][]ChatMessage)}
}

func (h *MemoryHistory) Append(_ context.Context, threadID string, messages ...ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.threads[threadID]
	for _, msg := range messages {
		msg.ThreadID = threadID
		list = append(list, msg)
	}
	if len(list) > historyMaxLen {
		list = list[len(list)-historyMaxLen:]
	}
	h.threads[threadID] = list
	return nil
}

func (h *MemoryHistory) List(_ context.Context, threadID string) ([]ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChatMessage{}, h.threads[threadID]...), nil
}

func (h *MemoryHistory) Threads(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	threads := make([]string, 0, len(h.threads))
	for id := range h.threads {
		threads = append(threads, id)
	}
	sort.Strings(threads)
	return threads, nil
}

func (h *MemoryHistory) Delete(_ context.Context, threadID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.threads, threadID)
	return nil
}
