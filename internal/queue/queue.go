package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeMark is published after a successful admission; the body is the mark
// id. The worker picks these up for liveness post-processing.
const TypeMark = "mark"

// Message is one unit of asynchronous work. Type routes it, Body is opaque
// to the queue.
type Message struct {
	Type string
	Body []byte
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory buffers messages in a channel. Single-process only, used in dev
// and tests where the API and worker run in the same binary.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, blocking when the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if strings.ContainsRune(msg.Type, '|') {
		return fmt.Errorf("queue: message type %q contains separator", msg.Type)
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel that closes when ctx is cancelled.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list used as a work queue: LPUSH to publish, BRPOP
// to consume. Multiple workers can share the same list.
type RedisQueue struct {
	rdb  *redis.Client
	list string
}

// NewRedisQueue builds a queue on the named list.
func NewRedisQueue(rdb *redis.Client, list string) *RedisQueue {
	if list == "" {
		list = "bioattend:marks"
	}
	return &RedisQueue{rdb: rdb, list: list}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	if strings.ContainsRune(msg.Type, '|') {
		return fmt.Errorf("queue: message type %q contains separator", msg.Type)
	}
	return q.rdb.LPush(ctx, q.list, encode(msg)).Err()
}

// Consume streams messages until ctx is cancelled. Transient Redis errors
// are absorbed with a short backoff rather than closing the stream.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.rdb.BRPop(ctx, 5*time.Second, q.list).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err != redis.Nil {
					time.Sleep(time.Second)
				}
				continue
			}
			// BRPOP returns [list, value].
			if len(res) != 2 {
				continue
			}
			select {
			case out <- decode(res[1]):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Messages are stored as "type|body"; Publish rejects types containing '|'.
func encode(msg Message) string {
	return msg.Type + "|" + string(msg.Body)
}

func decode(s string) Message {
	typ, body, found := strings.Cut(s, "|")
	if !found {
		return Message{Body: []byte(s)}
	}
	return Message{Type: typ, Body: []byte(body)}
}
