package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/openagents/a2a-engine/pkg/a2a"
	"github.com/openagents/a2a-engine/pkg/errors"
	"github.com/openagents/a2a-engine/pkg/jsonrpc"
	"github.com/openagents/a2a-engine/pkg/metrics"
)

// subscriberBuffer is how many frames a subscriber may lag before it is
// evicted.  Frames are ordered, so dropping one silently is not an option.
const subscriberBuffer = 16

/*
Fanout routes task events to the SSE streams subscribed to each task.  Every
frame is a JSON-RPC success envelope carrying the event, serialized for the
request id the stream was opened under:

	data: {"jsonrpc":"2.0","id":<requestID>,"result":<event>}\n\n

A final status event closes the stream right after delivery.
*/
type Fanout struct {
	mu        sync.Mutex
	tasks     map[string]map[string]*Subscriber
	keepAlive time.Duration
	metrics   *metrics.StreamingMetrics
}

func NewFanout() *Fanout {
	return &Fanout{
		tasks:     make(map[string]map[string]*Subscriber),
		keepAlive: 30 * time.Second,
		metrics:   metrics.NewStreamingMetrics(),
	}
}

// NewTestFanout shortens the keep-alive interval so tests can observe it.
func NewTestFanout() *Fanout {
	fanout := NewFanout()
	fanout.keepAlive = 50 * time.Millisecond
	return fanout
}

// Metrics exposes the fanout's streaming counters.
func (fanout *Fanout) Metrics() *metrics.StreamingMetrics {
	return fanout.metrics
}

// Subscriber is one attached SSE stream.
type Subscriber struct {
	taskID     string
	key        string
	requestID  any
	frames     chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	attachedAt time.Time
}

func (sub *Subscriber) close() {
	sub.closeOnce.Do(func() {
		close(sub.closed)
	})
}

/*
Subscribe attaches a stream to a task under the JSON-RPC request id it was
opened with.  A second subscription with the same request id against the same
task is rejected; reconnects must retire the old stream first or use a new id.
*/
func (fanout *Fanout) Subscribe(taskID string, requestID any) (*Subscriber, *errors.RpcError) {
	key := fmt.Sprint(requestID)

	fanout.mu.Lock()
	defer fanout.mu.Unlock()

	subs, ok := fanout.tasks[taskID]

	if !ok {
		subs = make(map[string]*Subscriber)
		fanout.tasks[taskID] = subs
	}

	if _, ok := subs[key]; ok {
		fanout.metrics.RecordSubscribe(false)
		return nil, errors.ErrInvalidRequest.WithMessagef(
			"request id %s already streaming task %s", key, taskID,
		)
	}

	sub := &Subscriber{
		taskID:     taskID,
		key:        key,
		requestID:  requestID,
		frames:     make(chan []byte, subscriberBuffer),
		closed:     make(chan struct{}),
		attachedAt: time.Now(),
	}
	subs[key] = sub

	fanout.metrics.RecordSubscribe(true)
	log.Debug("sse subscriber attached", "taskID", taskID, "requestID", key)

	return sub, nil
}

// Unsubscribe detaches and closes the subscriber.  Safe to call repeatedly.
func (fanout *Fanout) Unsubscribe(sub *Subscriber) {
	fanout.mu.Lock()

	if subs, ok := fanout.tasks[sub.taskID]; ok {
		if subs[sub.key] == sub {
			delete(subs, sub.key)
			if len(subs) == 0 {
				delete(fanout.tasks, sub.taskID)
			}
		}
	}

	fanout.mu.Unlock()

	sub.close()
	fanout.metrics.RecordUnsubscribe(time.Since(sub.attachedAt))
}

/*
Notify delivers an event to every stream subscribed to the task.  Each
subscriber gets its own envelope because streams differ in request id.  A
subscriber whose buffer is full is evicted rather than silently skipped: a
stream with a hole in it is worse than a dead one, and the client can always
resubscribe for current state.
*/
func (fanout *Fanout) Notify(taskID string, event any) {
	final := false

	if status, ok := event.(a2a.TaskStatusUpdateEvent); ok {
		final = status.Final
	}

	fanout.mu.Lock()
	subs := make([]*Subscriber, 0, len(fanout.tasks[taskID]))

	for _, sub := range fanout.tasks[taskID] {
		subs = append(subs, sub)
	}

	fanout.mu.Unlock()

	for _, sub := range subs {
		started := time.Now()
		frame, err := json.Marshal(jsonrpc.NewResult(sub.requestID, event))

		if err != nil {
			log.Error("failed to marshal sse frame", "taskID", taskID, "error", err)
			continue
		}

		select {
		case sub.frames <- frame:
			fanout.metrics.RecordFrame(false, time.Since(started))
		default:
			log.Warn("evicting slow sse subscriber", "taskID", taskID, "requestID", sub.key)
			fanout.metrics.RecordFrame(true, 0)
			fanout.metrics.RecordEviction()
			fanout.Unsubscribe(sub)
			continue
		}

		if final {
			fanout.Unsubscribe(sub)
		}
	}
}

// CloseAll retires every stream, typically at server shutdown.
func (fanout *Fanout) CloseAll() {
	fanout.mu.Lock()
	var all []*Subscriber

	for _, subs := range fanout.tasks {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}

	fanout.tasks = make(map[string]map[string]*Subscriber)
	fanout.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}

/*
Stream writes the subscriber's frames to the response until the stream is
retired or the client goes away.  The caller is responsible for the SSE
response headers; Stream only moves bytes.  Buffered frames are flushed even
when close has already been signalled, so the final event always lands.
*/
func (fanout *Fanout) Stream(w http.ResponseWriter, r *http.Request, sub *Subscriber) {
	flusher, ok := w.(http.Flusher)

	if !ok {
		log.Error("response writer does not support streaming")
		fanout.Unsubscribe(sub)
		return
	}

	ticker := time.NewTicker(fanout.keepAlive)
	defer ticker.Stop()
	defer fanout.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-sub.frames:
			writeFrame(w, flusher, frame)
		case <-ticker.C:
			_, _ = w.Write([]byte(":keep-alive\n\n"))
			flusher.Flush()
		case <-sub.closed:
			for {
				select {
				case frame := <-sub.frames:
					writeFrame(w, flusher, frame)
				default:
					return
				}
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, frame []byte) {
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(frame)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
