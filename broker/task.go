// Package broker implements the SuperLink's in-memory task-broker
// state: a concurrent TaskIns/TaskRes table with delivery bookkeeping,
// node-liveness tracking, and paired garbage collection.
package broker

import "time"

// Consumer identifies the intended recipient of a TaskIns, or the
// sender of a TaskRes. Anonymous is true iff NodeID is zero; the
// anonymous form matches any worker, the non-anonymous form matches
// exactly one node.
type Consumer struct {
	NodeID    int64
	Anonymous bool
}

// Task is the inner envelope shared by TaskIns and TaskRes.
type Task struct {
	Producer    Consumer
	Consumer    Consumer
	Ancestry    []string
	MessageType string // routing tag only; the store never interprets it
	DeliveredAt string // ISO-8601 UTC; empty means undelivered
	Payload     []byte // opaque to the store; never inspected or decoded
}

// delivered reports whether the task has been handed to a consumer.
func (t *Task) delivered() bool { return t.DeliveredAt != "" }

// markDelivered stamps DeliveredAt with the current UTC time, unless
// already stamped (delivery is idempotent against re-fetches).
func (t *Task) markDelivered(now time.Time) {
	if t.DeliveredAt == "" {
		t.DeliveredAt = now.UTC().Format(time.RFC3339Nano)
	}
}

// TaskIns is the broker's record of an instruction dispatched to a
// node (or to any node, if anonymous).
type TaskIns struct {
	TaskID string // assigned by the store on admission
	RunID  int64
	Task
}

// TaskRes is the broker's record of a reply to a TaskIns. Ancestry[0]
// must point back to the TaskIns it answers; the store does not
// verify that TaskIns still exists (see DESIGN.md, Open Question 1).
type TaskRes struct {
	TaskID string
	RunID  int64
	Task
}

// ancestorID returns the TaskIns id this TaskRes answers, or "" if the
// record has no ancestry (which the validator should have rejected).
func (t *TaskRes) ancestorID() string {
	if len(t.Task.Ancestry) == 0 {
		return ""
	}
	return t.Task.Ancestry[0]
}
