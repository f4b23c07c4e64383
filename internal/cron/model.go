package cron

import (
	"crypto/rand"
	"encoding/hex"
)

// Schedule describes when a job runs. Kind selects which of the three
// fields the scheduler reads: "cron" drives robfig/cron off Expr, "every"
// fires every EveryMs off the job's own LastRunAtMs, "at" fires once when
// AtMs is reached.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Payload carries the job's single opaque instruction. The scheduler
// never interprets Message itself; it is Gateway.runCronJob's dispatch
// key (see the "__internal:*" payload messages).
type Payload struct {
	Message string `json:"message"`
}

// JobState tracks a job's last execution outcome, persisted alongside
// the job so a restarted service does not re-fire an "every" job
// immediately.
type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// CronJob is one scheduled unit of work.
type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
}

// NewCronJob builds an enabled job with a fresh random ID.
func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:       newJobID(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
	}
}

func newJobID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "job-" + hex.EncodeToString(buf)
	}
	return hex.EncodeToString(buf)
}
