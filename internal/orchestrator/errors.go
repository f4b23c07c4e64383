package orchestrator

import "errors"

// The five error kinds §7 enumerates. HandleEvent logs the validation
// and stale kinds itself and processEvent logs the other three; no
// function returns any of them, so they appear only as the prefix of
// those log lines.
var (
	// ErrValidation marks a malformed event dropped at preprocess.
	ErrValidation = errors.New("orchestrator: validation error")

	// ErrStaleEvent marks a non-command, non-mention event whose
	// ingest lag exceeded the stale-backfill threshold.
	ErrStaleEvent = errors.New("orchestrator: stale event")

	// ErrPlannerSkip marks a planner decision not to reply. Not a
	// failure; carried as an error only so it flows through the same
	// logging path as the others.
	ErrPlannerSkip = errors.New("orchestrator: planner skip")

	// ErrLLMFailure marks a chat request that returned an error. The
	// turn is skipped: no bot turn is committed, no energy is spent,
	// lastBotReplyAt is unchanged.
	ErrLLMFailure = errors.New("orchestrator: llm failure")

	// ErrSendFailure marks an adapter send error on the first segment.
	// The typing token is ended and no further segments are sent. An
	// error on a later segment also stops the send, but the reply then
	// counts as sent and is committed without this log line.
	ErrSendFailure = errors.New("orchestrator: send failure")
)
