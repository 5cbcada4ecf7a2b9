package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/r3e-labs/docbackbone/engine/bus"
	"github.com/r3e-labs/docbackbone/engine/domain"
)

// handleRunEvents streams a run's progress and state-change events as
// Server-Sent Events. spec.md §6 describes a WebSocket-shaped channel, but
// the backbone's only streaming transport wired into this module is the
// in-process Bus (optionally mirrored to NATS for external consumers); SSE
// over http.Flusher rides the same one-way server-to-client push the spec
// needs without pulling in a second, unwired transport dependency.
func (a *app) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID, err := pathUUID(r, "run_id")
	if err != nil {
		writeError(w, domain.NewValidationError("run_id", r.PathValue("run_id"), domain.ErrValidationFailed))
		return
	}
	run, err := a.runs.Get(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.ErrNotImplemented)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	msgs := make(chan bus.Event, 32)
	forward := func(ctx context.Context, e bus.Event) error {
		if e.CorrelationID != run.CorrelationID {
			return nil
		}
		select {
		case msgs <- e:
		default:
		}
		return nil
	}

	var unsubs []func()
	for _, t := range []bus.EventType{bus.EventProgress, bus.EventRunStateChanged, bus.EventStageStarted, bus.EventStageCompleted, bus.EventStageFailed, bus.EventWarning} {
		unsubs = append(unsubs, a.bus.Subscribe(t, forward, bus.SubscribeOptions{Mode: bus.ModeParallel, QueueSize: 32}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case e := <-msgs:
			if err := writeSSEEvent(w, e); err != nil {
				return
			}
			flusher.Flush()
			if e.Type == bus.EventRunStateChanged {
				if run, ok := e.Payload.(domain.PipelineRun); ok && run.State.Terminal() {
					return
				}
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, e bus.Event) error {
	data, err := json.Marshal(struct {
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    any       `json:"payload"`
	}{Type: string(e.Type), OccurredAt: e.OccurredAt, Payload: e.Payload})
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(e.Type) + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
