package monitoring

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a training event on the wire.
type EventType string

const (
	TrainingStarted  EventType = "training_started"
	EpochCompleted   EventType = "epoch_completed"
	TrainingFinished EventType = "training_finished"
	HubHeartbeat     EventType = "heartbeat"
)

// TrainingEvent is the message streamed to websocket subscribers while a
// model trains.
type TrainingEvent struct {
	Type      EventType `json:"type"`
	RunID     int64     `json:"run_id,omitempty"`
	ModelType string    `json:"model_type,omitempty"`
	Epoch     int       `json:"epoch,omitempty"`
	Epochs    int       `json:"epochs,omitempty"`
	Loss      float64   `json:"loss,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Clients   int       `json:"clients,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainingMonitor publishes training progress through a Hub.
type TrainingMonitor struct {
	hub    *Hub
	logger *zap.Logger
}

func NewTrainingMonitor(hub *Hub, logger *zap.Logger) *TrainingMonitor {
	return &TrainingMonitor{hub: hub, logger: logger}
}

func (m *TrainingMonitor) publish(ev TrainingEvent) {
	ev.Timestamp = time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("marshal training event failed", zap.Error(err))
		return
	}
	m.hub.Broadcast(payload)
}

// Started announces a new training run.
func (m *TrainingMonitor) Started(runID int64, modelType string, epochs int) {
	m.publish(TrainingEvent{
		Type:      TrainingStarted,
		RunID:     runID,
		ModelType: modelType,
		Epochs:    epochs,
	})
}

// EpochDone reports one finished epoch.
func (m *TrainingMonitor) EpochDone(runID int64, epoch, epochs int, loss float64, d time.Duration) {
	m.publish(TrainingEvent{
		Type:     EpochCompleted,
		RunID:    runID,
		Epoch:    epoch,
		Epochs:   epochs,
		Loss:     loss,
		Duration: d.String(),
	})
}

// Finished announces the end of a run with its final loss.
func (m *TrainingMonitor) Finished(runID int64, loss float64) {
	m.publish(TrainingEvent{
		Type:  TrainingFinished,
		RunID: runID,
		Loss:  loss,
	})
}

// Heartbeat keeps idle subscribers informed about the hub state.
func (m *TrainingMonitor) Heartbeat() {
	m.publish(TrainingEvent{
		Type:    HubHeartbeat,
		Clients: m.hub.ClientCount(),
	})
}
