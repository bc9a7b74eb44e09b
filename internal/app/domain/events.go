package domain

import "time"

// Event bus channel names.
const (
	ChannelAnomalyDetected   = "anomaly.detected"
	ChannelMetricUpdated     = "metric.updated"
	ChannelTrainingStarted   = "training.started"
	ChannelTrainingProgress  = "training.progress"
	ChannelTrainingCompleted = "training.completed"
	ChannelSystemAlert       = "system.alert"
)

// AnomalyDetectedEvent is published to ChannelAnomalyDetected.
type AnomalyDetectedEvent struct {
	EventType   string    `json:"event_type"`
	MachineID   string    `json:"machine_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Expected    float64   `json:"expected"`
	Severity    string    `json:"severity"`
	AnomalyType string    `json:"anomaly_type"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// NewAnomalyDetectedEvent builds the event payload for a persisted anomaly.
func NewAnomalyDetectedEvent(a Anomaly) AnomalyDetectedEvent {
	return AnomalyDetectedEvent{
		EventType:   ChannelAnomalyDetected,
		MachineID:   a.MachineID,
		Metric:      a.Metric,
		Value:       a.Actual,
		Expected:    a.Expected,
		Severity:    a.Severity,
		AnomalyType: a.Type,
		Confidence:  a.Confidence,
		Timestamp:   a.DetectedAt,
		PublishedAt: time.Now().UTC(),
	}
}

// MetricUpdatedEvent is published to ChannelMetricUpdated.
type MetricUpdatedEvent struct {
	EventType   string    `json:"event_type"`
	MachineID   string    `json:"machine_id"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingStartedEvent is published to ChannelTrainingStarted.
type TrainingStartedEvent struct {
	EventType   string    `json:"event_type"`
	JobID       string    `json:"job_id"`
	MachineID   string    `json:"machine_id"`
	ModelType   string    `json:"model_type"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingProgressEvent is published to ChannelTrainingProgress.
type TrainingProgressEvent struct {
	EventType   string    `json:"event_type"`
	JobID       string    `json:"job_id"`
	ProgressPct float64   `json:"progress_pct"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// TrainingCompletedEvent is published to ChannelTrainingCompleted.
type TrainingCompletedEvent struct {
	EventType    string             `json:"event_type"`
	JobID        string             `json:"job_id"`
	Status       string             `json:"status"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	PublishedAt  time.Time          `json:"published_at"`
}

// SystemAlertEvent is published to ChannelSystemAlert.
type SystemAlertEvent struct {
	EventType   string                 `json:"event_type"`
	AlertType   string                 `json:"alert_type"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	PublishedAt time.Time              `json:"published_at"`
}

// WebSocket fan-out topics.
const (
	TopicDashboard = "dashboard"
	TopicAnomalies = "anomalies"
	TopicTraining  = "training"
	TopicEvents    = "events"
)

// TopicChannels maps each WebSocket topic to the bus channels it forwards.
// `training.completed` is relabeled `model_updated` on the dashboard topic.
var TopicChannels = map[string][]string{
	TopicDashboard: {ChannelAnomalyDetected, ChannelMetricUpdated, ChannelTrainingCompleted},
	TopicAnomalies: {ChannelAnomalyDetected},
	TopicTraining:  {ChannelTrainingStarted, ChannelTrainingProgress, ChannelTrainingCompleted},
	TopicEvents:    {ChannelSystemAlert},
}

// Envelope is the WebSocket wire format: {type, data}.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}
