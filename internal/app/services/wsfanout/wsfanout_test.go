package wsfanout

import "testing"

func TestEventTypeForChannel_RelabelsTrainingCompletedOnDashboard(t *testing.T) {
	eventType, ok := eventTypeForChannel(TopicDashboard, "training.completed")
	if !ok || eventType != "model_updated" {
		t.Fatalf("expected model_updated, got %q ok=%v", eventType, ok)
	}

	eventType, ok = eventTypeForChannel(TopicTraining, "training.completed")
	if !ok || eventType != "training.completed" {
		t.Fatalf("expected training.completed on training topic, got %q ok=%v", eventType, ok)
	}
}

func TestEventTypeForChannel_UnforwardedChannelReportsFalse(t *testing.T) {
	if _, ok := eventTypeForChannel(TopicAnomalies, "system.alert"); ok {
		t.Fatal("anomalies topic should not forward system.alert")
	}
}

func TestNew_InitializesAllFourTopics(t *testing.T) {
	h := New(nil, 0, 0)
	if h.ConnectionCount() != 0 {
		t.Fatalf("expected zero connections on a fresh hub, got %d", h.ConnectionCount())
	}
	for _, topic := range Topics() {
		if _, ok := h.topics[topic]; !ok {
			t.Fatalf("expected topic %q to be initialized", topic)
		}
	}
}
