package node

import (
	"github.com/nerrad567/gray-logic-node/internal/metrics"
)

// Recorder is the time-series sink for connectivity history.
type Recorder interface {
	RecordStatus(node string, fields map[string]any)
	RecordConnectivity(node, layer, state string, failures int)
}

// MetricsObserver maps node events onto Prometheus collectors.
func MetricsObserver(m *metrics.Metrics) Observer {
	return func(e Event) {
		switch e.Type {
		case EventLink:
			state, _ := e.Data["state"].(string)
			metrics.SetBool(m.LinkUp, state == "up")
			if state == "connecting" {
				m.LinkAttempts.Inc()
			}
		case EventSession:
			state, _ := e.Data["state"].(string)
			metrics.SetBool(m.SessionEstablished, state == "established")
		case EventConnectFailed:
			m.ConnectFailures.Inc()
		case EventHeartbeat:
			m.Heartbeats.Inc()
			if sig, ok := e.Data["signal_strength"].(int); ok {
				m.SignalStrength.Set(float64(sig))
			}
		case EventCommand:
			kind, _ := e.Data["kind"].(string)
			m.Commands.WithLabelValues(kind).Inc()
		case EventReset:
			m.Resets.WithLabelValues("latched").Inc()
		case EventInboxDropped:
			m.InboxDropped.Inc()
		}
	}
}

// RecorderObserver writes link and session transitions and heartbeats to r.
// nodeName is read per event since the node can be renamed at runtime.
func RecorderObserver(r Recorder, nodeName func() string) Observer {
	return func(e Event) {
		switch e.Type {
		case EventLink:
			state, _ := e.Data["state"].(string)
			attempts, _ := e.Data["attempts"].(int)
			r.RecordConnectivity(nodeName(), "link", state, attempts)
		case EventSession:
			state, _ := e.Data["state"].(string)
			failures, _ := e.Data["failures"].(int)
			r.RecordConnectivity(nodeName(), "session", state, failures)
		case EventHeartbeat:
			r.RecordStatus(nodeName(), e.Data)
		}
	}
}
