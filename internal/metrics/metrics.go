package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is shared by the agent and the store server.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		FramesTotal, FrameReadFailures, FacesTotal,
		SubmissionsTotal, MarksStored,
	)
}

// FramesTotal counts frames that made it through detection.
var FramesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollcall_frames_total",
		Help: "Frames processed by the capture loop",
	},
	[]string{"room_id"},
)

// FrameReadFailures counts camera reads that returned no frame.
var FrameReadFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollcall_frame_read_failures_total",
		Help: "Camera reads that failed and were retried",
	},
	[]string{"room_id"},
)

// FacesTotal counts detected faces by match outcome.
var FacesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollcall_faces_total",
		Help: "Detected faces by outcome",
	},
	[]string{"room_id", "result"}, // matched | unknown
)

// SubmissionsTotal counts best-effort calls to the attendance store.
var SubmissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollcall_submissions_total",
		Help: "Mark and unknown-face submissions by outcome",
	},
	[]string{"kind", "outcome"}, // mark|unknown, ok|error
)

// MarksStored counts marks on the store side, split by whether they were new.
var MarksStored = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollcall_marks_stored_total",
		Help: "Attendance marks received by the store",
	},
	[]string{"source", "created"},
)

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
