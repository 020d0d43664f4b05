package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exported on /metrics. Scan results are labeled so dashboards can
// split accepted scans from rejections.
var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edutend_sessions_created_total",
		Help: "Attendance sessions created.",
	})

	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edutend_scans_total",
		Help: "QR scan attempts by result.",
	}, []string{"result"})

	Marks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edutend_attendance_marks_total",
		Help: "Attendance records written.",
	})
)
