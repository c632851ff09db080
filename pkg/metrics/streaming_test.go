package metrics

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewStreamingMetrics(t *testing.T) {
	Convey("When creating a new metrics instance", t, func() {
		m := NewStreamingMetrics()
		Convey("Then it should not be nil", func() {
			So(m, ShouldNotBeNil)
		})
	})
}

func TestRecordSubscribe(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewStreamingMetrics()
		m.RecordSubscribe(true)
		m.RecordSubscribe(false)
		Convey("Then subscriber stats are recorded", func() {
			So(m.TotalSubscribers, ShouldEqual, 2)
			So(m.RejectedSubscribers, ShouldEqual, 1)
		})
	})
}

func TestRecordEviction(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewStreamingMetrics()
		m.RecordEviction()
		Convey("Then evictions increase", func() {
			So(m.Evictions, ShouldEqual, 1)
		})
	})
}

func TestRecordFrame(t *testing.T) {
	Convey("Given a metrics instance", t, func() {
		m := NewStreamingMetrics()
		m.RecordFrame(false, time.Millisecond)
		m.RecordFrame(true, 0)
		Convey("Then frame metrics update", func() {
			So(m.TotalFrames, ShouldEqual, 2)
			So(m.DroppedFrames, ShouldEqual, 1)
		})
	})
}

func TestGetMetrics(t *testing.T) {
	Convey("Given a metrics instance with data", t, func() {
		m := NewStreamingMetrics()
		m.RecordSubscribe(true)
		m.RecordFrame(false, time.Millisecond)
		metrics := m.GetMetrics()
		Convey("Then returned metrics reflect counts", func() {
			So(metrics["total_subscribers"], ShouldEqual, int64(1))
			So(metrics["total_frames"], ShouldEqual, int64(1))
			So(metrics["dropped_frames"], ShouldEqual, int64(0))
		})
	})
}

func TestGetMetricsEmpty(t *testing.T) {
	Convey("Given a fresh metrics instance", t, func() {
		m := NewStreamingMetrics()
		metrics := m.GetMetrics()
		Convey("Then averages are zero rather than NaN", func() {
			So(metrics["avg_write_time"], ShouldEqual, 0.0)
		})
	})
}
