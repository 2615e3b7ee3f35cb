package jami

import "time"

// MetricsRecorder defines metrics hooks for the event stream and facade.
type MetricsRecorder interface {
	RecordSignal(signal string)
	RecordDelivered(source string)
	RecordDeferred(source string)
	RecordDropped(source string, reason string)
	RecordContractViolation(signal string)
	RecordCall(method string, status string, duration time.Duration)
	SetListenerState(state string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSignal(signal string)                                       {}
func (nopMetrics) RecordDelivered(source string)                                    {}
func (nopMetrics) RecordDeferred(source string)                                     {}
func (nopMetrics) RecordDropped(source string, reason string)                       {}
func (nopMetrics) RecordContractViolation(signal string)                            {}
func (nopMetrics) RecordCall(method string, status string, duration time.Duration) {}
func (nopMetrics) SetListenerState(state string)                                    {}

func recorderOrNop(r MetricsRecorder) MetricsRecorder {
	if r == nil {
		return nopMetrics{}
	}
	return r
}
