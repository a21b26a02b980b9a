package core

import "sync"

// channelState mirrors the original's StateInfo: per-channel badness and
// queue-size bookkeeping plus an enabled/disabled flag.
type channelState struct {
	numBad     uint32
	queueSize  int
	enabled    bool
}

// FloodControl implements the placement driver's load-shedding policy,
// grounded on original_source/.../GTI/modules/gti-internal/FloodControl.h
// (DISABLE_THRESHOLD/ENABLE_HISTERESE hysteresis, per-channel StateInfo,
// getMaxBadness priority ranking), generalized from GTI's down/intra/up
// channel triad to one channel per rank known to this node.
type FloodControl struct {
	mutex sync.Mutex

	disableThreshold uint32
	enableHysteresis uint32

	channels map[int]*channelState
}

func NewFloodControl(disableThreshold, enableHysteresis uint32) *FloodControl {
	return &FloodControl{
		disableThreshold: disableThreshold,
		enableHysteresis: enableHysteresis,
		channels:         make(map[int]*channelState),
	}
}

func (f *FloodControl) state(channel int) *channelState {
	s, ok := f.channels[channel]
	if !ok {
		s = &channelState{enabled: true}
		f.channels[channel] = s
	}
	return s
}

// ModifyQueueSize adjusts channel's recorded queue depth, mirroring
// I_FloodControl::modifyQueueSize.
func (f *FloodControl) ModifyQueueSize(channel int, diff int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	s := f.state(channel)
	s.queueSize += diff
	if s.queueSize < 0 {
		s.queueSize = 0
	}
}

// MarkRecordBad increments channel's badness counter, toggling it
// disabled once it crosses disableThreshold (spec.md §6
// disable_threshold).
func (f *FloodControl) MarkRecordBad(channel int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	s := f.state(channel)
	s.numBad++
	if s.numBad >= f.disableThreshold {
		s.enabled = false
	}
}

// ConsiderReenable lowers channel's badness once records succeed,
// re-enabling the channel once it has dropped back beneath
// enableHysteresis (spec.md §6 enable_hysteresis).
func (f *FloodControl) ConsiderReenable(channel int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	s := f.state(channel)
	if s.numBad > 0 {
		s.numBad--
	}
	if !s.enabled && s.numBad < f.enableHysteresis {
		s.enabled = true
	}
}

// IsEnabled reports whether channel is currently eligible for dispatch.
func (f *FloodControl) IsEnabled(channel int) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.state(channel).enabled
}

// MaxBadness returns the worst badness value across all known channels,
// mirroring I_FloodControl::getMaxBadness, used to rank which channel the
// placement driver should test next.
func (f *FloodControl) MaxBadness() uint32 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var max uint32
	for _, s := range f.channels {
		if s.numBad > max {
			max = s.numBad
		}
	}
	return max
}
