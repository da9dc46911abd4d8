// Package mock provides a test double for the vad.Detector interface.
//
// Use Detector in unit tests to script boundary events per window without a
// live model. Windows are matched to scripted results by call order.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlance/pkg/provider/vad"
)

// Call records a single invocation of DetectWindow.
type Call struct {
	// Window is the PCM window passed in. The slice is retained, not copied.
	Window []byte
	// WindowMs is the window duration passed in.
	WindowMs int
	// OffsetMs is the stream offset passed in.
	OffsetMs int
}

// Detector is a mock implementation of vad.Detector.
//
// Results are consumed one entry per call, in order; calls beyond the end of
// Results return no boundaries. Set Err to make every call fail.
type Detector struct {
	mu sync.Mutex

	// Results holds the boundary sets returned by successive calls.
	Results [][]vad.Boundary

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call

	next int
}

var _ vad.Detector = (*Detector)(nil)

// DetectWindow implements vad.Detector.
func (d *Detector) DetectWindow(_ context.Context, window []byte, windowMs int, _ vad.Cache, offsetMs int) ([]vad.Boundary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Calls = append(d.Calls, Call{Window: window, WindowMs: windowMs, OffsetMs: offsetMs})
	if d.Err != nil {
		return nil, d.Err
	}
	if d.next >= len(d.Results) {
		return nil, nil
	}
	res := d.Results[d.next]
	d.next++
	return res, nil
}
