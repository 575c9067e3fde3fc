// Package hwfacade defines the Hardware Facade (spec §6.1): the boundary
// between the ONVIF request pipeline and the platform's video capture, PTZ
// motor, IR-LED, and VPSS image-effect drivers. The core never talks to
// hardware directly; it only ever holds a Facade.
//
// The reference implementation in this package is a software simulator —
// it tracks state in memory so the daemon is runnable and testable without
// real capture hardware attached. A production build swaps it for a
// vendor-SDK-backed implementation satisfying the same interface.
package hwfacade

import (
	"sync"

	"github.com/ocamdaemon/onvifd/internal/onviferr"
)

// Effect identifies a VPSS image-processing parameter.
type Effect int

// Effects, in the order the Imaging service applies them.
const (
	EffectBrightness Effect = iota
	EffectContrast
	EffectSaturation
	EffectSharpness
	EffectHue
)

// DayNightMode is the current IR-cut state.
type DayNightMode int

// Day/night modes.
const (
	ModeDay DayNightMode = iota
	ModeNight
)

// SystemInfo is the snapshot returned by GetSystemInfo.
type SystemInfo struct {
	CPUPercent    float64
	MemoryUsedMB  int
	MemoryTotalMB int
	UptimeSeconds int64
}

// PTZVector is a normalized (pan, tilt, zoom) triple in [-1, 1].
type PTZVector struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

// Facade is every operation the core requires of the platform layer.
type Facade interface {
	// VIOpen/VIClose bracket the video-input pipeline's lifetime.
	VIOpen() error
	VIClose() error

	// VPSSEffectSet applies one image-processing parameter at the given
	// platform-native level (already translated from the ONVIF 0-100/
	// -180..180 range by the Imaging service).
	VPSSEffectSet(effect Effect, level int) error

	// VISwitchDayNight toggles the IR-cut filter.
	VISwitchDayNight(mode DayNightMode) error

	// VISetFlipMirror toggles image orientation.
	VISetFlipMirror(flip, mirror bool) error

	// IRLedInit/IRLedSetMode/IRLedGetStatus manage the infrared illuminator.
	IRLedInit() error
	IRLedSetMode(auto bool) error
	IRLedGetStatus() (bool, error)

	// PTZAbsoluteMove/PTZRelativeMove/PTZContinuousMove/PTZStop drive the
	// pan-tilt-zoom motor assembly.
	PTZAbsoluteMove(position, speed PTZVector) error
	PTZRelativeMove(delta, speed PTZVector) error
	PTZContinuousMove(velocity PTZVector) error
	PTZStop() error

	// PTZSetPreset/PTZGotoPreset/PTZRemovePreset manage saved poses keyed
	// by an opaque token the Hardware Facade assigns.
	PTZSetPreset(token string, position PTZVector) error
	PTZGotoPreset(token string) error
	PTZRemovePreset(token string) error

	// GetSystemInfo reports process-wide resource usage for diagnostics.
	GetSystemInfo() (SystemInfo, error)
}

// Simulator is an in-memory Facade implementation. It never fails under
// normal operation, the way embedded drivers tend to succeed on hardware
// that is actually present; it exists so the request pipeline has
// something real to call during tests and local runs.
type Simulator struct {
	mutex sync.Mutex

	opened   bool
	dayNight DayNightMode
	flip     bool
	mirror   bool
	irAuto   bool

	position PTZVector
	presets  map[string]PTZVector
}

// NewSimulator returns a ready-to-use in-memory Facade.
func NewSimulator() *Simulator {
	return &Simulator{presets: make(map[string]PTZVector)}
}

func (s *Simulator) VIOpen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.opened = true
	return nil
}

func (s *Simulator) VIClose() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.opened = false
	return nil
}

func (s *Simulator) VPSSEffectSet(effect Effect, level int) error {
	return nil
}

func (s *Simulator) VISwitchDayNight(mode DayNightMode) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.dayNight = mode
	return nil
}

func (s *Simulator) VISetFlipMirror(flip, mirror bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.flip, s.mirror = flip, mirror
	return nil
}

func (s *Simulator) IRLedInit() error {
	return nil
}

func (s *Simulator) IRLedSetMode(auto bool) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.irAuto = auto
	return nil
}

func (s *Simulator) IRLedGetStatus() (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.irAuto, nil
}

func (s *Simulator) PTZAbsoluteMove(position, speed PTZVector) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.position = position
	return nil
}

func (s *Simulator) PTZRelativeMove(delta, speed PTZVector) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.position.Pan += delta.Pan
	s.position.Tilt += delta.Tilt
	s.position.Zoom += delta.Zoom
	return nil
}

func (s *Simulator) PTZContinuousMove(velocity PTZVector) error {
	return nil
}

func (s *Simulator) PTZStop() error {
	return nil
}

func (s *Simulator) PTZSetPreset(token string, position PTZVector) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.presets[token] = position
	return nil
}

func (s *Simulator) PTZGotoPreset(token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	pos, ok := s.presets[token]
	if !ok {
		return onviferr.NotFound("unknown PTZ preset token: %s", token)
	}
	s.position = pos
	return nil
}

func (s *Simulator) PTZRemovePreset(token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.presets[token]; !ok {
		return onviferr.NotFound("unknown PTZ preset token: %s", token)
	}
	delete(s.presets, token)
	return nil
}

func (s *Simulator) GetSystemInfo() (SystemInfo, error) {
	return SystemInfo{CPUPercent: 0, MemoryUsedMB: 0, MemoryTotalMB: 0, UptimeSeconds: 0}, nil
}
