// Package conf contains the struct that holds the configuration of the daemon.
package conf

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ocamdaemon/onvifd/internal/conf/env"
	"github.com/ocamdaemon/onvifd/internal/logger"
)

// ErrUserNotFound is returned when a user table lookup misses.
var ErrUserNotFound = fmt.Errorf("user not found")

const maxStreamProfiles = 4

const maxUsers = 8

func firstThatExists(paths []string) string {
	for _, pa := range paths {
		if _, err := os.Stat(pa); err == nil {
			return pa
		}
	}
	return ""
}

// Device holds the identity fields reported by GetDeviceInformation.
type Device struct {
	Manufacturer    string `toml:"manufacturer"`
	Model           string `toml:"model"`
	FirmwareVersion string `toml:"firmware_version"`
	SerialNumber    string `toml:"serial_number"`
	HardwareID      string `toml:"hardware_id"`
}

// Network holds the interface address the daemon advertises to clients.
type Network struct {
	DeviceIP string `toml:"device_ip"`
}

// Scopes holds the ONVIF scope strings advertised in WS-Discovery.
type Scopes struct {
	Name     string `toml:"name"`
	Location string `toml:"location"`
}

// User is one row of the onvif.username/password-adjacent user table
// (user_1..user_8), distinct from the primary onvif.username/password pair.
type User struct {
	Name    string     `toml:"name"`
	Pass    Credential `toml:"pass"`
	IsAdmin bool       `toml:"is_admin"`
}

// StreamProfile is one of the four built-in/creatable Media profiles.
type StreamProfile struct {
	Token     string `toml:"token"`
	Name      string `toml:"name"`
	Fixed     bool   `toml:"fixed"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
	FrameRate int    `toml:"frame_rate"`
	Bitrate   int    `toml:"bitrate"`
	Encoding  string `toml:"encoding"`
}

// Imaging holds the ONVIF-level (0..100, hue -180..180) defaults applied at
// startup, before any SetImagingSettings call.
type Imaging struct {
	Brightness int `toml:"brightness"`
	Contrast   int `toml:"contrast"`
	Saturation int `toml:"saturation"`
	Sharpness  int `toml:"sharpness"`
	Hue        int `toml:"hue"`
}

// AutoDayNight holds the lux thresholds used by the hardware facade to
// switch IR-cut state; the core only stores and reports them.
type AutoDayNight struct {
	Enabled        bool `toml:"enabled"`
	ToDayThreshold int  `toml:"to_day_threshold"`
	ToNightThreshold int `toml:"to_night_threshold"`
}

// Conf is the daemon configuration, keyed into sections the way the Config
// Facade is specified: device, network, onvif, imaging, auto_daynight,
// stream_profile_1..4, user_1..8.
//
// WARNING: avoid slices of non-pointer structs where field-level env
// overrides are needed; StreamProfiles/Users are fixed-length arrays for
// exactly this reason.
type Conf struct {
	// General / ambient
	LogLevel        logger.Level         `toml:"log_level"`
	LogDestinations logger.Destinations  `toml:"log_destinations"`
	LogFile         string               `toml:"log_file"`
	LogJSON         bool                 `toml:"log_json"`

	// onvif section
	OnvifHTTPPort int        `toml:"onvif_http_port"`
	OnvifUsername Credential `toml:"onvif_username"`
	OnvifPassword Credential `toml:"onvif_password"`
	AuthEnabled   bool       `toml:"auth_enabled"`

	Device  Device  `toml:"device"`
	Network Network `toml:"network"`
	Scopes  Scopes  `toml:"scopes"`

	StreamProfiles [maxStreamProfiles]StreamProfile `toml:"stream_profiles"`
	Users          [maxUsers]User                   `toml:"users"`

	Imaging      Imaging      `toml:"imaging"`
	AutoDayNight AutoDayNight `toml:"auto_daynight"`

	// internal bookkeeping, not persisted
	mutex      sync.RWMutex   `toml:"-"`
	gen        atomic.Uint64  `toml:"-"`
	path       string         `toml:"-"`
	pending    map[confKey]struct{}
	flushTimer *time.Timer
}

type confKey struct {
	section string
	key     string
}

func (conf *Conf) setDefaults() {
	conf.LogLevel = logger.Info
	conf.LogDestinations = logger.Destinations{logger.DestinationStdout}
	conf.LogFile = "onvifd.log"
	conf.LogJSON = false

	conf.OnvifHTTPPort = 8080
	conf.AuthEnabled = true

	conf.Device = Device{
		Manufacturer:    "Anyka",
		Model:           "AK3918 Camera",
		FirmwareVersion: "1.0.0",
		SerialNumber:    "AK3918-001",
		HardwareID:      "1.0",
	}

	conf.Network = Network{DeviceIP: "0.0.0.0"}

	conf.Scopes = Scopes{Name: "onvifd", Location: "unknown"}

	for i := range conf.StreamProfiles {
		conf.StreamProfiles[i] = StreamProfile{
			Token:     fmt.Sprintf("Profile_%d", i+1),
			Name:      fmt.Sprintf("Profile %d", i+1),
			Fixed:     true,
			Width:     1920,
			Height:    1080,
			FrameRate: 25,
			Bitrate:   4096,
			Encoding:  "H264",
		}
	}

	conf.Imaging = Imaging{
		Brightness: 50,
		Contrast:   50,
		Saturation: 50,
		Sharpness:  50,
		Hue:        0,
	}

	conf.AutoDayNight = AutoDayNight{
		Enabled:          true,
		ToDayThreshold:   80,
		ToNightThreshold: 20,
	}

	conf.pending = make(map[confKey]struct{})
}

// Load reads the configuration from fpath (or the first existing path in
// defaultConfPaths when fpath is empty), applies RTSP_/ONVIFD_ env
// overrides on top, validates the result and returns it.
func Load(fpath string, defaultConfPaths []string) (*Conf, string, error) {
	conf := &Conf{}
	conf.setDefaults()

	fpath, err := conf.loadFromFile(fpath, defaultConfPaths)
	if err != nil {
		return nil, "", err
	}

	if err := env.Load("ONVIFD", conf); err != nil {
		return nil, "", err
	}

	if err := conf.Validate(); err != nil {
		return nil, "", err
	}

	conf.path = fpath
	conf.pending = make(map[confKey]struct{})

	return conf, fpath, nil
}

func (conf *Conf) loadFromFile(fpath string, defaultConfPaths []string) (string, error) {
	if fpath == "" {
		fpath = firstThatExists(defaultConfPaths)

		// when the configuration file is not explicitly set, it is optional.
		if fpath == "" {
			return "", nil
		}
	}

	byts, err := os.ReadFile(fpath)
	if err != nil {
		return "", err
	}

	if err := toml.Unmarshal(byts, conf); err != nil {
		return "", fmt.Errorf("failed to parse config file: %w", err)
	}

	return fpath, nil
}

// Save persists the configuration to its source path in TOML form. It is
// the synchronous counterpart to the debounced queue used by Set.
func (conf *Conf) Save() error {
	conf.mutex.RLock()
	path := conf.path
	conf.mutex.RUnlock()

	if path == "" {
		return nil
	}

	byts, err := toml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(path, byts, 0o644)
}

// Validate checks the configuration for errors.
func (conf *Conf) Validate() error {
	if conf.OnvifHTTPPort <= 0 || conf.OnvifHTTPPort > 65535 {
		return fmt.Errorf("invalid onvif_http_port: %d", conf.OnvifHTTPPort)
	}

	seen := make(map[string]struct{})
	for _, p := range conf.StreamProfiles {
		if p.Token == "" {
			continue
		}
		if _, ok := seen[p.Token]; ok {
			return fmt.Errorf("duplicate stream profile token: %s", p.Token)
		}
		seen[p.Token] = struct{}{}
	}

	for i := range conf.Imaging.imagingFields() {
		v := conf.Imaging.imagingFields()[i]
		if v < 0 || v > 100 {
			return fmt.Errorf("imaging parameter out of range [0,100]: %d", v)
		}
	}
	if conf.Imaging.Hue < -180 || conf.Imaging.Hue > 180 {
		return fmt.Errorf("imaging hue out of range [-180,180]: %d", conf.Imaging.Hue)
	}

	return nil
}

func (i Imaging) imagingFields() []int {
	return []int{i.Brightness, i.Contrast, i.Saturation, i.Sharpness}
}

// Generation returns the monotonically increasing counter bumped on every
// successful Set, used by request handlers to detect a config change
// mid-request without holding the config lock.
func (conf *Conf) Generation() uint64 {
	return conf.gen.Load()
}

// Snapshot returns an immutable deep copy of the entire config tree,
// taken via a marshal round trip so the copy shares no mutable state
// (mutex, pending-write set) with the original, the way the teacher's
// Conf.Clone round-trips through JSON for the same reason.
func (conf *Conf) Snapshot() *Conf {
	conf.mutex.RLock()
	byts, err := toml.Marshal(conf)
	conf.mutex.RUnlock()
	if err != nil {
		panic(err)
	}

	cp := &Conf{}
	if err := toml.Unmarshal(byts, cp); err != nil {
		panic(err)
	}
	return cp
}

// User looks up a user-table entry by name.
func (conf *Conf) User(name string) (User, error) {
	conf.mutex.RLock()
	defer conf.mutex.RUnlock()

	for _, u := range conf.Users {
		if u.Name == name {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// SetScopes updates the advertised ONVIF scopes and queues persistence.
func (conf *Conf) SetScopes(name, location string) {
	conf.mutex.Lock()
	conf.Scopes = Scopes{Name: name, Location: location}
	conf.mutex.Unlock()

	conf.markDirty("scopes", "name")
	conf.markDirty("scopes", "location")
	conf.bump()
}

// SetImaging updates the imaging defaults and queues persistence.
func (conf *Conf) SetImaging(img Imaging) {
	conf.mutex.Lock()
	conf.Imaging = img
	conf.mutex.Unlock()

	conf.markDirty("imaging", "brightness")
	conf.markDirty("imaging", "contrast")
	conf.markDirty("imaging", "saturation")
	conf.markDirty("imaging", "sharpness")
	conf.markDirty("imaging", "hue")
	conf.bump()
}

// ReplaceUsers overwrites the entire user table and queues persistence; used
// by CreateUsers/DeleteUsers/SetUser, which all operate on a Snapshot of
// the table before writing it back in one step.
func (conf *Conf) ReplaceUsers(users [maxUsers]User) {
	conf.mutex.Lock()
	conf.Users = users
	conf.mutex.Unlock()

	conf.markDirty("users", "table")
	conf.bump()
}

// ReplaceStreamProfiles overwrites the entire stream profile table and
// queues persistence; used by CreateProfile/DeleteProfile/
// SetVideoEncoderConfiguration, which all operate on a Snapshot of the
// table before writing it back in one step.
func (conf *Conf) ReplaceStreamProfiles(profiles [maxStreamProfiles]StreamProfile) {
	conf.mutex.Lock()
	conf.StreamProfiles = profiles
	conf.mutex.Unlock()

	conf.markDirty("stream_profiles", "table")
	conf.bump()
}

// ReloadFromDisk re-reads the configuration file at conf.path, replacing
// every persisted field in place so existing holders of this *Conf observe
// the new values on their next read. It is the counterpart to Save used by
// confwatcher when the file changes outside the daemon; it leaves the
// pending-write queue untouched and does not re-run env overrides, since an
// external edit should reflect exactly what is on disk.
func (conf *Conf) ReloadFromDisk() error {
	conf.mutex.RLock()
	path := conf.path
	conf.mutex.RUnlock()

	if path == "" {
		return nil
	}

	fresh := &Conf{}
	fresh.setDefaults()

	byts, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(byts, fresh); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := fresh.Validate(); err != nil {
		return err
	}

	conf.mutex.Lock()
	conf.LogLevel = fresh.LogLevel
	conf.LogDestinations = fresh.LogDestinations
	conf.LogFile = fresh.LogFile
	conf.LogJSON = fresh.LogJSON
	conf.OnvifHTTPPort = fresh.OnvifHTTPPort
	conf.OnvifUsername = fresh.OnvifUsername
	conf.OnvifPassword = fresh.OnvifPassword
	conf.AuthEnabled = fresh.AuthEnabled
	conf.Device = fresh.Device
	conf.Network = fresh.Network
	conf.Scopes = fresh.Scopes
	conf.StreamProfiles = fresh.StreamProfiles
	conf.Users = fresh.Users
	conf.Imaging = fresh.Imaging
	conf.AutoDayNight = fresh.AutoDayNight
	conf.mutex.Unlock()

	conf.bump()
	return nil
}

func (conf *Conf) bump() {
	conf.gen.Add(1)
}

// markDirty enqueues a (section,key) pair in the debounced persistence
// queue; a timer flushes the whole queue to disk shortly after the last
// write in a burst, coalescing rapid successive Set calls into one write.
func (conf *Conf) markDirty(section, key string) {
	conf.mutex.Lock()
	defer conf.mutex.Unlock()

	if conf.pending == nil {
		conf.pending = make(map[confKey]struct{})
	}
	conf.pending[confKey{section: section, key: key}] = struct{}{}

	if conf.flushTimer != nil {
		conf.flushTimer.Stop()
	}
	conf.flushTimer = time.AfterFunc(200*time.Millisecond, func() {
		_ = conf.Save()
		conf.mutex.Lock()
		conf.pending = make(map[confKey]struct{})
		conf.mutex.Unlock()
	})
}

// PendingKeys returns the (section,key) pairs awaiting persistence, sorted
// for deterministic inspection in tests.
func (conf *Conf) PendingKeys() []string {
	conf.mutex.RLock()
	defer conf.mutex.RUnlock()

	out := make([]string, 0, len(conf.pending))
	for k := range conf.pending {
		out = append(out, k.section+"."+k.key)
	}
	sort.Strings(out)
	return out
}
