package callrelay

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"input_channels"`
	MaxOutputChannels int     `json:"output_channels"`
	DefaultSampleRate float64 `json:"default_samplerate"`
}

// DeviceRegistry holds a snapshot of the host's audio devices, taken once at
// startup and read-only thereafter.
type DeviceRegistry struct {
	devices       []AudioDevice
	defaultInput  int // index into devices, -1 if none
	defaultOutput int
	logger        *RelayLogger
}

// NewDeviceRegistry initializes PortAudio and snapshots the device list.
// Call Close when the process shuts down.
func NewDeviceRegistry() (*DeviceRegistry, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, WrapError(err, "failed to initialize PortAudio", ErrCodeDevice)
	}

	reg := &DeviceRegistry{
		defaultInput:  -1,
		defaultOutput: -1,
		logger:        GetGlobalLogger().WithComponent("DeviceRegistry"),
	}

	defaultIn, err := portaudio.DefaultInputDevice()
	if err != nil {
		reg.logger.WithError(err).Warn("No default input device")
	}
	defaultOut, err := portaudio.DefaultOutputDevice()
	if err != nil {
		reg.logger.WithError(err).Warn("No default output device")
	}

	infos, err := portaudio.Devices()
	if err != nil {
		portaudio.Terminate()
		return nil, WrapError(err, "failed to enumerate audio devices", ErrCodeDevice)
	}

	for i, info := range infos {
		reg.devices = append(reg.devices, AudioDevice{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
		})
		if defaultIn != nil && info == defaultIn {
			reg.defaultInput = i
		}
		if defaultOut != nil && info == defaultOut {
			reg.defaultOutput = i
		}
	}

	reg.logger.WithField("device_count", len(reg.devices)).Info("Device registry initialized")
	return reg, nil
}

// newDeviceRegistryFrom builds a registry from a fixed device list. Used by
// tests; production code goes through NewDeviceRegistry.
func newDeviceRegistryFrom(devices []AudioDevice, defaultInput, defaultOutput int) *DeviceRegistry {
	return &DeviceRegistry{
		devices:       devices,
		defaultInput:  defaultInput,
		defaultOutput: defaultOutput,
		logger:        GetGlobalLogger().WithComponent("DeviceRegistry"),
	}
}

// Close releases PortAudio.
func (r *DeviceRegistry) Close() {
	if err := portaudio.Terminate(); err != nil {
		r.logger.WithError(err).Error("Failed to terminate PortAudio")
	}
}

// Devices returns a copy of the device snapshot.
func (r *DeviceRegistry) Devices() []AudioDevice {
	devices := make([]AudioDevice, len(r.devices))
	copy(devices, r.devices)
	return devices
}

// FindInput resolves a device name hint to an input device index. Matching is
// a case-insensitive substring scan in enumeration order; the first device
// with input channels wins. A miss (or empty hint) falls back to the system
// default; fallback reports whether that happened on a non-empty hint.
func (r *DeviceRegistry) FindInput(name string) (index int, fallback bool) {
	return r.find(name, true)
}

// FindOutput is FindInput for output devices.
func (r *DeviceRegistry) FindOutput(name string) (index int, fallback bool) {
	return r.find(name, false)
}

func (r *DeviceRegistry) find(name string, input bool) (int, bool) {
	def := r.defaultOutput
	kind := "output"
	if input {
		def = r.defaultInput
		kind = "input"
	}

	if name == "" {
		if def >= 0 {
			r.logger.Infof("Using system default %s: %s (index %d)", kind, r.devices[def].Name, def)
		}
		return def, false
	}

	needle := strings.ToLower(name)
	for _, dev := range r.devices {
		if !strings.Contains(strings.ToLower(dev.Name), needle) {
			continue
		}
		if input && dev.MaxInputChannels > 0 {
			r.logger.Infof("Found %s device '%s' at index %d", kind, dev.Name, dev.Index)
			return dev.Index, false
		}
		if !input && dev.MaxOutputChannels > 0 {
			r.logger.Infof("Found %s device '%s' at index %d", kind, dev.Name, dev.Index)
			return dev.Index, false
		}
	}

	r.logger.Warnf("%s device '%s' not found, using system default", kind, name)
	return def, true
}

// DeviceByIndex returns the snapshot entry for an index.
func (r *DeviceRegistry) DeviceByIndex(index int) (*AudioDevice, error) {
	for _, dev := range r.devices {
		if dev.Index == index {
			d := dev
			return &d, nil
		}
	}
	return nil, NewRelayError(fmt.Sprintf("device with index %d not found", index), ErrCodeDeviceNotFound)
}

// LogInventory logs every usable device, mirroring the startup banner of the
// relay service.
func (r *DeviceRegistry) LogInventory() {
	for _, dev := range r.devices {
		if dev.MaxInputChannels == 0 && dev.MaxOutputChannels == 0 {
			continue
		}
		r.logger.Infof("  [%d] %s: in=%d, out=%d", dev.Index, dev.Name, dev.MaxInputChannels, dev.MaxOutputChannels)
	}
}
