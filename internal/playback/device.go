// Package playback owns spoken-response audio output: buffering incoming
// PCM chunks from the recognition backend, draining them to the output
// device, auto-gaining for loudness consistency, and finalizing or
// cancelling a turn as one coordinated unit.
package playback

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// Device is the output sink a Player writes PCM to. Enqueue appends audio
// to play; Clear drops whatever is buffered (used by Cancel).
type Device interface {
	Enqueue(pcm []byte)
	Clear()
	Close() error
}

// MalgoDevice streams to the default output device via a duplex-free
// playback-only malgo device, using the same buffer-behind-mutex +
// silence-fill callback shape as a capture/playback duplex device, just
// without the capture side.
type MalgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	buffer []byte
}

// NewMalgoDevice opens a mono S16 playback device at sampleRate.
func NewMalgoDevice(sampleRate uint32) (*MalgoDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	d := &MalgoDevice{ctx: mctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, err
	}
	d.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, err
	}

	return d, nil
}

func (d *MalgoDevice) onSamples(pOutput, _ []byte, _ uint32) {
	d.mu.Lock()
	n := copy(pOutput, d.buffer)
	d.buffer = d.buffer[n:]
	d.mu.Unlock()

	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
}

// Enqueue appends pcm to the playback buffer.
func (d *MalgoDevice) Enqueue(pcm []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = append(d.buffer, pcm...)
}

// Clear drops whatever is buffered but not yet played.
func (d *MalgoDevice) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffer = nil
}

// Close tears down the device and its audio context.
func (d *MalgoDevice) Close() error {
	if d.device != nil {
		d.device.Uninit()
	}
	if d.ctx != nil {
		d.ctx.Uninit()
	}
	return nil
}
