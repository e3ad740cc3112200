package codec

import (
	"fmt"
	"sync"
)

// Registry resolves codec ids to decoder factories and carries the
// resampler, scaler, and hardware-device constructors of one binding.
type Registry struct {
	mu    sync.RWMutex
	audio map[string]AudioDecoder
	video map[string]VideoDecoder

	newResampler func(in, out AudioFormat) (Resampler, error)
	newScaler    func(spec ScaleSpec) (Scaler, error)
	newHWDevice  func(t HWDeviceType) (HWDevice, error)
}

// NewRegistry returns a registry with the native PCM decoders, the
// native resampler, and the native RGBA scaler preinstalled.
func NewRegistry() *Registry {
	r := &Registry{
		audio:        make(map[string]AudioDecoder),
		video:        make(map[string]VideoDecoder),
		newResampler: newNativeResampler,
		newScaler:    newNativeScaler,
	}
	r.RegisterAudio(PCMS16LE, pcmDecoder{codec: PCMS16LE})
	r.RegisterAudio(PCMAlaw, pcmDecoder{codec: PCMAlaw})
	r.RegisterAudio(PCMUlaw, pcmDecoder{codec: PCMUlaw})
	return r
}

// RegisterAudio installs an audio decoder for a codec id, replacing any
// previous registration.
func (r *Registry) RegisterAudio(id string, d AudioDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[id] = d
}

// RegisterVideo installs a video decoder for a codec id.
func (r *Registry) RegisterVideo(id string, d VideoDecoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video[id] = d
}

// SetResamplerFactory replaces the resampler constructor.
func (r *Registry) SetResamplerFactory(fn func(in, out AudioFormat) (Resampler, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newResampler = fn
}

// SetScalerFactory installs the scaler constructor.
func (r *Registry) SetScalerFactory(fn func(spec ScaleSpec) (Scaler, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newScaler = fn
}

// SetHWDeviceFactory installs the hardware device constructor.
func (r *Registry) SetHWDeviceFactory(fn func(t HWDeviceType) (HWDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newHWDevice = fn
}

// FindAudio returns the audio decoder for a codec id.
func (r *Registry) FindAudio(id string) (AudioDecoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.audio[id]
	if !ok {
		return nil, fmt.Errorf("%w: audio codec %q", ErrNotFound, id)
	}
	return d, nil
}

// FindVideo returns the video decoder for a codec id.
func (r *Registry) FindVideo(id string) (VideoDecoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.video[id]
	if !ok {
		return nil, fmt.Errorf("%w: video codec %q", ErrNotFound, id)
	}
	return d, nil
}

// NewResampler builds a resampler between two PCM formats.
func (r *Registry) NewResampler(in, out AudioFormat) (Resampler, error) {
	r.mu.RLock()
	fn := r.newResampler
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("codec: no resampler factory installed")
	}
	return fn(in, out)
}

// NewScaler builds a scaler for the given conversion.
func (r *Registry) NewScaler(spec ScaleSpec) (Scaler, error) {
	r.mu.RLock()
	fn := r.newScaler
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("codec: no scaler factory installed")
	}
	return fn(spec)
}

// NewHWDevice opens a hardware device context, or reports that the
// binding offers none.
func (r *Registry) NewHWDevice(t HWDeviceType) (HWDevice, error) {
	r.mu.RLock()
	fn := r.newHWDevice
	r.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("codec: no hardware device factory installed")
	}
	return fn(t)
}
