//go:build linux

// Package mpv owns libmpv decoder handles and their OpenGL render contexts.
// One Player is one decode pipeline; the engine may point several outputs at
// the same Player through the shared-decoder registry.
package mpv

/*
#cgo pkg-config: mpv
#cgo LDFLAGS: -lEGL

#include <stdlib.h>
#include <stdint.h>
#include <unistd.h>
#include <EGL/egl.h>
#include <mpv/client.h>
#include <mpv/render_gl.h>

// GL symbols are resolved through EGL so mpv renders on the same driver as
// the session's context.
static void *wayvid_get_proc_address(void *ctx, const char *name) {
	return (void *)eglGetProcAddress(name);
}

// Both callbacks fire on mpv-internal threads; they only poke an eventfd the
// engine polls.
static void wayvid_wakeup(void *d) {
	uint64_t v = 1;
	ssize_t r = write((int)(intptr_t)d, &v, sizeof v);
	(void)r;
}

static mpv_render_context *wayvid_render_init(mpv_handle *h, char **err_out) {
	mpv_opengl_init_params gl_params = {
		.get_proc_address = wayvid_get_proc_address,
	};
	int advanced = 1;
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_API_TYPE, MPV_RENDER_API_TYPE_OPENGL},
		{MPV_RENDER_PARAM_OPENGL_INIT_PARAMS, &gl_params},
		{MPV_RENDER_PARAM_ADVANCED_CONTROL, &advanced},
		{0}
	};
	mpv_render_context *rctx = NULL;
	int rc = mpv_render_context_create(&rctx, h, params);
	if (rc < 0) {
		*err_out = (char *)mpv_error_string(rc);
		return NULL;
	}
	return rctx;
}

static void wayvid_set_callbacks(mpv_handle *h, mpv_render_context *rctx,
		int event_fd, int render_fd) {
	mpv_set_wakeup_callback(h, wayvid_wakeup, (void *)(intptr_t)event_fd);
	mpv_render_context_set_update_callback(rctx, wayvid_wakeup,
		(void *)(intptr_t)render_fd);
}

static int wayvid_render(mpv_render_context *rctx, int fbo, int w, int h) {
	mpv_opengl_fbo fbo_params = {
		.fbo = fbo,
		.w = w,
		.h = h,
	};
	int flip_y = 1;
	mpv_render_param params[] = {
		{MPV_RENDER_PARAM_OPENGL_FBO, &fbo_params},
		{MPV_RENDER_PARAM_FLIP_Y, &flip_y},
		{0}
	};
	return mpv_render_context_render(rctx, params);
}
*/
import "C"

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/tuxx/wayvid/internal/types"
)

// Demuxer cache caps. Streaming sources get the larger forward cache.
const (
	fileCacheBytes      = 50 * 1024 * 1024
	streamingCacheBytes = 100 * 1024 * 1024
	backCacheBytes      = 10 * 1024 * 1024
)

// Error is a typed libmpv failure.
type Error struct {
	Call string
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpv: %s: %s", e.Call, e.Msg)
}

func mpvErr(call string, code C.int) error {
	if code >= 0 {
		return nil
	}
	return &Error{Call: call, Code: int(code), Msg: C.GoString(C.mpv_error_string(code))}
}

// Options configures a new Player.
type Options struct {
	Loop        bool
	Hwdec       types.HwdecMode
	StartTime   float64
	Mute        bool
	Volume      float64
	Rate        float64
	PanscanFill bool
	VideoID     int
}

// Player is one libmpv handle plus its OpenGL render context.
type Player struct {
	handle *C.mpv_handle
	render *C.mpv_render_context

	// eventFd wakes the engine for client events, renderFd for new frames.
	eventFd  int
	renderFd int

	mu        sync.Mutex
	source    types.VideoSource
	dims      *[2]int32
	destroyed bool

	// OnFileLoaded fires from ProcessEvents when a (re)loaded source is ready.
	OnFileLoaded func()
	// OnEndFile fires on decoder-reported end or failure.
	OnEndFile func(errCode int)
}

// New creates and initialises a decoder handle. The render context is built
// separately by InitRender, once the session's EGL context exists; Render
// fails until then.
func New(opts Options) (*Player, error) {
	handle := C.mpv_create()
	if handle == nil {
		return nil, &Error{Call: "mpv_create", Msg: "allocation failed"}
	}

	p := &Player{handle: handle, eventFd: -1, renderFd: -1}

	set := func(name, value string) error {
		cname, cvalue := C.CString(name), C.CString(value)
		defer C.free(unsafe.Pointer(cname))
		defer C.free(unsafe.Pointer(cvalue))
		return mpvErr("set option "+name, C.mpv_set_option_string(handle, cname, cvalue))
	}

	loop := "no"
	if opts.Loop {
		loop = "inf"
	}
	volume := opts.Volume
	if volume <= 0 {
		volume = 1.0
	}
	rate := opts.Rate
	if rate == 0 {
		rate = 1.0
	}

	audio := "no"
	if !opts.Mute {
		audio = "auto"
	}
	options := [][2]string{
		{"video", "auto"},
		{"audio", audio},
		{"terminal", "no"},
		{"input-default-bindings", "no"},
		{"osc", "no"},
		{"loop-file", loop},
		{"hwdec", hwdecOption(opts.Hwdec)},
		{"mute", boolOption(opts.Mute)},
		{"volume", strconv.FormatFloat(volume*100, 'f', 0, 64)},
		{"speed", strconv.FormatFloat(rate, 'f', 2, 64)},
		{"vd-lavc-dr", "yes"},
		{"demuxer-max-bytes", strconv.Itoa(fileCacheBytes)},
		{"demuxer-max-back-bytes", strconv.Itoa(backCacheBytes)},
	}
	if opts.StartTime > 0 {
		options = append(options, [2]string{"start", strconv.FormatFloat(opts.StartTime, 'f', 2, 64)})
	}
	if opts.PanscanFill {
		options = append(options, [2]string{"panscan", "1.0"})
	}
	if opts.VideoID > 0 {
		options = append(options, [2]string{"vid", strconv.Itoa(opts.VideoID)})
	}

	for _, kv := range options {
		if err := set(kv[0], kv[1]); err != nil {
			C.mpv_destroy(handle)
			return nil, err
		}
	}

	if err := mpvErr("mpv_initialize", C.mpv_initialize(handle)); err != nil {
		C.mpv_destroy(handle)
		return nil, err
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		C.mpv_terminate_destroy(handle)
		return nil, fmt.Errorf("mpv eventfd: %w", err)
	}
	renderFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(eventFd)
		C.mpv_terminate_destroy(handle)
		return nil, fmt.Errorf("mpv render eventfd: %w", err)
	}
	p.eventFd = eventFd
	p.renderFd = renderFd
	return p, nil
}

func hwdecOption(mode types.HwdecMode) string {
	switch mode {
	case types.HwdecOff:
		return "no"
	case types.HwdecForce:
		return "auto-unsafe"
	default:
		return "auto-safe"
	}
}

func boolOption(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// EventFd is polled by the engine for client events; readable means call
// ProcessEvents.
func (p *Player) EventFd() int { return p.eventFd }

// RenderFd is polled by the engine for new frames; readable means a frame may
// be pending.
func (p *Player) RenderFd() int { return p.renderFd }

// InitRender builds the OpenGL render context. The caller's EGL context must
// be current on this thread.
func (p *Player) InitRender() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.render != nil {
		return nil
	}
	var cerr *C.char
	render := C.wayvid_render_init(p.handle, &cerr)
	if render == nil {
		return &Error{Call: "mpv_render_context_create", Msg: C.GoString(cerr)}
	}
	p.render = render
	C.wayvid_set_callbacks(p.handle, p.render, C.int(p.eventFd), C.int(p.renderFd))
	return nil
}

// HasRender reports whether the render context exists yet.
func (p *Player) HasRender() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.render != nil
}

// Load starts playback of a source on this handle.
func (p *Player) Load(source types.VideoSource) error {
	return p.load(source)
}

// LoadNew atomically replaces the playing source without touching the render
// context; used for flicker-free hot swaps. loadfile in replace mode keeps
// decoding the old source until the new one produces frames.
func (p *Player) LoadNew(source types.VideoSource) error {
	return p.load(source)
}

func (p *Player) load(source types.VideoSource) error {
	p.mu.Lock()
	p.source = source
	p.dims = nil
	p.mu.Unlock()

	cacheBytes := fileCacheBytes
	if source.IsStreaming() {
		cacheBytes = streamingCacheBytes
	}
	if err := p.SetPropertyString("demuxer-max-bytes", strconv.Itoa(cacheBytes)); err != nil {
		log.Debug().Err(err).Msg("demuxer cache resize failed")
	}
	if source.Kind == types.SourceImageSequence && source.FPS > 0 {
		if err := p.SetPropertyString("mf-fps", strconv.FormatFloat(source.FPS, 'f', -1, 64)); err != nil {
			log.Debug().Err(err).Msg("mf-fps set failed")
		}
	}

	target := C.CString(source.MpvTarget())
	mode := C.CString("replace")
	cmd := C.CString("loadfile")
	defer C.free(unsafe.Pointer(target))
	defer C.free(unsafe.Pointer(mode))
	defer C.free(unsafe.Pointer(cmd))

	args := []*C.char{cmd, target, mode, nil}
	return mpvErr("loadfile", C.mpv_command(p.handle, &args[0]))
}

// Render issues one OpenGL render of the current frame into fbo. The
// session's EGL context must be current.
func (p *Player) Render(fbo int32, width, height int32) error {
	p.mu.Lock()
	render := p.render
	p.mu.Unlock()
	if render == nil {
		return &Error{Call: "render", Msg: "render context not initialised"}
	}
	return mpvErr("mpv_render_context_render",
		C.wayvid_render(render, C.int(fbo), C.int(width), C.int(height)))
}

// UpdateFlags polls the render context; reports whether a new frame is
// available. Also drains the render eventfd.
func (p *Player) UpdateFlags() (newFrame bool) {
	var buf [8]byte
	unix.Read(p.renderFd, buf[:])

	p.mu.Lock()
	render := p.render
	p.mu.Unlock()
	if render == nil {
		return false
	}
	flags := C.mpv_render_context_update(render)
	return uint64(flags)&uint64(C.MPV_RENDER_UPDATE_FRAME) != 0
}

// ReportSwap tells the render context the frame hit the screen, letting mpv's
// timing model converge.
func (p *Player) ReportSwap() {
	p.mu.Lock()
	render := p.render
	p.mu.Unlock()
	if render != nil {
		C.mpv_render_context_report_swap(render)
	}
}

// ProcessEvents drains the client event queue. Called by the engine when
// EventFd is readable.
func (p *Player) ProcessEvents() {
	var buf [8]byte
	unix.Read(p.eventFd, buf[:])

	for {
		ev := C.mpv_wait_event(p.handle, 0)
		switch ev.event_id {
		case C.MPV_EVENT_NONE:
			return
		case C.MPV_EVENT_FILE_LOADED:
			p.mu.Lock()
			p.dims = nil
			cb := p.OnFileLoaded
			p.mu.Unlock()
			if cb != nil {
				cb()
			}
		case C.MPV_EVENT_END_FILE:
			end := (*C.mpv_event_end_file)(ev.data)
			code := 0
			if end != nil && end.reason == C.MPV_END_FILE_REASON_ERROR {
				code = int(end.error)
			}
			p.mu.Lock()
			cb := p.OnEndFile
			p.mu.Unlock()
			if cb != nil && code != 0 {
				cb(code)
			}
		}
	}
}

// Pause suspends decoding.
func (p *Player) Pause() error { return p.setFlag("pause", true) }

// Resume restarts decoding.
func (p *Player) Resume() error { return p.setFlag("pause", false) }

// IsPaused queries the pause flag.
func (p *Player) IsPaused() bool {
	v, err := p.getFlag("pause")
	return err == nil && v
}

// Seek jumps to an absolute position in seconds.
func (p *Player) Seek(t float64) error {
	pos := C.CString(strconv.FormatFloat(t, 'f', 3, 64))
	mode := C.CString("absolute")
	cmd := C.CString("seek")
	defer C.free(unsafe.Pointer(pos))
	defer C.free(unsafe.Pointer(mode))
	defer C.free(unsafe.Pointer(cmd))
	args := []*C.char{cmd, pos, mode, nil}
	return mpvErr("seek", C.mpv_command(p.handle, &args[0]))
}

// SetRate sets playback speed, clamped to mpv's useful range.
func (p *Player) SetRate(rate float64) error {
	if rate < 0.25 {
		rate = 0.25
	}
	if rate > 4.0 {
		rate = 4.0
	}
	return p.setDouble("speed", rate)
}

// SetVolume sets volume from the engine's 0..1 scale.
func (p *Player) SetVolume(v float64) error {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return p.setDouble("volume", v*100)
}

// SetMute sets the mute flag.
func (p *Player) SetMute(mute bool) error { return p.setFlag("mute", mute) }

// ToggleMute flips the mute flag and returns the new state.
func (p *Player) ToggleMute() (bool, error) {
	muted, err := p.getFlag("mute")
	if err != nil {
		return false, err
	}
	if err := p.setFlag("mute", !muted); err != nil {
		return muted, err
	}
	return !muted, nil
}

// Volume reads the current volume on the engine's 0..1 scale.
func (p *Player) Volume() float64 {
	v, err := p.getDouble("volume")
	if err != nil {
		return 0
	}
	return v / 100
}

// VideoDimensions returns the source size once known. The result is cached
// until the source changes.
func (p *Player) VideoDimensions() (int32, int32, bool) {
	p.mu.Lock()
	if p.dims != nil {
		w, h := p.dims[0], p.dims[1]
		p.mu.Unlock()
		return w, h, true
	}
	p.mu.Unlock()

	w, errW := p.getInt("video-params/w")
	h, errH := p.getInt("video-params/h")
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}

	p.mu.Lock()
	p.dims = &[2]int32{int32(w), int32(h)}
	p.mu.Unlock()
	return int32(w), int32(h), true
}

// Source returns the currently loaded source.
func (p *Player) Source() types.VideoSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Destroy frees the render context and the handle. The session's EGL context
// must be current for the render-context teardown.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	render := p.render
	p.render = nil
	p.mu.Unlock()

	if render != nil {
		C.mpv_render_context_free(render)
	}
	C.mpv_terminate_destroy(p.handle)
	if p.eventFd >= 0 {
		unix.Close(p.eventFd)
	}
	if p.renderFd >= 0 {
		unix.Close(p.renderFd)
	}
}

func (p *Player) setFlag(name string, value bool) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var flag C.int
	if value {
		flag = 1
	}
	return mpvErr("set "+name,
		C.mpv_set_property(p.handle, cname, C.MPV_FORMAT_FLAG, unsafe.Pointer(&flag)))
}

func (p *Player) getFlag(name string) (bool, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var flag C.int
	if err := mpvErr("get "+name,
		C.mpv_get_property(p.handle, cname, C.MPV_FORMAT_FLAG, unsafe.Pointer(&flag))); err != nil {
		return false, err
	}
	return flag != 0, nil
}

func (p *Player) setDouble(name string, value float64) error {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	cvalue := C.double(value)
	return mpvErr("set "+name,
		C.mpv_set_property(p.handle, cname, C.MPV_FORMAT_DOUBLE, unsafe.Pointer(&cvalue)))
}

func (p *Player) getDouble(name string) (float64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var value C.double
	if err := mpvErr("get "+name,
		C.mpv_get_property(p.handle, cname, C.MPV_FORMAT_DOUBLE, unsafe.Pointer(&value))); err != nil {
		return 0, err
	}
	return float64(value), nil
}

func (p *Player) getInt(name string) (int64, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var value C.int64_t
	if err := mpvErr("get "+name,
		C.mpv_get_property(p.handle, cname, C.MPV_FORMAT_INT64, unsafe.Pointer(&value))); err != nil {
		return 0, err
	}
	return int64(value), nil
}

// SetPropertyString sets an arbitrary string property.
func (p *Player) SetPropertyString(name, value string) error {
	cname, cvalue := C.CString(name), C.CString(value)
	defer C.free(unsafe.Pointer(cname))
	defer C.free(unsafe.Pointer(cvalue))
	return mpvErr("set "+name, C.mpv_set_property_string(p.handle, cname, cvalue))
}

// GetPropertyString reads an arbitrary string property.
func (p *Player) GetPropertyString(name string) (string, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	cvalue := C.mpv_get_property_string(p.handle, cname)
	if cvalue == nil {
		return "", &Error{Call: "get " + name, Msg: "property unavailable"}
	}
	defer C.mpv_free(unsafe.Pointer(cvalue))
	return C.GoString(cvalue), nil
}
