//go:build linux

// Package wayland owns the compositor connection: registry binding, output
// tracking and layer-shell surfaces. Everything here must run on the engine
// thread; libwayland objects are not shared across threads.
package wayland

// The layer-shell glue is generated from the system-installed protocol XML.
// xdg-shell is generated alongside because the layer-shell code references
// its popup interface.
//go:generate wayland-scanner client-header /usr/share/wlr-protocols/unstable/wlr-layer-shell-unstable-v1.xml wlr-layer-shell-unstable-v1-client-protocol.h
//go:generate wayland-scanner private-code /usr/share/wlr-protocols/unstable/wlr-layer-shell-unstable-v1.xml wlr-layer-shell-unstable-v1-client-protocol.c
//go:generate wayland-scanner client-header /usr/share/wayland-protocols/stable/xdg-shell/xdg-shell.xml xdg-shell-client-protocol.h
//go:generate wayland-scanner private-code /usr/share/wayland-protocols/stable/xdg-shell/xdg-shell.xml xdg-shell-client-protocol.c
//go:generate sed -i "1s;^;//go:build linux\\n\\n;" wlr-layer-shell-unstable-v1-client-protocol.c
//go:generate sed -i "1s;^;//go:build linux\\n\\n;" xdg-shell-client-protocol.c

/*
#cgo LDFLAGS: -lwayland-client

#include <stdlib.h>
#include <wayland-client.h>
#include "wayvid_wayland.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/rs/zerolog/log"

	"github.com/tuxx/wayvid/internal/types"
)

// ErrNoLayerShell is fatal at startup: without wlr-layer-shell there is no
// background layer to draw on.
var ErrNoLayerShell = errors.New("wayland: compositor lacks zwlr_layer_shell_v1")

// Output is one wl_output as accumulated from its property events. Fields are
// valid once Configured is set by the done event.
type Output struct {
	ID          uint32
	Name        string
	Description string
	Width       int32
	Height      int32
	RefreshmHz  int32
	Scale       int32
	Transform   int32
	Configured  bool

	ptr *C.struct_wl_output
}

// Info converts to the engine-facing output record.
func (o *Output) Info() types.OutputInfo {
	return types.OutputInfo{
		Name:        o.Name,
		Description: o.Description,
		Width:       o.Width,
		Height:      o.Height,
		Scale:       o.Scale,
		RefreshmHz:  o.RefreshmHz,
		Transform:   o.Transform,
		Configured:  o.Configured,
	}
}

// Conn is the engine's Wayland connection and global registry state.
type Conn struct {
	display    *C.struct_wl_display
	registry   *C.struct_wl_registry
	compositor *C.struct_wl_compositor
	shm        *C.struct_wl_shm
	layerShell *C.struct_zwlr_layer_shell_v1

	outputs map[uint32]*Output

	// OnOutputConfigured fires on every wl_output done event: first for a new
	// output, again whenever geometry, mode or scale changed.
	OnOutputConfigured func(*Output)
	// OnOutputRemoved fires on registry global removal, before the output
	// record is dropped.
	OnOutputRemoved func(*Output)
}

// The registry and output listeners carry no per-object state through
// libwayland; these package globals route callbacks back to the live Conn.
// The engine owns exactly one connection, on one thread.
var (
	activeConn    *Conn
	outputsByPtr  = make(map[*C.struct_wl_output]*Output)
	surfacesByPtr = make(map[*C.struct_zwlr_layer_surface_v1]*LayerSurface)
	framesByPtr   = make(map[*C.struct_wl_callback]*LayerSurface)
)

// Connect opens the Wayland display and binds the required globals. Fails
// fast when the layer-shell protocol is missing.
func Connect() (*Conn, error) {
	display := C.wl_display_connect(nil)
	if display == nil {
		return nil, errors.New("wayland: cannot connect to display")
	}

	conn := &Conn{
		display: display,
		outputs: make(map[uint32]*Output),
	}
	activeConn = conn

	conn.registry = C.wl_display_get_registry(display)
	if conn.registry == nil {
		conn.Close()
		return nil, errors.New("wayland: cannot get registry")
	}
	C.wayvid_wl_registry_add_listener(conn.registry)

	// One roundtrip announces the globals, a second delivers the initial
	// burst of output property events.
	if err := conn.Roundtrip(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Roundtrip(); err != nil {
		conn.Close()
		return nil, err
	}

	if conn.compositor == nil {
		conn.Close()
		return nil, errors.New("wayland: compositor lacks wl_compositor")
	}
	if conn.layerShell == nil {
		conn.Close()
		return nil, ErrNoLayerShell
	}
	return conn, nil
}

// Fd returns the connection fd for the engine's poll loop.
func (c *Conn) Fd() int {
	return int(C.wl_display_get_fd(c.display))
}

// Flush writes buffered requests. Call before blocking in poll.
func (c *Conn) Flush() {
	C.wl_display_flush(c.display)
}

// Dispatch reads and dispatches events. Call when the fd polled readable.
func (c *Conn) Dispatch() error {
	if C.wl_display_dispatch(c.display) < 0 {
		return errors.New("wayland: connection lost")
	}
	return nil
}

// DispatchPending dispatches already-queued events without reading the fd.
func (c *Conn) DispatchPending() error {
	if C.wl_display_dispatch_pending(c.display) < 0 {
		return errors.New("wayland: connection lost")
	}
	return nil
}

// Roundtrip blocks until the compositor processed all outstanding requests.
func (c *Conn) Roundtrip() error {
	if C.wl_display_roundtrip(c.display) < 0 {
		return errors.New("wayland: roundtrip failed")
	}
	return nil
}

// DisplayPtr exposes the native display for EGL initialisation.
func (c *Conn) DisplayPtr() unsafe.Pointer {
	return unsafe.Pointer(c.display)
}

// Outputs returns the configured outputs.
func (c *Conn) Outputs() []*Output {
	outs := make([]*Output, 0, len(c.outputs))
	for _, o := range c.outputs {
		if o.Configured {
			outs = append(outs, o)
		}
	}
	return outs
}

// OutputByName finds a configured output by connector name.
func (c *Conn) OutputByName(name string) *Output {
	for _, o := range c.outputs {
		if o.Configured && o.Name == name {
			return o
		}
	}
	return nil
}

// Close tears down the connection. All layer surfaces must be destroyed
// first.
func (c *Conn) Close() {
	if c.layerShell != nil {
		C.zwlr_layer_shell_v1_destroy(c.layerShell)
		c.layerShell = nil
	}
	if c.compositor != nil {
		C.wl_compositor_destroy(c.compositor)
		c.compositor = nil
	}
	if c.shm != nil {
		C.wl_shm_destroy(c.shm)
		c.shm = nil
	}
	for _, o := range c.outputs {
		delete(outputsByPtr, o.ptr)
		C.wl_output_destroy(o.ptr)
	}
	c.outputs = make(map[uint32]*Output)
	if c.registry != nil {
		C.wl_registry_destroy(c.registry)
		c.registry = nil
	}
	if c.display != nil {
		C.wl_display_disconnect(c.display)
		c.display = nil
	}
	activeConn = nil
}

//export wayvidOnRegistryGlobal
func wayvidOnRegistryGlobal(data unsafe.Pointer, reg *C.struct_wl_registry,
	name C.uint32_t, iface *C.char, version C.uint32_t) {
	c := activeConn
	if c == nil {
		return
	}
	switch C.GoString(iface) {
	case "wl_compositor":
		v := minVersion(version, 4)
		c.compositor = (*C.struct_wl_compositor)(C.wl_registry_bind(reg, name, &C.wl_compositor_interface, v))
	case "wl_shm":
		c.shm = (*C.struct_wl_shm)(C.wl_registry_bind(reg, name, &C.wl_shm_interface, 1))
	case "zwlr_layer_shell_v1":
		v := minVersion(version, 2)
		c.layerShell = (*C.struct_zwlr_layer_shell_v1)(C.wl_registry_bind(reg, name, &C.zwlr_layer_shell_v1_interface, v))
	case "wl_output":
		// Version 4 delivers the connector name event.
		v := minVersion(version, 4)
		ptr := (*C.struct_wl_output)(C.wl_registry_bind(reg, name, &C.wl_output_interface, v))
		out := &Output{
			ID:    uint32(name),
			Name:  fmt.Sprintf("output-%d", uint32(name)),
			Scale: 1,
			ptr:   ptr,
		}
		c.outputs[uint32(name)] = out
		outputsByPtr[ptr] = out
		C.wayvid_wl_output_add_listener(ptr, name)
	}
}

//export wayvidOnRegistryGlobalRemove
func wayvidOnRegistryGlobalRemove(data unsafe.Pointer, reg *C.struct_wl_registry, name C.uint32_t) {
	c := activeConn
	if c == nil {
		return
	}
	out, ok := c.outputs[uint32(name)]
	if !ok {
		return
	}
	log.Debug().Str("output", out.Name).Msg("output removed")
	if c.OnOutputRemoved != nil {
		c.OnOutputRemoved(out)
	}
	delete(outputsByPtr, out.ptr)
	delete(c.outputs, uint32(name))
	C.wl_output_destroy(out.ptr)
}

//export wayvidOnOutputGeometry
func wayvidOnOutputGeometry(data unsafe.Pointer, output *C.struct_wl_output, transform C.int32_t) {
	if o := outputsByPtr[output]; o != nil {
		o.Transform = int32(transform)
	}
}

//export wayvidOnOutputMode
func wayvidOnOutputMode(data unsafe.Pointer, output *C.struct_wl_output,
	flags C.uint32_t, width, height, refresh C.int32_t) {
	o := outputsByPtr[output]
	if o == nil {
		return
	}
	if uint32(flags)&uint32(C.WL_OUTPUT_MODE_CURRENT) == 0 {
		return
	}
	o.Width = int32(width)
	o.Height = int32(height)
	o.RefreshmHz = int32(refresh)
}

//export wayvidOnOutputScale
func wayvidOnOutputScale(data unsafe.Pointer, output *C.struct_wl_output, factor C.int32_t) {
	if o := outputsByPtr[output]; o != nil {
		o.Scale = int32(factor)
	}
}

//export wayvidOnOutputName
func wayvidOnOutputName(data unsafe.Pointer, output *C.struct_wl_output, name *C.char) {
	if o := outputsByPtr[output]; o != nil {
		o.Name = C.GoString(name)
	}
}

//export wayvidOnOutputDescription
func wayvidOnOutputDescription(data unsafe.Pointer, output *C.struct_wl_output, description *C.char) {
	if o := outputsByPtr[output]; o != nil {
		o.Description = C.GoString(description)
	}
}

//export wayvidOnOutputDone
func wayvidOnOutputDone(data unsafe.Pointer, output *C.struct_wl_output) {
	c := activeConn
	o := outputsByPtr[output]
	if c == nil || o == nil {
		return
	}
	o.Configured = true
	log.Debug().Str("output", o.Name).
		Int32("width", o.Width).Int32("height", o.Height).Int32("scale", o.Scale).
		Msg("output configured")
	if c.OnOutputConfigured != nil {
		c.OnOutputConfigured(o)
	}
}

func minVersion(advertised C.uint32_t, wanted C.uint32_t) C.uint32_t {
	if advertised < wanted {
		return advertised
	}
	return wanted
}
