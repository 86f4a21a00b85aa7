//go:build linux

package wayland

/*
#include <stdlib.h>
#include <wayland-client.h>
#include "wayvid_wayland.h"
*/
import "C"

import (
	"errors"
	"unsafe"
)

// LayerSurface is a background-layer wl_surface on one output. Wallpapers
// anchor to all four edges, ignore exclusive zones and take no input.
type LayerSurface struct {
	conn    *Conn
	output  *Output
	surface *C.struct_wl_surface
	layer   *C.struct_zwlr_layer_surface_v1

	// Compositor-proposed size from the last configure
	Width  int32
	Height int32

	// OnConfigure fires after the configure was acked; the session resizes
	// its EGL window here.
	OnConfigure func(width, height int32)
	// OnClosed fires when the compositor closed the surface.
	OnClosed func()

	framePending bool
	frameCb      func()
	pending      *C.struct_wl_callback
}

// CreateLayerSurface places a new background surface on output. The initial
// commit has no buffer; the compositor answers with the first configure.
func (c *Conn) CreateLayerSurface(output *Output, namespace string) (*LayerSurface, error) {
	surface := C.wl_compositor_create_surface(c.compositor)
	if surface == nil {
		return nil, errors.New("wayland: create surface failed")
	}

	ns := C.CString(namespace)
	defer C.free(unsafe.Pointer(ns))
	layer := C.zwlr_layer_shell_v1_get_layer_surface(c.layerShell, surface, output.ptr,
		C.uint32_t(C.ZWLR_LAYER_SHELL_V1_LAYER_BACKGROUND), ns)
	if layer == nil {
		C.wl_surface_destroy(surface)
		return nil, errors.New("wayland: get layer surface failed")
	}

	ls := &LayerSurface{
		conn:    c,
		output:  output,
		surface: surface,
		layer:   layer,
	}
	surfacesByPtr[layer] = ls
	C.wayvid_layer_surface_add_listener(layer, unsafe.Pointer(layer))

	C.zwlr_layer_surface_v1_set_anchor(layer, C.uint32_t(
		C.ZWLR_LAYER_SURFACE_V1_ANCHOR_TOP|C.ZWLR_LAYER_SURFACE_V1_ANCHOR_BOTTOM|
			C.ZWLR_LAYER_SURFACE_V1_ANCHOR_LEFT|C.ZWLR_LAYER_SURFACE_V1_ANCHOR_RIGHT))
	// Paint under panels and bars too.
	C.zwlr_layer_surface_v1_set_exclusive_zone(layer, -1)
	C.zwlr_layer_surface_v1_set_keyboard_interactivity(layer,
		C.uint32_t(C.ZWLR_LAYER_SURFACE_V1_KEYBOARD_INTERACTIVITY_NONE))
	C.zwlr_layer_surface_v1_set_size(layer, 0, 0)

	// Wallpapers never take input.
	region := C.wl_compositor_create_region(c.compositor)
	C.wl_surface_set_input_region(surface, region)
	C.wl_region_destroy(region)

	C.wl_surface_commit(surface)
	return ls, nil
}

// Output returns the output this surface covers.
func (s *LayerSurface) Output() *Output { return s.output }

// SurfacePtr exposes the native wl_surface for wl_egl_window creation.
func (s *LayerSurface) SurfacePtr() unsafe.Pointer {
	return unsafe.Pointer(s.surface)
}

// SetBufferScale matches the buffer scale to the output's integer scale.
func (s *LayerSurface) SetBufferScale(scale int32) {
	C.wl_surface_set_buffer_scale(s.surface, C.int32_t(scale))
}

// RequestFrame registers cb for the next compositor frame callback. At most
// one callback is outstanding per surface; a second request before the first
// fires replaces the Go callback but not the protocol object.
func (s *LayerSurface) RequestFrame(cb func()) {
	s.frameCb = cb
	if s.framePending {
		return
	}
	callback := C.wl_surface_frame(s.surface)
	framesByPtr[callback] = s
	C.wayvid_wl_callback_add_listener(callback, unsafe.Pointer(callback))
	s.framePending = true
	s.pending = callback
}

// FramePending reports whether a frame callback is outstanding.
func (s *LayerSurface) FramePending() bool { return s.framePending }

// Commit publishes pending surface state.
func (s *LayerSurface) Commit() {
	C.wl_surface_commit(s.surface)
}

// Destroy tears the surface down in protocol order. Any EGL window on the
// surface must already be gone.
func (s *LayerSurface) Destroy() {
	if s.pending != nil {
		delete(framesByPtr, s.pending)
		C.wl_callback_destroy(s.pending)
		s.pending = nil
		s.framePending = false
	}
	if s.layer != nil {
		delete(surfacesByPtr, s.layer)
		C.zwlr_layer_surface_v1_destroy(s.layer)
		s.layer = nil
	}
	if s.surface != nil {
		C.wl_surface_destroy(s.surface)
		s.surface = nil
	}
}

//export wayvidOnLayerSurfaceConfigure
func wayvidOnLayerSurfaceConfigure(data unsafe.Pointer, layer *C.struct_zwlr_layer_surface_v1,
	serial C.uint32_t, width, height C.uint32_t) {
	s := surfacesByPtr[layer]
	if s == nil {
		return
	}
	C.zwlr_layer_surface_v1_ack_configure(layer, serial)
	s.Width = int32(width)
	s.Height = int32(height)
	if s.OnConfigure != nil {
		s.OnConfigure(s.Width, s.Height)
	}
}

//export wayvidOnLayerSurfaceClosed
func wayvidOnLayerSurfaceClosed(data unsafe.Pointer, layer *C.struct_zwlr_layer_surface_v1) {
	s := surfacesByPtr[layer]
	if s == nil {
		return
	}
	if s.OnClosed != nil {
		s.OnClosed()
	}
}

//export wayvidOnFrameDone
func wayvidOnFrameDone(data unsafe.Pointer, callback *C.struct_wl_callback, t C.uint32_t) {
	s := framesByPtr[callback]
	delete(framesByPtr, callback)
	C.wl_callback_destroy(callback)
	if s == nil {
		return
	}
	s.framePending = false
	s.pending = nil
	if cb := s.frameCb; cb != nil {
		s.frameCb = nil
		cb()
	}
}
