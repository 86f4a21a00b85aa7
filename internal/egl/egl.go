//go:build linux

// Package egl manages EGL state for the engine: one EGLDisplay per Wayland
// connection, one context per decode pipeline, and one wl_egl_window-backed
// surface per wallpaper session. Sessions sharing a decoder share its
// context, bound against their own window surfaces.
package egl

/*
#cgo LDFLAGS: -lEGL -lwayland-egl

#include <stdlib.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>
#include <wayland-egl.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// Error is an EGL failure annotated with the reporting call.
type Error struct {
	Call string
	Code uint32
}

func (e Error) Error() string {
	return fmt.Sprintf("egl: %s failed: 0x%04x", e.Call, e.Code)
}

func eglErr(call string) error {
	return Error{Call: call, Code: uint32(C.eglGetError())}
}

// Display wraps the EGLDisplay for one Wayland connection.
type Display struct {
	dpy    C.EGLDisplay
	config C.EGLConfig
}

// NewDisplay initialises EGL on the native Wayland display and picks a
// window-renderable RGB888 config for desktop OpenGL.
func NewDisplay(nativeDisplay unsafe.Pointer) (*Display, error) {
	dpy := C.eglGetDisplay(C.EGLNativeDisplayType(nativeDisplay))
	if dpy == nil {
		return nil, errors.New("egl: no display available")
	}
	var major, minor C.EGLint
	if C.eglInitialize(dpy, &major, &minor) == C.EGL_FALSE {
		return nil, eglErr("eglInitialize")
	}
	if C.eglBindAPI(C.EGL_OPENGL_API) == C.EGL_FALSE {
		return nil, eglErr("eglBindAPI")
	}

	configAttribs := []C.EGLint{
		C.EGL_SURFACE_TYPE, C.EGL_WINDOW_BIT,
		C.EGL_RED_SIZE, 8,
		C.EGL_GREEN_SIZE, 8,
		C.EGL_BLUE_SIZE, 8,
		C.EGL_ALPHA_SIZE, 0,
		C.EGL_RENDERABLE_TYPE, C.EGL_OPENGL_BIT,
		C.EGL_NONE,
	}
	var config C.EGLConfig
	var numConfigs C.EGLint
	if C.eglChooseConfig(dpy, &configAttribs[0], &config, 1, &numConfigs) == C.EGL_FALSE ||
		numConfigs == 0 {
		C.eglTerminate(dpy)
		return nil, eglErr("eglChooseConfig")
	}

	return &Display{dpy: dpy, config: config}, nil
}

// Terminate releases the EGL display. Contexts and windows must be destroyed
// first.
func (d *Display) Terminate() {
	C.eglMakeCurrent(d.dpy, nil, nil, nil)
	C.eglTerminate(d.dpy)
}

// Context is one GL context. A decode pipeline owns exactly one; every
// session consuming that pipeline binds it against its own window.
type Context struct {
	dpy *Display
	ctx C.EGLContext
}

// CreateContext builds a desktop GL 3.2 context, falling back to whatever the
// driver offers when that version is refused.
func (d *Display) CreateContext() (*Context, error) {
	ctxAttribs := []C.EGLint{
		C.EGL_CONTEXT_MAJOR_VERSION, 3,
		C.EGL_CONTEXT_MINOR_VERSION, 2,
		C.EGL_NONE,
	}
	ctx := C.eglCreateContext(d.dpy, d.config, nil, &ctxAttribs[0])
	if ctx == nil {
		ctx = C.eglCreateContext(d.dpy, d.config, nil, nil)
	}
	if ctx == nil {
		return nil, eglErr("eglCreateContext")
	}
	return &Context{dpy: d, ctx: ctx}, nil
}

// MakeCurrent binds the context against a window on the calling thread. The
// engine unbinds any other session's binding first.
func (c *Context) MakeCurrent(w *Window) error {
	if C.eglMakeCurrent(c.dpy.dpy, w.surf, w.surf, c.ctx) == C.EGL_FALSE {
		return eglErr("eglMakeCurrent")
	}
	// Frame callbacks drive presentation; the driver must not throttle swaps.
	C.eglSwapInterval(c.dpy.dpy, 0)
	return nil
}

// MakeCurrentSurfaceless binds the context with no draw surface, for
// render-context teardown after the session's window is gone. Needs
// EGL_KHR_surfaceless_context, which Mesa has carried for years.
func (c *Context) MakeCurrentSurfaceless() error {
	if C.eglMakeCurrent(c.dpy.dpy, nil, nil, c.ctx) == C.EGL_FALSE {
		return eglErr("eglMakeCurrent surfaceless")
	}
	return nil
}

// MakeCurrentNone unbinds whatever is current on the calling thread.
// Mandatory before another pipeline's context is bound, and before
// destruction.
func (c *Context) MakeCurrentNone() {
	C.eglMakeCurrent(c.dpy.dpy, nil, nil, nil)
}

// Destroy frees the context. It must not be current anywhere.
func (c *Context) Destroy() {
	C.eglDestroyContext(c.dpy.dpy, c.ctx)
}

// Window is a session's EGL window surface wrapping a wl_egl_window.
type Window struct {
	dpy  *Display
	surf C.EGLSurface
	win  *C.struct_wl_egl_window
}

// CreateWindow wraps wlSurface in a wl_egl_window of the given size and
// creates the EGL window surface. Creation is retried once on transient
// compositor races.
func (d *Display) CreateWindow(wlSurface unsafe.Pointer, width, height int32) (*Window, error) {
	w, err := d.createWindow(wlSurface, width, height)
	if err != nil {
		w, err = d.createWindow(wlSurface, width, height)
	}
	return w, err
}

func (d *Display) createWindow(wlSurface unsafe.Pointer, width, height int32) (*Window, error) {
	win := C.wl_egl_window_create((*C.struct_wl_surface)(wlSurface), C.int(width), C.int(height))
	if win == nil {
		return nil, errors.New("egl: wl_egl_window_create failed")
	}
	surf := C.eglCreateWindowSurface(d.dpy, d.config,
		C.EGLNativeWindowType(uintptr(unsafe.Pointer(win))), nil)
	if surf == nil {
		C.wl_egl_window_destroy(win)
		return nil, eglErr("eglCreateWindowSurface")
	}
	return &Window{dpy: d, surf: surf, win: win}, nil
}

// SwapBuffers presents the back buffer. The owning context must be current
// against this window.
func (w *Window) SwapBuffers() error {
	if C.eglSwapBuffers(w.dpy.dpy, w.surf) == C.EGL_FALSE {
		return eglErr("eglSwapBuffers")
	}
	return nil
}

// Resize adjusts the backing wl_egl_window.
func (w *Window) Resize(width, height int32) {
	C.wl_egl_window_resize(w.win, C.int(width), C.int(height), 0, 0)
}

// Destroy frees the window surface. No context may be current against it.
func (w *Window) Destroy() {
	C.eglDestroySurface(w.dpy.dpy, w.surf)
	C.wl_egl_window_destroy(w.win)
	w.win = nil
}

// GetProcAddress resolves a GL symbol; handed to go-gl so the engine's own GL
// calls go through the same driver as the decoder's.
func GetProcAddress(name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return unsafe.Pointer(C.eglGetProcAddress(cname))
}
