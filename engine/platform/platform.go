package platform

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread.
	runtime.LockOSThread()
}

// ResizeHandler receives framebuffer size changes in pixels.
type ResizeHandler func(width, height uint32)

// Platform wraps the native window. Headless rendering skips it entirely.
type Platform struct {
	Window *glfw.Window

	onResize ResizeHandler
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup(applicationName string, x, y, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	if !glfw.VulkanSupported() {
		err := fmt.Errorf("vulkan is not supported on this platform")
		core.LogError(err.Error())
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		return err
	}
	p.Window = window

	p.Window.SetFramebufferSizeCallback(func(w *glfw.Window, fbWidth, fbHeight int) {
		if p.onResize != nil {
			p.onResize(uint32(fbWidth), uint32(fbHeight))
		}
	})
	p.Window.SetPos(int(x), int(y))
	p.Window.Show()

	return nil
}

// SetResizeHandler registers the callback invoked on framebuffer resizes.
func (p *Platform) SetResizeHandler(handler ResizeHandler) {
	p.onResize = handler
}

// FramebufferSize returns the current framebuffer size in pixels.
func (p *Platform) FramebufferSize() (uint32, uint32) {
	w, h := p.Window.GetFramebufferSize()
	return uint32(w), uint32(h)
}

// GetRequiredExtensionNames lists the instance extensions the window system
// needs.
func (p *Platform) GetRequiredExtensionNames() []string {
	return p.Window.GetRequiredInstanceExtensions()
}

// CreateSurface creates the presentation surface for the window.
func (p *Platform) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	surfacePtr, err := p.Window.CreateWindowSurface(instance, nil)
	if err != nil {
		core.LogError("failed to create window surface: %s", err)
		return vk.NullSurface, err
	}
	return vk.SurfaceFromPointer(surfacePtr), nil
}

// PumpMessages processes pending window events.
func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

// ShouldClose reports whether the user asked to close the window.
func (p *Platform) ShouldClose() bool {
	return p.Window.ShouldClose()
}

func (p *Platform) Shutdown() error {
	if p.Window != nil {
		p.Window.Destroy()
		p.Window = nil
	}
	glfw.Terminate()
	return nil
}
