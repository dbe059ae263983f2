package renderer

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/platform"
	"github.com/borealis-engine/borealis/engine/renderer/metadata"
	"github.com/borealis-engine/borealis/engine/renderer/vulkan"
	"github.com/borealis-engine/borealis/engine/scene"
)

// Renderer is the engine-facing facade over the Vulkan backend: it owns the
// render configuration, the quality level, and the hot-reload watcher, and
// forwards the per-frame protocol to the backend.
type Renderer struct {
	backend  *vulkan.VulkanRenderer
	platform *platform.Platform

	configPath string
	config     *metadata.RenderConfig
	quality    string

	watcher       *fsnotify.Watcher
	reloadPending atomic.Bool
	done          chan struct{}
}

// New loads the render configuration and builds the backend. A nil platform
// selects headless rendering.
func New(p *platform.Platform, configPath string, camera vulkan.CameraSource) (*Renderer, error) {
	config, err := metadata.LoadRenderConfig(configPath)
	if err != nil {
		return nil, err
	}
	backend, err := vulkan.New(p, config, camera)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		backend:    backend,
		platform:   p,
		configPath: configPath,
		config:     config,
		done:       make(chan struct{}),
	}, nil
}

// Initialize brings up the backend and hooks resize delivery and the
// configuration watcher.
func (r *Renderer) Initialize(appName string, width, height uint32) error {
	if err := r.backend.Initialize(appName, width, height); err != nil {
		return err
	}
	if r.platform != nil {
		r.platform.SetResizeHandler(func(w, h uint32) {
			r.backend.Resized(w, h)
		})
	}
	if err := r.startWatcher(); err != nil {
		// Hot reload is a convenience; rendering works without it.
		core.LogWarn("config watcher unavailable: %s", err)
	}
	return nil
}

// startWatcher watches the renderconfig directory and the shader directories
// referenced by the configuration. A relevant change queues a rebuild at the
// next frame boundary, the same path a quality switch takes.
func (r *Renderer) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	dirs := map[string]bool{filepath.Dir(r.configPath): true}
	for _, pass := range r.config.Renderpasses {
		for _, shader := range pass.Shaders {
			dirs[filepath.Dir(shader)] = true
		}
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			core.LogWarn("cannot watch `%s`: %s", dir, err)
		}
	}

	go r.watch()
	return nil
}

func (r *Renderer) watch() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Ext(event.Name) {
			case ".toml", ".spv", ".vert", ".frag":
				core.LogInfo("Configuration change detected in `%s`, queuing rebuild", event.Name)
				r.reloadPending.Store(true)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)
		case <-r.done:
			return
		}
	}
}

// reload re-reads the configuration from disk, re-applies the active quality
// level and queues the backend rebuild. A broken config on disk keeps the
// current one running.
func (r *Renderer) reload() {
	config, err := metadata.LoadRenderConfig(r.configPath)
	if err != nil {
		core.LogWarn("config reload failed, keeping current configuration: %s", err)
		return
	}
	if r.quality != "" {
		leveled, err := config.ApplyQuality(r.quality)
		if err != nil {
			core.LogWarn("quality `%s` missing from reloaded config: %s", r.quality, err)
		} else {
			config = leveled
		}
	}
	if err := r.backend.Reconfigure(config); err != nil {
		core.LogError("reconfigure failed: %s", err)
		return
	}
	r.config = config
}

// DrawFrame applies any queued configuration reload, then runs one frame.
func (r *Renderer) DrawFrame(root *scene.Node) error {
	if r.reloadPending.Swap(false) {
		r.reload()
	}
	return r.backend.DrawFrame(root)
}

// SetRenderingQuality substitutes the named quality level's shader sets and
// triggers a full swapchain/pass rebuild at the next frame boundary.
func (r *Renderer) SetRenderingQuality(level string) error {
	config, err := r.config.ApplyQuality(level)
	if err != nil {
		return err
	}
	if err := r.backend.Reconfigure(config); err != nil {
		return err
	}
	r.quality = level
	core.LogInfo("Rendering quality set to `%s`", level)
	return nil
}

// QualityLevels lists the configured quality level names.
func (r *Renderer) QualityLevels() []string {
	return r.config.QualityLevels()
}

// Reshape signals an explicit size change, for hosts without resize callbacks.
func (r *Renderer) Reshape(width, height uint32) {
	r.backend.Resized(width, height)
}

// Screenshot queues a one-shot capture of the next presented frame.
func (r *Renderer) Screenshot(path string, overwrite bool) {
	r.backend.Screenshot(path, overwrite)
}

// StartVideoCapture begins persisting presented frames into dir.
func (r *Renderer) StartVideoCapture(dir string) error {
	return r.backend.StartVideoCapture(dir)
}

// StopVideoCapture stops an active recording.
func (r *Renderer) StopVideoCapture() {
	r.backend.StopVideoCapture()
}

// ReleaseObjects returns the GPU resources of every node under root.
func (r *Renderer) ReleaseObjects(root *scene.Node) {
	r.backend.ReleaseObjects(root)
}

func (r *Renderer) Shutdown() error {
	close(r.done)
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	return r.backend.Shutdown()
}
