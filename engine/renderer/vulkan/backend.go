package vulkan

import (
	"bytes"
	"errors"
	"fmt"
	stdmath "math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/platform"
	"github.com/borealis-engine/borealis/engine/renderer/metadata"
	"github.com/borealis-engine/borealis/engine/scene"
)

const (
	// acquireTimeout bounds swapchain image acquisition. Expiry is treated as
	// a recreation request, not an error.
	acquireTimeout = uint64(time.Second)

	fenceTimeout = uint64(stdmath.MaxUint64)
)

// VulkanRenderer is the frame orchestrator: it owns the API context, the
// swapchain, the runtime renderpass graph and the per-frame protocol that
// binds scene objects to GPU resources and pushes them through the flow.
type VulkanRenderer struct {
	platform *platform.Platform

	context *VulkanContext
	config  *metadata.RenderConfig
	flow    *metadata.Flow

	swapchain Swapchain
	passes    map[string]*RenderPass
	targets   map[string]*VulkanRenderTarget

	pipelines *PipelineCache
	textures  *TextureCache
	binder    *ObjectBinder
	camera    CameraSource

	imageAvailable []vk.Semaphore

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	FrameNumber     uint64
	presentedFrames int64
	mustRecreate    bool

	// Pending discovery future, launched after submission so the traversal
	// overlaps the GPU executing the frame.
	discovery     chan []*scene.Node
	discoveryRoot *scene.Node

	captureMu          sync.Mutex
	pendingScreenshots []ScreenshotRequest
	recorder           *VideoRecorder

	debugMessenger vk.DebugReportCallback
	debug          bool
}

// New builds an uninitialized renderer. A nil platform selects headless
// rendering: no surface, no window, frames presented into offscreen images.
func New(p *platform.Platform, config *metadata.RenderConfig, camera CameraSource) (*VulkanRenderer, error) {
	flow, err := metadata.ResolveFlow(config)
	if err != nil {
		return nil, err
	}
	return &VulkanRenderer{
		platform:  p,
		context:   NewVulkanContext(),
		config:    config,
		flow:      flow,
		pipelines: NewPipelineCache(),
		camera:    camera,
		debug:     true,
	}, nil
}

func (vr *VulkanRenderer) Initialize(appName string, width, height uint32) error {
	if vr.platform != nil {
		procAddr := glfw.GetVulkanGetInstanceProcAddress()
		if procAddr == nil {
			err := fmt.Errorf("vulkan instance proc address is nil")
			core.LogError(err.Error())
			return err
		}
		vk.SetGetInstanceProcAddr(procAddr)
	}
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize the vulkan loader: %s", err)
		return err
	}

	vr.context.FramebufferWidth = width
	vr.context.FramebufferHeight = height

	if err := vr.createInstance(appName); err != nil {
		return err
	}
	if vr.debug {
		vr.createDebugMessenger()
	}

	if vr.platform != nil {
		surface, err := vr.platform.CreateSurface(vr.context.Instance)
		if err != nil {
			return err
		}
		vr.context.Surface = surface
	}

	if err := DeviceCreate(vr.context); err != nil {
		return err
	}
	if err := CreateDescriptorPool(vr.context); err != nil {
		return err
	}

	vr.context.VertexBufferPool = NewBufferPool(vr.context,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	vr.context.IndexBufferPool = NewBufferPool(vr.context,
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))

	if vr.platform != nil {
		vr.swapchain = NewWindowedSwapchain(vr.config.VSync)
	} else {
		vr.swapchain = NewHeadlessSwapchain()
	}
	if err := vr.swapchain.Create(vr.context); err != nil {
		return err
	}
	output := vr.swapchain.GetOutput()
	vr.context.FramebufferWidth = output.Width
	vr.context.FramebufferHeight = output.Height

	semaphoreInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	vr.imageAvailable = make([]vk.Semaphore, 2)
	for i := range vr.imageAvailable {
		if res := vk.CreateSemaphore(vr.context.Device.LogicalDevice, &semaphoreInfo, vr.context.Allocator, &vr.imageAvailable[i]); res != vk.Success {
			err := fmt.Errorf("failed to create image-available semaphore: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
	}

	vr.textures = NewTextureCache(vr.context)
	vr.binder = NewObjectBinder(vr.context, vr.textures, vr.camera)

	if err := vr.buildPasses(); err != nil {
		return err
	}
	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration

	core.LogInfo("Vulkan renderer initialized (%d passes, flow %v)", len(vr.passes), vr.flow.Order)
	return nil
}

func (vr *VulkanRenderer) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Borealis Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var requiredExtensions []string
	if vr.platform != nil {
		requiredExtensions = append(requiredExtensions, "VK_KHR_surface")
		requiredExtensions = append(requiredExtensions, vr.platform.GetRequiredExtensionNames()...)
	}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	var layers []string
	if vr.debug {
		layers = vr.availableValidationLayers()
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed to create vulkan instance: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogDebug("Vulkan instance created (%d extensions, %d layers)", len(requiredExtensions), len(layers))
	return nil
}

// availableValidationLayers returns the Khronos validation layer when the
// loader offers it. Missing validation is a warning, never a startup failure.
func (vr *VulkanRenderer) availableValidationLayers() []string {
	wanted := "VK_LAYER_KHRONOS_validation"

	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return nil
	}
	for i := range available {
		available[i].Deref()
		name := available[i].LayerName[:]
		end := bytes.IndexByte(name, 0)
		if end < 0 {
			end = len(name)
		}
		if string(name[:end]) == wanted {
			return []string{wanted}
		}
	}
	core.LogWarn("validation layer %s not available, continuing without it", wanted)
	return nil
}

func (vr *VulkanRenderer) createDebugMessenger() {
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: dbgCallbackFunc,
	}
	var dbg vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg); res != vk.Success {
		core.LogWarn("failed to create debug report callback: %s", VulkanResultString(res))
		return
	}
	vr.debugMessenger = dbg
}

// buildPasses materializes the resolved flow: one rendertarget per producing
// pass, one RenderPass per configured pass, inputs wired once every producer
// exists.
func (vr *VulkanRenderer) buildPasses() error {
	output := vr.swapchain.GetOutput()
	ring := int(vr.swapchain.ImageCount())

	vr.targets = make(map[string]*VulkanRenderTarget)
	vr.passes = make(map[string]*RenderPass, len(vr.flow.Order))

	for _, name := range vr.flow.Order {
		spec := vr.config.Renderpasses[name]

		var target *VulkanRenderTarget
		if spec.Output != metadata.ViewportTarget {
			targetSpec := vr.config.Rendertargets[spec.Output]
			t, err := NewRenderTarget(vr.context, spec.Output, targetSpec)
			if err != nil {
				vr.destroyPasses()
				return err
			}
			vr.targets[spec.Output] = t
			target = t
		}

		pass, err := NewRenderPass(vr.context, name, spec, target, output, ring)
		if err != nil {
			// A failing pass has already destroyed its own target.
			delete(vr.targets, spec.Output)
			vr.destroyPasses()
			return err
		}
		vr.passes[name] = pass
	}

	for _, name := range vr.flow.Order {
		if err := vr.passes[name].WireInputs(vr.context, vr.flow.Inputs[name], vr.targets); err != nil {
			vr.destroyPasses()
			return err
		}
	}
	return nil
}

// teardownOrder lists every live pass: the ones the flow names in reverse
// flow order, then the rest sorted by name. Reconfigure swaps the flow in
// before the old passes are torn down, so the map can hold passes the
// current order no longer mentions; those still own live handles.
func teardownOrder(order []string, passes map[string]*RenderPass) []string {
	names := make([]string, 0, len(passes))
	covered := make(map[string]bool, len(passes))
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if _, ok := passes[name]; ok && !covered[name] {
			names = append(names, name)
			covered[name] = true
		}
	}
	leftovers := make([]string, 0, len(passes))
	for name := range passes {
		if !covered[name] {
			leftovers = append(leftovers, name)
		}
	}
	sort.Strings(leftovers)
	return append(names, leftovers...)
}

// destroyPasses tears down every live pass, flow-ordered passes first. Each
// pass owns and destroys its output target.
func (vr *VulkanRenderer) destroyPasses() {
	for _, name := range teardownOrder(vr.flow.Order, vr.passes) {
		vr.passes[name].Destroy(vr.context)
	}
	vr.passes = nil
	vr.targets = nil
}

// Resized records the new framebuffer size and bumps the size generation; the
// next frame performs the rebuild.
func (vr *VulkanRenderer) Resized(width, height uint32) {
	vr.cachedFramebufferWidth = width
	vr.cachedFramebufferHeight = height
	vr.context.FramebufferSizeGeneration++
	core.LogDebug("renderer resized: %dx%d (generation %d)", width, height, vr.context.FramebufferSizeGeneration)
}

// Reconfigure swaps in a new render configuration (quality switch, config
// reload) and queues a full swapchain/pass rebuild at the next frame boundary.
func (vr *VulkanRenderer) Reconfigure(config *metadata.RenderConfig) error {
	flow, err := metadata.ResolveFlow(config)
	if err != nil {
		return err
	}
	vr.config = config
	vr.flow = flow
	vr.mustRecreate = true
	return nil
}

// Screenshot queues a one-shot capture of the next presented frame.
func (vr *VulkanRenderer) Screenshot(path string, overwrite bool) {
	vr.captureMu.Lock()
	vr.pendingScreenshots = append(vr.pendingScreenshots, ScreenshotRequest{Path: path, Overwrite: overwrite})
	vr.captureMu.Unlock()
}

// StartVideoCapture begins persisting every presented frame into dir.
func (vr *VulkanRenderer) StartVideoCapture(dir string) error {
	recorder := NewVideoRecorder(dir)
	if err := recorder.Start(); err != nil {
		return err
	}
	vr.captureMu.Lock()
	vr.recorder = recorder
	vr.captureMu.Unlock()
	return nil
}

// StopVideoCapture stops an active recording.
func (vr *VulkanRenderer) StopVideoCapture() {
	vr.captureMu.Lock()
	if vr.recorder != nil {
		vr.recorder.Stop()
		vr.recorder = nil
	}
	vr.captureMu.Unlock()
}

func (vr *VulkanRenderer) hasPendingCapture() bool {
	vr.captureMu.Lock()
	defer vr.captureMu.Unlock()
	return len(vr.pendingScreenshots) > 0 || (vr.recorder != nil && vr.recorder.Active())
}

// DrawFrame runs the per-frame protocol: rebuild on resize, discover, update,
// decide staleness, acquire, execute the flow with chained semaphores, present
// and serve the capture side-channel. A frame that triggers a rebuild performs
// no rendering.
func (vr *VulkanRenderer) DrawFrame(root *scene.Node) error {
	if vr.context.RecreatingSwapchain {
		if res := vk.DeviceWaitIdle(vr.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
			err := fmt.Errorf("device wait idle failed while recreating swapchain: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		return nil
	}
	if vr.mustRecreate || vr.context.FramebufferSizeGeneration != vr.context.FramebufferSizeLastGeneration {
		return vr.rebuild()
	}

	objects := vr.awaitDiscovery(root)

	updated, invalidate, err := vr.updateObjects(objects)
	if err != nil {
		return err
	}
	if invalidate {
		for _, pass := range vr.passes {
			pass.InvalidateCommandBuffers()
		}
	}

	// Static scene, enough frames on screen, nothing queued: skip the frame.
	if vr.config.PushMode.Enabled &&
		!updated && !invalidate &&
		vr.presentedFrames >= vr.config.PushMode.MinPresentedFrames &&
		!vr.hasPendingCapture() {
		return nil
	}

	imageAvailable := vr.imageAvailable[vr.context.CurrentFrame]
	mustRecreate, err := vr.swapchain.Next(vr.context, acquireTimeout, imageAvailable)
	if mustRecreate {
		vr.mustRecreate = true
	}
	if err != nil {
		if errors.Is(err, core.ErrSwapchainOutOfDate) || errors.Is(err, core.ErrAcquireTimeout) {
			return nil
		}
		return err
	}

	waitSemaphore := imageAvailable
	for _, name := range vr.flow.Order {
		pass := vr.passes[name]
		cb := pass.AdvanceCommandBuffer()
		if !cb.Fence.FenceWait(vr.context, fenceTimeout) {
			err := fmt.Errorf("renderpass `%s`: command buffer fence wait failed", name)
			core.LogError(err.Error())
			return err
		}

		if err := vr.encodePass(pass, cb, objects); err != nil {
			return err
		}

		if err := vr.submitPass(pass, cb, waitSemaphore); err != nil {
			return err
		}
		waitSemaphore = pass.Complete
	}

	finalPass := vr.passes[vr.flow.Final()]
	mustRecreate, err = vr.swapchain.Present(vr.context, []vk.Semaphore{finalPass.Complete})
	if mustRecreate {
		vr.mustRecreate = true
	}
	if err != nil && !errors.Is(err, core.ErrSwapchainOutOfDate) {
		return err
	}
	vr.presentedFrames++
	vr.FrameNumber++

	vr.beginDiscovery(root)

	if vr.hasPendingCapture() {
		if err := vr.captureFrame(); err != nil {
			core.LogWarn("frame capture failed: %s", err)
		}
	}
	return nil
}

// encodePass re-records the pass's command buffer when stale, or leaves it
// untouched for verbatim resubmission.
func (vr *VulkanRenderer) encodePass(pass *RenderPass, cb *VulkanCommandBuffer, objects []*scene.Node) error {
	imageIndex := vr.context.ImageIndex

	switch pass.Spec.Type {
	case metadata.PassGeometry:
		records, accepted, err := pass.ComputeDrawList(vr.binder, objects)
		if err != nil {
			return err
		}
		if !cb.Stale(records) && !(pass.IsViewport() && cb.LastImageIndex != imageIndex) {
			return nil
		}
		vr.invalidateStereoSibling(pass.Name)
		cb.Reset()
		if err := pass.RecordGeometry(vr.context, cb, imageIndex, vr.binder, vr.pipelines, records, accepted); err != nil {
			return err
		}
	case metadata.PassLights, metadata.PassQuad:
		if !cb.Stale(nil) && !(pass.IsViewport() && cb.LastImageIndex != imageIndex) {
			return nil
		}
		vr.invalidateStereoSibling(pass.Name)
		cb.Reset()
		if err := pass.RecordScreen(vr.context, cb, imageIndex, vr.pipelines); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: renderpass `%s` has unhandled type `%s`", core.ErrConsistency, pass.Name, pass.Spec.Type)
	}

	cb.LastImageIndex = imageIndex
	return nil
}

func (vr *VulkanRenderer) submitPass(pass *RenderPass, cb *VulkanCommandBuffer, waitSemaphore vk.Semaphore) error {
	if err := cb.Fence.FenceReset(vr.context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{waitSemaphore},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{pass.Complete},
	}

	return vr.context.LockPool.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(vr.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, cb.Fence.Handle); res != vk.Success {
			err := fmt.Errorf("renderpass `%s`: queue submit failed: %s", pass.Name, VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		cb.UpdateSubmitted()
		return nil
	})
}

// updateObjects runs steps 3-5 of the frame protocol over the discovered set:
// initialization, dirty-flag consumption, UBO rewrites, geometry/texture
// reloads, blend re-resolution and instance refresh. Returns (ubo updated,
// force re-record).
func (vr *VulkanRenderer) updateObjects(objects []*scene.Node) (bool, bool, error) {
	updated := false
	invalidate := false

	for _, node := range objects {
		already, err := vr.binder.InitializeNode(node)
		if err != nil {
			return false, false, err
		}
		if !already {
			// Fresh resources are current; stale flags from before
			// registration are meaningless.
			node.ConsumeDirty()
			updated = true
			continue
		}

		state, err := vr.binder.State(node)
		if err != nil {
			return false, false, err
		}

		flags := node.ConsumeDirty()
		if flags&scene.DirtyGeometry != 0 {
			if err := vr.binder.ReloadGeometry(node); err != nil {
				return false, false, err
			}
			invalidate = true
		}
		if flags&scene.DirtyTextures != 0 {
			if err := vr.binder.ReloadTextures(node); err != nil {
				return false, false, err
			}
			invalidate = true
		}
		if flags&(scene.DirtyTransform|scene.DirtyMaterial) != 0 {
			// Rewrite every slot the recorded command buffers bake their
			// dynamic offsets against, one per pass drawing the object.
			for _, binding := range state.UniformBindings {
				for _, offset := range binding.Offsets {
					if err := binding.UBO.WriteAt(vr.context, offset); err != nil {
						return false, false, err
					}
				}
			}
			updated = true
		}

		if h := node.Material.Blending.Hash(); h != state.BlendHash {
			state.BlendHash = h
			vr.dropPipelines(state.PipelineKey)
			invalidate = true
		}

		if node.IsInstanceMaster() {
			if err := vr.binder.UpdateInstanceBuffer(node); err != nil {
				return false, false, err
			}
		}
	}
	return updated, invalidate, nil
}

// dropPipelines discards every pass's pipeline family under the key so the
// next recording rebuilds it against current blend state. Blend changes are
// rare enough that the idle wait is acceptable.
func (vr *VulkanRenderer) dropPipelines(key string) {
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)
	for name := range vr.passes {
		vr.pipelines.Drop(vr.context, name, key)
	}
}

// invalidateStereoSibling couples the staleness of left/right eye pass pairs:
// when one eye re-records, the other must too, or the eyes drift apart.
func (vr *VulkanRenderer) invalidateStereoSibling(name string) {
	if !vr.config.StereoEnabled {
		return
	}
	var sibling string
	switch {
	case strings.HasSuffix(name, "-left"):
		sibling = strings.TrimSuffix(name, "-left") + "-right"
	case strings.HasSuffix(name, "-right"):
		sibling = strings.TrimSuffix(name, "-right") + "-left"
	default:
		return
	}
	if pass, ok := vr.passes[sibling]; ok {
		pass.InvalidateCommandBuffers()
	}
}

// beginDiscovery launches the next frame's scene traversal so it overlaps
// this frame's GPU execution.
func (vr *VulkanRenderer) beginDiscovery(root *scene.Node) {
	ch := make(chan []*scene.Node, 1)
	vr.discovery = ch
	vr.discoveryRoot = root
	go func() {
		ch <- scene.Discover(root, scene.Renderable)
	}()
}

// awaitDiscovery collects the pending traversal, or walks synchronously when
// none is in flight or the root changed underneath it.
func (vr *VulkanRenderer) awaitDiscovery(root *scene.Node) []*scene.Node {
	if vr.discovery != nil {
		objects := <-vr.discovery
		vr.discovery = nil
		if vr.discoveryRoot == root {
			return objects
		}
	}
	return scene.Discover(root, scene.Renderable)
}

// rebuild performs the full teardown/rebuild of the swapchain, every target
// and every pass. Command buffer rings come back empty, so everything
// re-records on the next frame.
func (vr *VulkanRenderer) rebuild() error {
	vr.context.RecreatingSwapchain = true
	defer func() { vr.context.RecreatingSwapchain = false }()

	if res := vk.DeviceWaitIdle(vr.context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		err := fmt.Errorf("device wait idle failed before swapchain rebuild: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	if vr.cachedFramebufferWidth != 0 {
		vr.context.FramebufferWidth = vr.cachedFramebufferWidth
	}
	if vr.cachedFramebufferHeight != 0 {
		vr.context.FramebufferHeight = vr.cachedFramebufferHeight
	}
	vr.cachedFramebufferWidth = 0
	vr.cachedFramebufferHeight = 0

	// Minimized window: sizes stay invalid, retry on the next frame.
	if vr.context.FramebufferWidth == 0 || vr.context.FramebufferHeight == 0 {
		core.LogDebug("swapchain rebuild deferred, framebuffer has a zero dimension")
		return nil
	}

	vr.destroyPasses()
	vr.pipelines.Destroy(vr.context)
	vr.pipelines = NewPipelineCache()

	if err := vr.swapchain.Recreate(vr.context); err != nil {
		return err
	}
	output := vr.swapchain.GetOutput()
	vr.context.FramebufferWidth = output.Width
	vr.context.FramebufferHeight = output.Height

	if err := vr.buildPasses(); err != nil {
		return err
	}

	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration
	vr.mustRecreate = false
	vr.presentedFrames = 0

	core.LogInfo("Swapchain and renderpass graph rebuilt (%dx%d)", output.Width, output.Height)
	return nil
}

// captureFrame serves the screenshot/video side-channel after present: one
// readback of the just-presented image, then asynchronous persistence.
func (vr *VulkanRenderer) captureFrame() error {
	output := vr.swapchain.GetOutput()

	var (
		pixels []byte
		err    error
	)
	if headless, ok := vr.swapchain.(*HeadlessSwapchain); ok {
		pixels, err = headless.ReadPixels(vr.context)
	} else {
		pixels, err = ReadbackSwapchainImage(vr.context, output.Images[vr.context.ImageIndex], output.Width, output.Height)
	}
	if err != nil {
		return err
	}

	vr.captureMu.Lock()
	requests := vr.pendingScreenshots
	vr.pendingScreenshots = nil
	recorder := vr.recorder
	vr.captureMu.Unlock()

	for _, request := range requests {
		go PersistScreenshot(pixels, output.Width, output.Height, request)
	}
	if recorder != nil && recorder.Active() {
		return recorder.WriteFrame(pixels, output.Width, output.Height)
	}
	return nil
}

// ReleaseObjects returns the GPU resources of every node under root. Called
// by the facade before shutdown or when a subtree leaves the scene for good.
func (vr *VulkanRenderer) ReleaseObjects(root *scene.Node) {
	for _, node := range scene.Discover(root, func(n *scene.Node) bool { return n.RendererState != nil }) {
		vr.binder.ReleaseNode(node)
	}
}

func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device != nil && vr.context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)
	}

	if vr.discovery != nil {
		<-vr.discovery
		vr.discovery = nil
	}

	vr.destroyPasses()
	vr.pipelines.Destroy(vr.context)

	if vr.textures != nil {
		vr.textures.Destroy()
		vr.textures = nil
	}
	vr.context.ShaderModuleCache.Destroy()
	vr.context.DescriptorLayoutCache.Destroy()
	if vr.context.DescriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(vr.context.Device.LogicalDevice, vr.context.DescriptorPool, vr.context.Allocator)
		vr.context.DescriptorPool = vk.NullDescriptorPool
	}

	if vr.context.VertexBufferPool != nil {
		vr.context.VertexBufferPool.Destroy(vr.context)
		vr.context.VertexBufferPool = nil
	}
	if vr.context.IndexBufferPool != nil {
		vr.context.IndexBufferPool.Destroy(vr.context)
		vr.context.IndexBufferPool = nil
	}

	for _, semaphore := range vr.imageAvailable {
		if semaphore != vk.NullSemaphore {
			vk.DestroySemaphore(vr.context.Device.LogicalDevice, semaphore, vr.context.Allocator)
		}
	}
	vr.imageAvailable = nil

	if vr.swapchain != nil {
		vr.swapchain.Destroy(vr.context)
		vr.swapchain = nil
	}

	DeviceDestroy(vr.context)

	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}
	if vr.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.debugMessenger, vr.context.Allocator)
		vr.debugMessenger = vk.NullDebugReportCallback
	}
	if vr.context.Instance != nil {
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}

	core.LogInfo("Vulkan renderer shut down.")
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("[%s] %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
