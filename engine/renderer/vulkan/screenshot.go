package vulkan

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	vk "github.com/goki/vulkan"
	xdraw "golang.org/x/image/draw"

	"github.com/borealis-engine/borealis/engine/core"
)

// ScreenshotRequest is a queued one-shot capture, taken after the next
// present.
type ScreenshotRequest struct {
	Path      string
	Overwrite bool
}

// ReadbackSwapchainImage copies the just-presented image into a host-visible
// buffer, transitioning present -> transfer-src -> present around the copy.
// Returns tightly packed BGRA bytes.
func ReadbackSwapchainImage(context *VulkanContext, img vk.Image, width, height uint32) ([]byte, error) {
	size := uint64(width) * uint64(height) * 4
	readback, err := NewVulkanBuffer(context,
		size,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer readback.Destroy(context)

	cb, err := AllocateAndBeginSingleUse(context, context.Device.GraphicsCommandPool)
	if err != nil {
		return nil, err
	}

	colorAspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	ImageTransitionLayout(cb, img, colorAspect,
		vk.ImageLayoutPresentSrc, vk.ImageLayoutTransferSrcOptimal,
		vk.AccessFlags(vk.AccessMemoryReadBit), vk.AccessFlags(vk.AccessTransferReadBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: colorAspect,
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(cb.Handle, img, vk.ImageLayoutTransferSrcOptimal, readback.Handle, 1, []vk.BufferImageCopy{region})

	ImageTransitionLayout(cb, img, colorAspect,
		vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutPresentSrc,
		vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessMemoryReadBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit))

	if err := cb.EndSingleUse(context, context.Device.GraphicsCommandPool, context.Device.GraphicsQueue); err != nil {
		return nil, err
	}

	return readback.ReadData(context, 0, size)
}

// BGRAToImage reorders tightly packed BGRA bytes into an RGBA image.
func BGRAToImage(pixels []byte, width, height uint32) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for i := 0; i+3 < len(pixels) && i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = pixels[i+2]
		img.Pix[i+1] = pixels[i+1]
		img.Pix[i+2] = pixels[i]
		img.Pix[i+3] = pixels[i+3]
	}
	return img
}

// PersistScreenshot reorders and writes the capture as PNG. Runs off the
// frame loop; only the readback copy itself happens on the critical path.
func PersistScreenshot(pixels []byte, width, height uint32, request ScreenshotRequest) error {
	if !request.Overwrite {
		if _, err := os.Stat(request.Path); err == nil {
			err := fmt.Errorf("screenshot target `%s` already exists", request.Path)
			core.LogWarn(err.Error())
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(request.Path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(request.Path)
	if err != nil {
		core.LogError("failed to create screenshot file `%s`: %s", request.Path, err)
		return err
	}
	defer f.Close()

	if err := png.Encode(f, BGRAToImage(pixels, width, height)); err != nil {
		core.LogError("failed to encode screenshot `%s`: %s", request.Path, err)
		return err
	}
	core.LogInfo("Screenshot written to `%s`", request.Path)
	return nil
}

// VideoRecorder persists every presented frame as a numbered PNG in a
// directory, scaled to even dimensions so the sequence can be fed straight
// into a video encoder.
type VideoRecorder struct {
	Dir        string
	frameIndex uint64
	active     bool
}

func NewVideoRecorder(dir string) *VideoRecorder {
	return &VideoRecorder{Dir: dir}
}

func (r *VideoRecorder) Start() error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}
	r.active = true
	r.frameIndex = 0
	core.LogInfo("Video capture started, writing frames to `%s`", r.Dir)
	return nil
}

func (r *VideoRecorder) Stop() {
	r.active = false
	core.LogInfo("Video capture stopped after %d frames", r.frameIndex)
}

func (r *VideoRecorder) Active() bool {
	return r.active
}

// WriteFrame persists one presented frame. Odd dimensions are scaled down by
// one pixel; video encoders reject odd sizes.
func (r *VideoRecorder) WriteFrame(pixels []byte, width, height uint32) error {
	if !r.active {
		return nil
	}
	img := BGRAToImage(pixels, width, height)

	evenW := int(width) &^ 1
	evenH := int(height) &^ 1
	out := img
	if evenW != int(width) || evenH != int(height) {
		scaled := image.NewRGBA(image.Rect(0, 0, evenW, evenH))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	path := filepath.Join(r.Dir, fmt.Sprintf("frame-%06d.png", r.frameIndex))
	r.frameIndex++

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, out)
}
