package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

// UBOMemberValue produces the current value of one uniform block member as a
// flat float32 slice. Closures are evaluated at serialization time, so a UBO
// declared once stays current as the camera or object it reads from changes.
type UBOMemberValue func() []float32

type uboMember struct {
	name  string
	value UBOMemberValue
}

// UBO is one uniform block backed by a host-visible buffer with room for many
// per-draw slots. Members are registered by name in declaration order;
// placement comes from the shader's reflected layout, never from declaration
// order, so Go-side struct layout cannot drift from the shader's std140 view.
type UBO struct {
	Name   string
	Buffer *VulkanBuffer

	spec    *ShaderUBOSpec
	members []uboMember

	stride uint64
	slots  uint64
	cursor uint64

	scratch []byte
}

// NewUBO builds a uniform block wrapper with the given number of per-draw
// slots. The per-slot stride is the reflected block size rounded up to the
// device's dynamic offset alignment.
func NewUBO(context *VulkanContext, spec *ShaderUBOSpec, slots uint64) (*UBO, error) {
	if slots == 0 {
		slots = 1
	}

	context.Device.Properties.Deref()
	context.Device.Properties.Limits.Deref()
	alignment := uint64(context.Device.Properties.Limits.MinUniformBufferOffsetAlignment)
	stride := alignUp(uint64(spec.Size), alignment)

	buffer, err := NewVulkanBuffer(context,
		stride*slots,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}

	return &UBO{
		Name:    spec.Name,
		Buffer:  buffer,
		spec:    spec,
		stride:  stride,
		slots:   slots,
		scratch: make([]byte, spec.Size),
	}, nil
}

// newUBOForLayout builds an unbacked wrapper, used by serialization tests.
func newUBOForLayout(spec *ShaderUBOSpec) *UBO {
	return &UBO{
		Name:    spec.Name,
		spec:    spec,
		stride:  uint64(spec.Size),
		slots:   1,
		scratch: make([]byte, spec.Size),
	}
}

func alignUp(value, alignment uint64) uint64 {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) / alignment * alignment
}

// AddMember registers a named member closure. The member must exist in the
// reflected layout.
func (u *UBO) AddMember(name string, value UBOMemberValue) error {
	if u.memberSpec(name) == nil {
		err := fmt.Errorf("uniform block `%s` has no member `%s`", u.Name, name)
		core.LogError(err.Error())
		return err
	}
	u.members = append(u.members, uboMember{name: name, value: value})
	return nil
}

func (u *UBO) memberSpec(name string) *ShaderUBOMember {
	for i := range u.spec.Members {
		if u.spec.Members[i].Name == name {
			return &u.spec.Members[i]
		}
	}
	return nil
}

// Serialize evaluates every member closure and lays the values out at their
// reflected offsets. A closure whose value does not exactly fill the member's
// reflected range means the Go side and the compiled shader disagree about
// the block's shape; that is unrecoverable and the frame must not be
// submitted with it.
func (u *UBO) Serialize() ([]byte, error) {
	for i := range u.scratch {
		u.scratch[i] = 0
	}
	for _, m := range u.members {
		spec := u.memberSpec(m.name)
		values := m.value()
		valueSize := uint32(len(values) * 4)
		if valueSize != spec.Range {
			err := fmt.Errorf("%w: uniform block `%s` member `%s` serialized %d bytes, reflected range is %d",
				core.ErrConsistency, u.Name, m.name, valueSize, spec.Range)
			core.LogError(err.Error())
			return nil, err
		}
		if spec.Offset+spec.Range > u.spec.Size {
			err := fmt.Errorf("%w: uniform block `%s` member `%s` overruns block size %d",
				core.ErrConsistency, u.Name, m.name, u.spec.Size)
			core.LogError(err.Error())
			return nil, err
		}
		copy(u.scratch[spec.Offset:spec.Offset+spec.Range], floatBytes(values))
	}
	return u.scratch, nil
}

// WriteNext serializes the block into the next slot and returns the dynamic
// offset to bind for this draw. Slots wrap; callers size the UBO to cover the
// maximum draws in flight.
func (u *UBO) WriteNext(context *VulkanContext) (uint32, error) {
	data, err := u.Serialize()
	if err != nil {
		return 0, err
	}

	offset := u.cursor * u.stride
	if err := u.Buffer.LoadData(context, offset, uint64(len(data)), data); err != nil {
		return 0, err
	}
	u.cursor = (u.cursor + 1) % u.slots
	return uint32(offset), nil
}

// WriteAt serializes the block into the slot at a previously returned
// offset. Command buffers bake the dynamic offset they were recorded with, so
// per-frame updates rewrite that slot rather than advancing past it.
func (u *UBO) WriteAt(context *VulkanContext, offset uint32) error {
	data, err := u.Serialize()
	if err != nil {
		return err
	}
	return u.Buffer.LoadData(context, uint64(offset), uint64(len(data)), data)
}

// Reset rewinds the slot cursor, called once per frame before UBO writes.
func (u *UBO) Reset() {
	u.cursor = 0
}

// Stride reports the aligned per-slot size.
func (u *UBO) Stride() uint64 {
	return u.stride
}

// Destroy releases the backing buffer.
func (u *UBO) Destroy(context *VulkanContext) {
	if u.Buffer != nil {
		u.Buffer.Destroy(context)
		u.Buffer = nil
	}
}

func floatBytes(values []float32) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*4)
}
