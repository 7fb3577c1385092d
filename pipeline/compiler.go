package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"
)

// ErrNilDevice is returned by HALModules without a device.
var ErrNilDevice = errors.New("pipeline: HAL device is nil")

// Compiler lowers WGSL source to SPIR-V words.
type Compiler func(wgsl string) ([]uint32, error)

// Naga compiles WGSL with naga.
func Naga(wgsl string) ([]uint32, error) {
	code, err := naga.Compile(wgsl)
	if err != nil {
		return nil, err
	}
	return words(code)
}

// words converts little-endian SPIR-V bytes into words.
func words(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V length %d is not a multiple of 4", len(code))
	}
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out, nil
}

// ModuleFactory creates and destroys backend shader modules.
type ModuleFactory interface {
	CreateModule(label string, spirv []uint32) (any, error)
	DestroyModule(module any)
}

// HALModules creates hal.ShaderModule objects on a device.
type HALModules struct {
	Device hal.Device
}

// CreateModule creates a shader module from SPIR-V.
func (m HALModules) CreateModule(label string, spirv []uint32) (any, error) {
	if m.Device == nil {
		return nil, ErrNilDevice
	}
	module, err := m.Device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, err
	}
	return module, nil
}

// DestroyModule releases a module created by CreateModule.
func (m HALModules) DestroyModule(module any) {
	if sm, ok := module.(hal.ShaderModule); ok && m.Device != nil {
		m.Device.DestroyShaderModule(sm)
	}
}
