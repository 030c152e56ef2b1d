package drv

import "github.com/vkngwrapper/core/v2/common"

// UseFlags describes every way a caller intends to use a buffer. A combination supports a request when
// its flags are a superset of the requested flags.
type UseFlags uint32

var useFlagsMapping = common.NewFlagStringMapping[UseFlags]()

func (f UseFlags) Register(str string) {
	useFlagsMapping.Register(f, str)
}
func (f UseFlags) String() string {
	return useFlagsMapping.FlagsToString(f)
}

const (
	UseNone      UseFlags = 0
	UseScanout   UseFlags = 1 << 0
	UseCursor    UseFlags = 1 << 1
	UseRendering UseFlags = 1 << 2
	// UseLinear requests a linear layout that the CPU can address directly
	UseLinear      UseFlags = 1 << 4
	UseTexture     UseFlags = 1 << 5
	UseCameraWrite UseFlags = 1 << 6
	UseCameraRead  UseFlags = 1 << 7
	// UseProtected marks content-protected memory. Protected buffers can never be mapped by the CPU.
	UseProtected      UseFlags = 1 << 8
	UseSWReadOften    UseFlags = 1 << 9
	UseSWReadRarely   UseFlags = 1 << 10
	UseSWWriteOften   UseFlags = 1 << 11
	UseSWWriteRarely  UseFlags = 1 << 12
	UseHWVideoDecoder UseFlags = 1 << 13
	UseHWVideoEncoder UseFlags = 1 << 14
	// UseTestAlloc asks whether an allocation would succeed. The buffer gets metadata but no kernel object.
	UseTestAlloc        UseFlags = 1 << 15
	UseFrontRendering   UseFlags = 1 << 16
	UseRenderscript     UseFlags = 1 << 17
	UseGPUDataBuffer    UseFlags = 1 << 18
	UseSensorDirectData UseFlags = 1 << 19

	UseSWRead  = UseSWReadOften | UseSWReadRarely
	UseSWWrite = UseSWWriteOften | UseSWWriteRarely
	UseSWMask  = UseSWRead | UseSWWrite | UseFrontRendering

	UseRenderMask = UseLinear | UseRendering | UseRenderscript | UseSWMask | UseTexture
	// UseTextureMask is UseRenderMask without UseRendering
	UseTextureMask = UseLinear | UseRenderscript | UseSWMask | UseTexture

	UseNonGPUHW = UseScanout | UseCameraWrite | UseCameraRead | UseHWVideoDecoder | UseHWVideoEncoder |
		UseSensorDirectData
)

func init() {
	UseScanout.Register("Scanout")
	UseCursor.Register("Cursor")
	UseRendering.Register("Rendering")
	UseLinear.Register("Linear")
	UseTexture.Register("Texture")
	UseCameraWrite.Register("CameraWrite")
	UseCameraRead.Register("CameraRead")
	UseProtected.Register("Protected")
	UseSWReadOften.Register("SWReadOften")
	UseSWReadRarely.Register("SWReadRarely")
	UseSWWriteOften.Register("SWWriteOften")
	UseSWWriteRarely.Register("SWWriteRarely")
	UseHWVideoDecoder.Register("HWVideoDecoder")
	UseHWVideoEncoder.Register("HWVideoEncoder")
	UseTestAlloc.Register("TestAlloc")
	UseFrontRendering.Register("FrontRendering")
	UseRenderscript.Register("Renderscript")
	UseGPUDataBuffer.Register("GPUDataBuffer")
	UseSensorDirectData.Register("SensorDirectData")

	MapRead.Register("Read")
	MapWrite.Register("Write")
}

// MapFlags describes the CPU access a mapping grants
type MapFlags uint32

var mapFlagsMapping = common.NewFlagStringMapping[MapFlags]()

func (f MapFlags) Register(str string) {
	mapFlagsMapping.Register(f, str)
}
func (f MapFlags) String() string {
	return mapFlagsMapping.FlagsToString(f)
}

const (
	MapRead  MapFlags = 1 << 0
	MapWrite MapFlags = 1 << 1

	MapReadWrite = MapRead | MapWrite
)
