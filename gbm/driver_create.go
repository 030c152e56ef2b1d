package gbm

import (
	"os"

	"github.com/NeowayLabs/drm"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/drv/amdgpu"
	"github.com/vkngwrapper/gbm/drv/dumb"
	"github.com/vkngwrapper/gbm/drv/gem"
	"github.com/vkngwrapper/gbm/drv/i915"
	"github.com/vkngwrapper/gbm/drv/virtgpu"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// CreateFlags indicate specific driver behaviors to activate or deactivate
type CreateFlags int32

var driverCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	driverCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return driverCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this driver and all buffers created from it will not be
	// synchronized internally. The consumer must guarantee they are used from only one thread at a time
	// or are synchronized by some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// CreateOptions contains optional settings when creating a driver
type CreateOptions struct {
	// Flags indicates specific driver behaviors to activate or deactivate
	Flags CreateFlags
	// Config holds backend behavior toggles. A nil Config uses drv.DefaultConfig. Callers that want
	// the MINIGBM_DEBUG override pass drv.ConfigFromEnvironment().
	Config *drv.Config
}

// defaultBufferTableSize is the initial capacity of the handle table
const defaultBufferTableSize uint32 = 64

type backendFactory func() drv.Backend

var backends = map[string]backendFactory{
	"amdgpu":     amdgpu.New,
	"i915":       i915.New,
	"mediatek":   gem.NewMediatek,
	"msm":        gem.NewMSM,
	"rockchip":   gem.NewRockchip,
	"virtio_gpu": virtgpu.New,
}

func init() {
	for _, name := range dumb.Names {
		dumbName := name
		backends[dumbName] = func() drv.Backend {
			return dumb.New(dumbName)
		}
	}
}

// New creates a Driver for an open DRM device file. The kernel driver name selects the backend. The
// caller keeps ownership of the file and must keep it open until Driver.Destroy returns.
func New(logger *slog.Logger, file *os.File, options CreateOptions) (*Driver, error) {
	return newDriver(logger, kernel.NewDevice(file), options)
}

// OpenCard opens /dev/dri/card<cardNumber> and creates a Driver for it. Driver.Destroy closes the file.
func OpenCard(logger *slog.Logger, cardNumber int, options CreateOptions) (*Driver, error) {
	file, err := drm.OpenCard(cardNumber)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open card %d", cardNumber)
	}

	driver, err := New(logger, file, options)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	driver.ownedFile = file
	return driver, nil
}

func newDriver(logger *slog.Logger, device kernel.Device, options CreateOptions) (*Driver, error) {
	version, err := device.Version()
	if err != nil {
		return nil, err
	}

	factory, ok := backends[version.Name]
	if !ok {
		return nil, errors.Wrapf(unix.ENODEV, "no backend for kernel driver %q", version.Name)
	}

	return newDriverWithBackend(logger, device, factory(), options)
}

func newDriverWithBackend(logger *slog.Logger, device kernel.Device, backend drv.Backend, options CreateOptions) (*Driver, error) {
	useMutex := options.Flags&CreateExternallySynchronized == 0

	config := drv.DefaultConfig()
	if options.Config != nil {
		config = *options.Config
	}

	driver := &Driver{
		logger:      logger,
		device:      device,
		backend:     backend,
		config:      config,
		createFlags: options.Flags,
		bufferTable: swiss.NewMap[uint32, int](defaultBufferTableSize),
	}
	driver.bufferTableMutex.UseMutex = useMutex
	driver.mappingsMutex.UseMutex = useMutex

	driver.creator, _ = backend.(drv.Creator)
	driver.metadataComputer, _ = backend.(drv.MetadataComputer)
	driver.modifierCreator, _ = backend.(drv.ModifierCreator)
	driver.releaser, _ = backend.(drv.Releaser)
	driver.invalidator, _ = backend.(drv.Invalidator)
	driver.flusher, _ = backend.(drv.Flusher)
	driver.planeCounter, _ = backend.(drv.ModifierPlaneCounter)
	driver.resourceInfoer, _ = backend.(drv.ResourceInfoer)
	driver.textureSizer, _ = backend.(drv.TextureSizer)

	if (driver.creator == nil) == (driver.metadataComputer == nil) {
		return nil, errors.AssertionFailedf("backend %s must implement exactly one of BOCreate or BOComputeMetadata", backend.Name())
	}

	logger.Debug("Driver::New", slog.String("Backend", backend.Name()))

	err := backend.Init(drv.InitContext{
		Device:       device,
		Combinations: &driver.combos,
		Config:       config,
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize the %s backend", backend.Name())
	}

	return driver, nil
}
