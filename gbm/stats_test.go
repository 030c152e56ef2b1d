package gbm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/memutils"
	"go.uber.org/mock/gomock"
)

func TestCalculateStatistics(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, _, driver := readyDriver(t, ctrl, DriverSetup{})

	argb, err := driver.Create(64, 64, formats.FormatARGB8888, drv.UseTexture|drv.UseSWReadOften)
	require.NoError(t, err)
	nv12, err := driver.Create(64, 64, formats.FormatNV12, drv.UseTexture|drv.UseSWReadOften)
	require.NoError(t, err)

	_, _, err = argb.Map(fullRect, drv.MapRead, 0)
	require.NoError(t, err)
	_, _, err = argb.Map(drv.Rect{Width: 16, Height: 16}, drv.MapRead, 0)
	require.NoError(t, err)
	_, _, err = nv12.Map(fullRect, drv.MapRead, 1)
	require.NoError(t, err)

	var stats memutils.DetailedStatistics
	driver.CalculateStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BufferCount:  2,
			HandleCount:  2,
			BufferBytes:  16384 + 6144,
			MappingCount: 3,
			MappedBytes:  16384 + 6144,
		},
		VmaCount:   2,
		VmaSizeMin: 6144,
		VmaSizeMax: 16384,
	}, stats)

	device.EXPECT().GEMClose(argb.Handle(0)).Return(nil)
	require.NoError(t, argb.Destroy())

	driver.CalculateStatistics(&stats)
	require.Equal(t, 1, stats.BufferCount)
	require.Equal(t, 6144, stats.BufferBytes)
	require.Equal(t, 1, stats.MappingCount)
}

func TestBuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, _, driver := readyDriver(t, ctrl, DriverSetup{})

	bo, err := driver.Create(64, 64, formats.FormatARGB8888, drv.UseTexture|drv.UseSWReadOften)
	require.NoError(t, err)
	_, _, err = bo.Map(fullRect, drv.MapRead, 0)
	require.NoError(t, err)

	var summary struct {
		Backend string
		Total   struct {
			BufferCount  int
			HandleCount  int
			MappingCount int
			MappedBytes  int
		}
		Handles []json.RawMessage
	}
	require.NoError(t, json.Unmarshal([]byte(driver.BuildStatsString(false)), &summary))
	require.Equal(t, "fake", summary.Backend)
	require.Equal(t, 1, summary.Total.BufferCount)
	require.Equal(t, 1, summary.Total.HandleCount)
	require.Equal(t, 1, summary.Total.MappingCount)
	require.Equal(t, 16384, summary.Total.MappedBytes)
	require.Nil(t, summary.Handles)

	var detailed struct {
		Combinations []struct {
			Format   string
			Modifier string
		}
		Handles []struct {
			Handle     int
			References int
		}
		Mappings []struct {
			Handle        int
			Width         int
			References    int
			VmaReferences int
			VmaLength     int
		}
	}
	require.NoError(t, json.Unmarshal([]byte(driver.BuildStatsString(true)), &detailed))
	require.Len(t, detailed.Combinations, 3)
	require.Equal(t, "AR24", detailed.Combinations[0].Format)
	require.Len(t, detailed.Handles, 1)
	require.Equal(t, int(bo.Handle(0)), detailed.Handles[0].Handle)
	require.Equal(t, 1, detailed.Handles[0].References)
	require.Len(t, detailed.Mappings, 1)
	require.Equal(t, 64, detailed.Mappings[0].Width)
	require.Equal(t, 16384, detailed.Mappings[0].VmaLength)
}
