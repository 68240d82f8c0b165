package camera

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/fetchrig/pkg/linuxav/v4l2"
)

// Discover builds one driver per camera according to setup.Driver and
// enforces the two-camera precondition. Explicit setup.Devices win over
// enumeration; each entry may be a /dev path or a stable by-id name.
func Discover(setup Setup, logger *slog.Logger) ([]Driver, error) {
	switch setup.Driver {
	case "synthetic":
		drivers := make([]Driver, Count)
		for i := range drivers {
			drivers[i] = NewSyntheticDriver(i, SyntheticOptions{Seed: 1, Paced: true})
		}
		return drivers, nil
	case "v4l2", "":
	default:
		return nil, fmt.Errorf("unknown camera driver %q", setup.Driver)
	}

	infos, err := listV4L2(setup.Devices)
	if err != nil {
		return nil, err
	}
	if len(infos) != Count {
		return nil, fmt.Errorf("%w: %d detected, exactly %d required", ErrCameraCount, len(infos), Count)
	}

	drivers := make([]Driver, len(infos))
	for i, info := range infos {
		drivers[i] = NewV4L2Driver(info, time.Second, logger.With("camera", i))
	}
	return drivers, nil
}

func listV4L2(devices []string) ([]DeviceInfo, error) {
	if len(devices) > 0 {
		infos := make([]DeviceInfo, 0, len(devices))
		for _, device := range devices {
			path, err := v4l2.ResolveDevice(device)
			if err != nil {
				return nil, fmt.Errorf("resolve camera %q: %w", device, err)
			}
			infos = append(infos, DeviceInfo{ID: device, Name: device, Path: path, Driver: "v4l2"})
		}
		return infos, nil
	}

	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}
	infos := make([]DeviceInfo, 0, len(found))
	for _, d := range found {
		infos = append(infos, DeviceInfo{ID: d.DeviceID, Name: d.DeviceName, Path: d.DevicePath, Driver: "v4l2"})
	}
	return infos, nil
}
