package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// Device describes an input device as enumerated at startup.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
}

func deviceFromInfo(index int, info *portaudio.DeviceInfo) Device {
	return Device{
		Index:             index,
		Name:              info.Name,
		MaxInputChannels:  info.MaxInputChannels,
		DefaultSampleRate: info.DefaultSampleRate,
	}
}

// ListDevices enumerates devices that have at least one input channel.
// Device indexes refer to the full portaudio device table, so an index
// returned here is valid for Open.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}

	var devices []Device
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, deviceFromInfo(i, info))
	}
	return devices, nil
}
