package compute

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// OpenCLDeviceInfo captures metadata about an OpenCL device.
type OpenCLDeviceInfo struct {
	Name            string
	Vendor          string
	Version         string
	Type            DeviceType
	MaxComputeUnits uint32
}

// OpenCLPlatformInfo captures metadata about an OpenCL platform and its devices.
type OpenCLPlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Devices []OpenCLDeviceInfo
}
