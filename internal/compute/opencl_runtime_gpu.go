//go:build gpu

package compute

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>

static const char* iconlayers_cl_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_MAP_FAILURE: return "CL_MAP_FAILURE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
	case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
	case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	default: return "CL_UNKNOWN_ERROR";
	}
}

static cl_command_queue iconlayers_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
#if CL_TARGET_OPENCL_VERSION >= 200
	const cl_queue_properties props[] = {0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
#else
	return clCreateCommandQueue(ctx, device, 0, status);
#endif
}
*/
import "C"

import (
	"errors"
	"fmt"
)

// openCLDevice owns the OpenCL context and command queue used by the SLIC
// assignment kernel in internal/slic. The center-update and aggregation
// scatters do not run on this device; they always use ReduceByLabel.
type openCLDevice struct {
	platformID C.cl_platform_id
	deviceID   C.cl_device_id
	context    C.cl_context
	queue      C.cl_command_queue
	Platform   OpenCLPlatformInfo
	Device     OpenCLDeviceInfo
}

// ErrNoDevices indicates that no usable OpenCL devices were found.
var ErrNoDevices = errors.New("compute: no OpenCL devices found")

func statusError(op string, status C.cl_int) error {
	return fmt.Errorf("compute: %s failed: %s (%d)", op, C.GoString(C.iconlayers_cl_error_string(status)), int(status))
}

// newOpenCLDevice selects a device (GPU preferred, then CPU) and creates a context.
func newOpenCLDevice() (Device, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, ErrNoDevices)
	}

	type selection struct {
		platform platformRecord
		device   deviceRecord
	}
	var chosen *selection

	for _, platform := range records {
		for _, device := range platform.devices {
			if device.info.Type == DeviceTypeGPU {
				chosen = &selection{platform, device}
				break
			}
		}
		if chosen != nil {
			break
		}
	}
	if chosen == nil {
		for _, platform := range records {
			for _, device := range platform.devices {
				if device.info.Type == DeviceTypeCPU {
					chosen = &selection{platform, device}
					break
				}
			}
			if chosen != nil {
				break
			}
		}
	}
	if chosen == nil {
		for _, platform := range records {
			if len(platform.devices) > 0 {
				chosen = &selection{platform, platform.devices[0]}
				break
			}
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, ErrNoDevices)
	}

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &chosen.device.id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}

	queue := C.iconlayers_create_queue(context, chosen.device.id, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseContext(context)
		return nil, statusError("clCreateCommandQueue", status)
	}

	return &openCLDevice{
		platformID: chosen.platform.id,
		deviceID:   chosen.device.id,
		context:    context,
		queue:      queue,
		Platform:   chosen.platform.info,
		Device:     chosen.device.info,
	}, nil
}

func (d *openCLDevice) Backend() Backend { return BackendOpenCL }

func (d *openCLDevice) Close() {
	if d == nil {
		return
	}
	if d.queue != nil {
		C.clReleaseCommandQueue(d.queue)
		d.queue = nil
	}
	if d.context != nil {
		C.clReleaseContext(d.context)
		d.context = nil
	}
}

type platformRecord struct {
	id      C.cl_platform_id
	info    OpenCLPlatformInfo
	devices []deviceRecord
}

type deviceRecord struct {
	id   C.cl_device_id
	info OpenCLDeviceInfo
}

func enumeratePlatformRecords() ([]platformRecord, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	platformIDs := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &platformIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetPlatformIDs(list)", status)
	}

	records := make([]platformRecord, 0, int(count))
	for _, pid := range platformIDs {
		name, err := getPlatformString(pid, C.CL_PLATFORM_NAME)
		if err != nil {
			return nil, err
		}
		vendor, err := getPlatformString(pid, C.CL_PLATFORM_VENDOR)
		if err != nil {
			return nil, err
		}
		version, err := getPlatformString(pid, C.CL_PLATFORM_VERSION)
		if err != nil {
			return nil, err
		}

		rec := platformRecord{
			id: pid,
			info: OpenCLPlatformInfo{
				Name:    name,
				Vendor:  vendor,
				Version: version,
			},
		}

		devs, err := enumerateDeviceRecords(pid)
		if err != nil {
			return nil, err
		}
		rec.devices = devs
		records = append(records, rec)
	}
	return records, nil
}

func enumerateDeviceRecords(platform C.cl_platform_id) ([]deviceRecord, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	deviceIDs := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &deviceIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, statusError("clGetDeviceIDs(list)", status)
	}

	out := make([]deviceRecord, 0, int(count))
	for _, did := range deviceIDs {
		name, err := getDeviceString(did, C.CL_DEVICE_NAME)
		if err != nil {
			return nil, err
		}
		vendor, err := getDeviceString(did, C.CL_DEVICE_VENDOR)
		if err != nil {
			return nil, err
		}
		version, err := getDeviceString(did, C.CL_DEVICE_VERSION)
		if err != nil {
			return nil, err
		}

		var clType C.cl_device_type
		status = C.clGetDeviceInfo(did, C.CL_DEVICE_TYPE, C.size_t(unsafeSizeof(clType)), unsafePointerOf(&clType), nil)
		if status != C.CL_SUCCESS {
			return nil, statusError("clGetDeviceInfo(type)", status)
		}

		var units C.cl_uint
		status = C.clGetDeviceInfo(did, C.CL_DEVICE_MAX_COMPUTE_UNITS, C.size_t(unsafeSizeof(units)), unsafePointerOf(&units), nil)
		if status != C.CL_SUCCESS {
			return nil, statusError("clGetDeviceInfo(max_compute_units)", status)
		}

		out = append(out, deviceRecord{
			id: did,
			info: OpenCLDeviceInfo{
				Name:            name,
				Vendor:          vendor,
				Version:         version,
				Type:            deviceTypeFromCL(clType),
				MaxComputeUnits: uint32(units),
			},
		})
	}
	return out, nil
}

func deviceTypeFromCL(t C.cl_device_type) DeviceType {
	switch {
	case t&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case t&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case t&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case t&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func getPlatformString(platform C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(platform, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetPlatformInfo(size)", status)
	}
	buf := make([]byte, int(size))
	if size > 0 {
		status = C.clGetPlatformInfo(platform, param, size, unsafePointerOf(&buf[0]), nil)
		if status != C.CL_SUCCESS {
			return "", statusError("clGetPlatformInfo(value)", status)
		}
	}
	return trimNul(buf), nil
}

func getDeviceString(device C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(device, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", statusError("clGetDeviceInfo(size)", status)
	}
	buf := make([]byte, int(size))
	if size > 0 {
		status = C.clGetDeviceInfo(device, param, size, unsafePointerOf(&buf[0]), nil)
		if status != C.CL_SUCCESS {
			return "", statusError("clGetDeviceInfo(value)", status)
		}
	}
	return trimNul(buf), nil
}

func trimNul(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
