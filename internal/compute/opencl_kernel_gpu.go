//go:build gpu

package compute

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// slicAssignKernelSource implements the SLIC assignment pass as an OpenCL
// kernel: for each pixel, scan the candidate centers supplied by the
// caller (already narrowed to the grid neighborhood on the host) and keep
// the nearest by the combined color+spatial distance.
const slicAssignKernelSource = `
__kernel void slic_assign(
    __global const float *labXY,       // per-pixel: L, a, b, x, y (5 floats)
    __global const float *centers,     // per-candidate: L, a, b, x, y (5 floats)
    __global const int *candidateBase, // per-pixel offset into candidateIdx
    __global const int *candidateCount,
    __global const int *candidateIdx,  // flattened candidate center indices
    const float spatialWeight,
    const float searchRegion,
    const int pixelCount,
    __global int *outLabel,
    __global float *outDistance) {

    const int p = get_global_id(0);
    if (p >= pixelCount) {
        return;
    }

    const float px = labXY[p * 5 + 3];
    const float py = labXY[p * 5 + 4];

    float bestDist = INFINITY;
    int bestLabel = -1;

    const int base = candidateBase[p];
    const int count = candidateCount[p];

    for (int i = 0; i < count; ++i) {
        const int c = candidateIdx[base + i];
        const float cx = centers[c * 5 + 3];
        const float cy = centers[c * 5 + 4];

        const float dx = px - cx;
        const float dy = py - cy;
        const float spatial = sqrt(dx * dx + dy * dy);
        if (spatial >= searchRegion) {
            continue;
        }

        const float dl = labXY[p * 5 + 0] - centers[c * 5 + 0];
        const float da = labXY[p * 5 + 1] - centers[c * 5 + 1];
        const float db = labXY[p * 5 + 2] - centers[c * 5 + 2];
        const float color = sqrt(dl * dl + da * da + db * db);

        const float d = sqrt(color * color + spatial * spatial * spatialWeight * spatialWeight);
        if (d < bestDist) {
            bestDist = d;
            bestLabel = c;
        }
    }

    outLabel[p] = bestLabel;
    outDistance[p] = bestDist;
}
`

// AssignNearestCenters runs the SLIC assignment kernel on this device.
// labXY is pixelCount*5 floats (L,a,b,x,y); centers is numCenters*5 floats.
// candidateBase/candidateCount/candidateIdx encode, per pixel, which
// centers the host-side grid search narrowed down to (mirrors the CPU
// path's (2*searchRange+1)^2 grid-cell neighborhood walk in internal/slic).
func (d *openCLDevice) AssignNearestCenters(
	labXY, centers []float32,
	candidateBase, candidateCount, candidateIdx []int32,
	spatialWeight, searchRegion float32,
) (labels []int32, distances []float32, err error) {
	pixelCount := len(labXY) / 5

	program, kernel, err := d.buildKernel(slicAssignKernelSource, "slic_assign")
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseKernel(kernel)
	defer C.clReleaseProgram(program)

	labXYBuf, err := d.createReadBuffer(unsafe.Pointer(&labXY[0]), len(labXY)*4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(labXYBuf)

	centersBuf, err := d.createReadBuffer(unsafe.Pointer(&centers[0]), len(centers)*4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(centersBuf)

	baseBuf, err := d.createReadBuffer(unsafe.Pointer(&candidateBase[0]), len(candidateBase)*4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(baseBuf)

	countBuf, err := d.createReadBuffer(unsafe.Pointer(&candidateCount[0]), len(candidateCount)*4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(countBuf)

	idxBuf, err := d.createReadBuffer(unsafe.Pointer(&candidateIdx[0]), len(candidateIdx)*4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(idxBuf)

	outLabelBuf, err := d.createWriteBuffer(pixelCount * 4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(outLabelBuf)

	outDistBuf, err := d.createWriteBuffer(pixelCount * 4)
	if err != nil {
		return nil, nil, err
	}
	defer C.clReleaseMemObject(outDistBuf)

	args := []C.cl_mem{labXYBuf, centersBuf, baseBuf, countBuf, idxBuf}
	for i, arg := range args {
		if status := C.clSetKernelArg(kernel, C.cl_uint(i), C.size_t(unsafe.Sizeof(arg)), unsafe.Pointer(&args[i])); status != C.CL_SUCCESS {
			return nil, nil, statusError(fmt.Sprintf("clSetKernelArg(%d)", i), status)
		}
	}
	if status := C.clSetKernelArg(kernel, 5, C.size_t(unsafe.Sizeof(spatialWeight)), unsafe.Pointer(&spatialWeight)); status != C.CL_SUCCESS {
		return nil, nil, statusError("clSetKernelArg(spatialWeight)", status)
	}
	if status := C.clSetKernelArg(kernel, 6, C.size_t(unsafe.Sizeof(searchRegion)), unsafe.Pointer(&searchRegion)); status != C.CL_SUCCESS {
		return nil, nil, statusError("clSetKernelArg(searchRegion)", status)
	}
	cPixelCount := C.int(pixelCount)
	if status := C.clSetKernelArg(kernel, 7, C.size_t(unsafe.Sizeof(cPixelCount)), unsafe.Pointer(&cPixelCount)); status != C.CL_SUCCESS {
		return nil, nil, statusError("clSetKernelArg(pixelCount)", status)
	}
	if status := C.clSetKernelArg(kernel, 8, C.size_t(unsafe.Sizeof(outLabelBuf)), unsafe.Pointer(&outLabelBuf)); status != C.CL_SUCCESS {
		return nil, nil, statusError("clSetKernelArg(outLabel)", status)
	}
	if status := C.clSetKernelArg(kernel, 9, C.size_t(unsafe.Sizeof(outDistBuf)), unsafe.Pointer(&outDistBuf)); status != C.CL_SUCCESS {
		return nil, nil, statusError("clSetKernelArg(outDistance)", status)
	}

	global := C.size_t(pixelCount)
	if status := C.clEnqueueNDRangeKernel(d.queue, kernel, 1, nil, &global, nil, 0, nil, nil); status != C.CL_SUCCESS {
		return nil, nil, statusError("clEnqueueNDRangeKernel", status)
	}

	labels = make([]int32, pixelCount)
	distances = make([]float32, pixelCount)
	if status := C.clEnqueueReadBuffer(d.queue, outLabelBuf, C.CL_TRUE, 0, C.size_t(pixelCount*4), unsafe.Pointer(&labels[0]), 0, nil, nil); status != C.CL_SUCCESS {
		return nil, nil, statusError("clEnqueueReadBuffer(labels)", status)
	}
	if status := C.clEnqueueReadBuffer(d.queue, outDistBuf, C.CL_TRUE, 0, C.size_t(pixelCount*4), unsafe.Pointer(&distances[0]), 0, nil, nil); status != C.CL_SUCCESS {
		return nil, nil, statusError("clEnqueueReadBuffer(distances)", status)
	}

	return labels, distances, nil
}

func (d *openCLDevice) buildKernel(source, name string) (C.cl_program, C.cl_kernel, error) {
	cSource := C.CString(source)
	defer C.free(unsafe.Pointer(cSource))

	var status C.cl_int
	program := C.clCreateProgramWithSource(d.context, 1, &cSource, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, nil, statusError("clCreateProgramWithSource", status)
	}

	status = C.clBuildProgram(program, 1, &d.deviceID, nil, nil, nil)
	if status != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		return nil, nil, statusError("clBuildProgram", status)
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	kernel := C.clCreateKernel(program, cName, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		return nil, nil, statusError("clCreateKernel", status)
	}

	return program, kernel, nil
}

func (d *openCLDevice) createReadBuffer(data unsafe.Pointer, size int) (C.cl_mem, error) {
	var status C.cl_int
	buf := C.clCreateBuffer(d.context, C.CL_MEM_READ_ONLY|C.CL_MEM_COPY_HOST_PTR, C.size_t(size), data, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateBuffer(read)", status)
	}
	return buf, nil
}

func (d *openCLDevice) createWriteBuffer(size int) (C.cl_mem, error) {
	var status C.cl_int
	buf := C.clCreateBuffer(d.context, C.CL_MEM_WRITE_ONLY, C.size_t(size), nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateBuffer(write)", status)
	}
	return buf, nil
}
