package vulkan

/*
#include <stdlib.h>

typedef void* (*mielGetProcAddr)(void* handle, const char* name);
typedef void (*mielCmdBeginRendering)(void* commandBuffer, const void* renderingInfo);
typedef void (*mielCmdEndRendering)(void* commandBuffer);

static void* mielLoadProc(void* getProcAddr, void* handle, const char* name) {
	return ((mielGetProcAddr)getProcAddr)(handle, name);
}

static void mielCmdBeginRenderingCall(void* fn, void* commandBuffer, const void* renderingInfo) {
	((mielCmdBeginRendering)fn)(commandBuffer, renderingInfo);
}

static void mielCmdEndRenderingCall(void* fn, void* commandBuffer) {
	((mielCmdEndRendering)fn)(commandBuffer);
}
*/
import "C"

import (
	"errors"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// The bindings stop at Vulkan 1.2 commands, so dynamic rendering is loaded
// from the device directly.

var ErrDynamicRenderingUnavailable = errors.New("device exposes neither vkCmdBeginRendering nor vkCmdBeginRenderingKHR")

// instanceProcAddr is the vkGetInstanceProcAddr handed to InitLoader.
var instanceProcAddr unsafe.Pointer

type renderingCommands struct {
	begin unsafe.Pointer
	end   unsafe.Pointer
}

func loadProc(getProcAddr, handle unsafe.Pointer, name string) unsafe.Pointer {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return C.mielLoadProc(getProcAddr, handle, cname)
}

// loadRenderingCommands resolves the core entry points first and falls back
// to the VK_KHR_dynamic_rendering ones.
func loadRenderingCommands(instance vk.Instance, device vk.Device) (renderingCommands, error) {
	if instanceProcAddr == nil {
		return renderingCommands{}, errors.New("vulkan loader is not initialized")
	}
	getDeviceProcAddr := loadProc(instanceProcAddr, unsafe.Pointer(instance), "vkGetDeviceProcAddr")
	if getDeviceProcAddr == nil {
		return renderingCommands{}, errors.New("vkGetDeviceProcAddr is not available")
	}
	for _, suffix := range []string{"", "KHR"} {
		rc := renderingCommands{
			begin: loadProc(getDeviceProcAddr, unsafe.Pointer(device), "vkCmdBeginRendering"+suffix),
			end:   loadProc(getDeviceProcAddr, unsafe.Pointer(device), "vkCmdEndRendering"+suffix),
		}
		if rc.begin != nil && rc.end != nil {
			return rc, nil
		}
	}
	return renderingCommands{}, ErrDynamicRenderingUnavailable
}

func (rc renderingCommands) cmdBegin(cmd vk.CommandBuffer, info *vk.RenderingInfo) {
	ref, _ := info.PassRef()
	C.mielCmdBeginRenderingCall(rc.begin, unsafe.Pointer(cmd), unsafe.Pointer(ref))
	info.Free()
}

func (rc renderingCommands) cmdEnd(cmd vk.CommandBuffer) {
	C.mielCmdEndRenderingCall(rc.end, unsafe.Pointer(cmd))
}
