package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/core"
)

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// InitLoader points the bindings at the loader entry point handed out by the
// windowing layer. It must run once before any other call in this package.
func InitLoader(getInstanceProcAddr unsafe.Pointer) error {
	if getInstanceProcAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(getInstanceProcAddr)
	instanceProcAddr = getInstanceProcAddr
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}
	return nil
}

type InstanceCreateInfo struct {
	ApplicationName    string
	ApplicationVersion uint32
	// Extensions required by the window system.
	Extensions []string
	// Validation enables the Khronos validation layer and routes its reports
	// to the engine logger.
	Validation bool
}

type Instance struct {
	Handle        vk.Instance
	debugCallback vk.DebugReportCallback
}

func NewInstance(info InstanceCreateInfo) (*Instance, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 3, 0)),
		ApplicationVersion: info.ApplicationVersion,
		PApplicationName:   SafeString(info.ApplicationName),
		PEngineName:        SafeString("miel"),
		EngineVersion:      uint32(vk.MakeVersion(0, 1, 0)),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, info.Extensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if info.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if err := checkValidationLayer(); err != nil {
			return nil, err
		}
		layers = append(layers, validationLayerName)
	}
	core.LogDebug("required instance extensions: %v", extensions)

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = SafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = SafeStrings(layers)

	instance := &Instance{}
	if res := vk.CreateInstance(&createInfo, nil, &instance.Handle); res != vk.Success {
		return nil, newError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(instance.Handle); err != nil {
		vk.DestroyInstance(instance.Handle, nil)
		return nil, err
	}
	core.LogInfo("Vulkan instance created.")

	if info.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(instance.Handle, &debugCreateInfo, nil, &dbg); res != vk.Success {
			instance.Destroy()
			return nil, newError("vkCreateDebugReportCallbackEXT", res)
		}
		instance.debugCallback = dbg
		core.LogDebug("Vulkan debug report callback installed.")
	}
	return instance, nil
}

func (i *Instance) Destroy() {
	if i.Handle == nil {
		return
	}
	if i.debugCallback != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(i.Handle, i.debugCallback, nil)
		i.debugCallback = vk.NullDebugReportCallback
	}
	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(i.Handle, nil)
	i.Handle = nil
}

func checkValidationLayer() error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return newError("vkEnumerateInstanceLayerProperties", res)
	}
	layers := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, layers); res != vk.Success {
		return newError("vkEnumerateInstanceLayerProperties", res)
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == validationLayerName {
			return nil
		}
	}
	return fmt.Errorf("required validation layer is missing: %s", validationLayerName)
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
