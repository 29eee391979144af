package vulkan_test

import (
	"errors"
	"fmt"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/miel/engine/renderer/vulkan"
)

func TestResultString(t *testing.T) {
	tests := []struct {
		result   vk.Result
		extended bool
		want     string
	}{
		{result: vk.Success, want: "VK_SUCCESS"},
		{result: vk.ErrorOutOfDate, want: "VK_ERROR_OUT_OF_DATE_KHR"},
		{result: vk.Timeout, extended: true, want: "VK_TIMEOUT A wait operation has not completed in the specified time"},
		{result: vk.Result(-12345), want: "VkResult(-12345)"},
	}
	for _, tt := range tests {
		if got := vulkan.ResultString(tt.result, tt.extended); got != tt.want {
			t.Errorf("ResultString(%d, %v) = %q, want %q", tt.result, tt.extended, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	err := fmt.Errorf("present: %w", &vulkan.Error{Op: "vkQueuePresentKHR", Result: vk.ErrorOutOfDate})
	if !vulkan.IsOutOfDate(err) {
		t.Error("wrapped out of date error not recognised")
	}
	if vulkan.HasResult(err, vk.ErrorDeviceLost) {
		t.Error("HasResult matched the wrong code")
	}
	if vulkan.IsOutOfDate(errors.New("plain")) {
		t.Error("plain error classified as out of date")
	}
	if !vulkan.IsSuccess(vk.Suboptimal) || vulkan.IsSuccess(vk.ErrorDeviceLost) {
		t.Error("IsSuccess misclassifies status codes")
	}
}

func TestSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "done\x00", ""}
	out := vulkan.SafeStrings(in)
	want := []string{"VK_KHR_surface\x00", "done\x00", "\x00"}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("SafeStrings[%d] = %q, want %q", i, out[i], want[i])
		}
	}
	if in[0] != "VK_KHR_surface" {
		t.Error("SafeStrings modified its input")
	}
}
