package vision

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// AccelerationBackend names a GPU/NPU family that might be present
// alongside the CPU ONNX Runtime execution provider this package always
// uses. Detection here is purely diagnostic — exposed through Status for
// operators to see what hardware a box has, not a request to change
// inference execution, since spec.md defines no acceleration-selection
// surface (§9 Non-goals scope out any runtime hardware negotiation beyond
// the one CPU execution provider C3 already drives).
type AccelerationBackend struct {
	Name       string
	Available  bool
	DeviceName string
}

// DetectAccelerationBackend probes for AMD ROCm, NVIDIA CUDA, and Intel
// OpenVINO/NPU presence the same way the teacher's acceleration manager
// did (sysfs vendor IDs, `nvidia-smi`/`rocm-smi`, well-known install
// paths), trimmed to detection-only: there is no ONNX Runtime execution
// provider wiring here, so the result is reporting, not selection.
func DetectAccelerationBackend() AccelerationBackend {
	if b := detectROCm(); b.Available {
		return b
	}
	if b := detectCUDA(); b.Available {
		return b
	}
	if b := detectOpenVINO(); b.Available {
		return b
	}
	return AccelerationBackend{Name: "cpu", Available: true, DeviceName: "CPU"}
}

func detectROCm() AccelerationBackend {
	rocmPath := os.Getenv("ROCM_PATH")
	if rocmPath == "" {
		rocmPath = "/opt/rocm"
	}
	if _, err := os.Stat(rocmPath); err != nil {
		return AccelerationBackend{Name: "rocm"}
	}

	if out, err := exec.Command("rocm-smi", "--showproductname").Output(); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, "GPU") || strings.Contains(line, "gfx") {
				return AccelerationBackend{Name: "rocm", Available: true, DeviceName: strings.TrimSpace(line)}
			}
		}
	}

	devices, _ := filepath.Glob("/sys/class/drm/card*/device/vendor")
	for _, dev := range devices {
		if vendor, err := os.ReadFile(dev); err == nil && strings.TrimSpace(string(vendor)) == "0x1002" {
			return AccelerationBackend{Name: "rocm", Available: true, DeviceName: "AMD GPU"}
		}
	}
	return AccelerationBackend{Name: "rocm"}
}

func detectCUDA() AccelerationBackend {
	out, err := exec.Command("nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return AccelerationBackend{Name: "cuda"}
	}
	name := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if name == "" {
		return AccelerationBackend{Name: "cuda"}
	}
	return AccelerationBackend{Name: "cuda", Available: true, DeviceName: name}
}

func detectOpenVINO() AccelerationBackend {
	openvinoPath := os.Getenv("INTEL_OPENVINO_DIR")
	if openvinoPath == "" {
		for _, p := range []string{"/opt/intel/openvino", "/opt/intel/openvino_2024", "/opt/intel/openvino_2023"} {
			if _, err := os.Stat(p); err == nil {
				openvinoPath = p
				break
			}
		}
	}
	if openvinoPath == "" {
		return AccelerationBackend{Name: "openvino"}
	}

	devices, _ := filepath.Glob("/sys/class/drm/card*/device/vendor")
	for _, dev := range devices {
		if vendor, err := os.ReadFile(dev); err == nil && strings.TrimSpace(string(vendor)) == "0x8086" {
			return AccelerationBackend{Name: "openvino", Available: true, DeviceName: "Intel GPU"}
		}
	}
	if _, err := os.Stat("/dev/accel/accel0"); err == nil {
		return AccelerationBackend{Name: "openvino", Available: true, DeviceName: "Intel NPU"}
	}
	return AccelerationBackend{Name: "openvino"}
}
