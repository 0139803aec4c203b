package vision

import (
	"fmt"
	"regexp"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortInit guards onnxruntime_go's process-global environment: the library
// permits exactly one InitializeEnvironment call per process, so Detector
// and Recognizer share it rather than each owning a lifecycle.
var ortInit sync.Once
var ortInitErr error

func ensureRuntime() error {
	ortInit.Do(func() {
		if ort.IsInitialized() {
			return
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// resolveOutputNames maps a session's declared output names onto the
// pattern-named slots a caller expects, falling back to positional order
// when none of the declared names match any pattern. Mirrors spec.md
// §4.3's detector tensor-resolution rule. Only the detector calls it; the
// recognizer binds its model's first declared output directly.
func resolveOutputNames(declared []string, patterns []*regexp.Regexp) ([]string, bool) {
	if len(patterns) == 0 {
		return nil, true
	}
	resolved := make([]string, len(patterns))
	matchedAny := false
	used := make(map[string]bool, len(declared))

	for i, pat := range patterns {
		for _, name := range declared {
			if used[name] {
				continue
			}
			if pat.MatchString(name) {
				resolved[i] = name
				used[name] = true
				matchedAny = true
				break
			}
		}
	}

	if !matchedAny {
		if len(declared) < len(patterns) {
			return nil, false
		}
		copy(resolved, declared[:len(patterns)])
		return resolved, true
	}

	for i, name := range resolved {
		if name == "" {
			return nil, false
		}
		_ = i
	}
	return resolved, true
}

func describeModelInputOutput(modelPath string) (inputs, outputs []ort.InputOutputInfo, err error) {
	inputs, outputs, err = ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, nil, fmt.Errorf("inspecting onnx model %s: %w", modelPath, err)
	}
	return inputs, outputs, nil
}

func namesOf(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}
