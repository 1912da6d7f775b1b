// Package onnx wraps shared ONNX Runtime environment setup for the onnx-based
// backends: shared-library discovery, one-time environment initialization,
// and CUDA provider probing with silent CPU fallback.
package onnx

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

var initOnce sync.Once

// EnsureEnvironment points onnxruntime_go at the shared library and
// initializes the environment exactly once per process.
func EnsureEnvironment() error {
	var err error
	initOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath())
		if e := ort.InitializeEnvironment(); e != nil {
			err = fmt.Errorf("failed to initialize ONNX runtime: %w", e)
		}
	})
	return err
}

func libPath() string {
	if envPath := os.Getenv("ONNXRUNTIME_LIB_PATH"); envPath != "" {
		return envPath
	}

	var candidates []string
	var fallback string
	switch runtime.GOOS {
	case "windows":
		candidates = []string{
			"onnxruntime.dll",
			"./onnxruntime.dll",
			"./lib/onnxruntime.dll",
		}
		fallback = "onnxruntime.dll"
	case "darwin":
		candidates = []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
		}
		fallback = "libonnxruntime.dylib"
	default:
		candidates = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.so",
			"./lib/libonnxruntime.so",
		}
		fallback = "libonnxruntime.so"
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fallback
}

// SessionOptions builds session options, probing for the CUDA execution
// provider when useGPU is requested. An unavailable accelerator downgrades
// to CPU and is reported through the returned flag; it never fails.
func SessionOptions(useGPU bool) (*ort.SessionOptions, bool, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session options: %w", err)
	}

	if !useGPU {
		return options, false, nil
	}

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		log.Warn().Err(err).Msg("CUDA provider not available, falling back to CPU")
		return options, false, nil
	}
	defer cudaOpts.Destroy()

	if err := options.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		log.Warn().Err(err).Msg("CUDA provider rejected, falling back to CPU")
		return options, false, nil
	}

	log.Info().Msg("CUDA provider enabled for inference session")
	return options, true, nil
}
