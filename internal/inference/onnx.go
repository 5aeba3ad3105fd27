package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hshadab/rugdetector/internal/features"
)

// The classifier is exported from sklearn with zipmap disabled, so the
// probability output is a plain float tensor.
const (
	onnxInputName  = "float_input"
	onnxOutputName = "probabilities"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the shared onnxruntime library once per
// process. An empty libraryPath uses the library's default lookup.
func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXModel runs the exported classifier through onnxruntime. Sessions
// are not safe for concurrent Run calls, so each call is serialized.
type ONNXModel struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

// LoadONNX loads the model file and prepares an inference session.
func LoadONNX(modelPath, libraryPath string) (*ONNXModel, error) {
	if err := initRuntime(libraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{onnxInputName}, []string{onnxOutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", modelPath, err)
	}
	return &ONNXModel{session: session}, nil
}

func (m *ONNXModel) Run(input []float32) ([]float32, error) {
	if len(input) != features.Width {
		return nil, fmt.Errorf("%w: got %d inputs, want %d", ErrShapeMismatch, len(input), features.Width)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, features.Width), input)
	if err != nil {
		return nil, fmt.Errorf("failed to build input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	m.mu.Lock()
	defer m.mu.Unlock()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("session run failed: %w", err)
	}
	defer outputs[0].Destroy()

	probTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output is not a float tensor", ErrShapeMismatch)
	}

	// Copy out before Destroy invalidates the backing data.
	data := probTensor.GetData()
	probs := make([]float32, len(data))
	copy(probs, data)
	return probs, nil
}

func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}
