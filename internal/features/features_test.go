package features

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeatureOrderComplete(t *testing.T) {
	seen := make(map[string]bool, Width)
	for _, name := range FeatureOrder {
		if name == "" {
			t.Fatal("empty feature name in order")
		}
		if seen[name] {
			t.Fatalf("duplicate feature name %q", name)
		}
		seen[name] = true
	}
	if len(seen) != Width {
		t.Fatalf("feature order has %d unique names, want %d", len(seen), Width)
	}
}

func TestToVector(t *testing.T) {
	named := map[string]any{
		"hasOwnershipTransfer": true,
		"hasRenounceOwnership": false,
		"ownerBalance":         float64(1500.5),
		"holderCount":          float64(4200),
		"complexityScore":      0.73,
	}
	v := ToVector(named, discardLogger())

	if v[0] != 1 {
		t.Errorf("true bool should coerce to 1, got %v", v[0])
	}
	if v[1] != 0 {
		t.Errorf("false bool should coerce to 0, got %v", v[1])
	}
	if v[2] != 1500.5 {
		t.Errorf("ownerBalance = %v, want 1500.5", v[2])
	}
	if v[22] != 4200 {
		t.Errorf("holderCount = %v, want 4200", v[22])
	}
	// Everything absent is zero-filled.
	if v[59] != 0 {
		t.Errorf("missing feature should default to 0, got %v", v[59])
	}
}

func TestToVectorNonNumeric(t *testing.T) {
	named := map[string]any{
		"ownerBalance": "not a number",
		"holderCount":  nil,
	}
	v := ToVector(named, discardLogger())
	if v[2] != 0 || v[22] != 0 {
		t.Error("non-numeric values should default to 0")
	}
}

func TestSubprocessEmptyCommand(t *testing.T) {
	if _, err := NewSubprocess("   ", time.Second, nil, discardLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestSubprocessCommandParsing(t *testing.T) {
	s, err := NewSubprocess("python3 model/extract_features.py", 30*time.Second, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Command) != 2 || s.Command[0] != "python3" {
		t.Fatalf("unexpected argv %v", s.Command)
	}
}

func TestSubprocessTimeout(t *testing.T) {
	// Extract appends the address and chain to the argv, which a bare
	// "sleep 5" would reject as invalid intervals; use a script that
	// ignores its arguments and sleeps. exec keeps sleep in the PID the
	// deadline kill targets, so Run's pipes close when it dies.
	script := filepath.Join(t.TempDir(), "slow.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	s, err := NewSubprocess("/bin/sh "+script, 100*time.Millisecond, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = s.Extract(context.Background(), "0xabc", "ethereum")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrExtractionTimeout) {
		t.Fatalf("err = %v, want ErrExtractionTimeout", err)
	}
	if elapsed > time.Second {
		t.Fatalf("extraction ran %v, should be killed shortly after its 100ms deadline", elapsed)
	}
}

func TestSubprocessPassesChainRPCURL(t *testing.T) {
	script := filepath.Join(t.TempDir(), "extract.sh")
	content := "#!/bin/sh\nprintf '{\"rpcUrl\":\"%s\"}' \"$RPC_URL\"\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}

	s, err := NewSubprocess("/bin/sh "+script, 5*time.Second, map[string]string{
		"ethereum": "https://eth.example",
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}

	named, err := s.Extract(context.Background(), "0xabc", "ethereum")
	if err != nil {
		t.Fatal(err)
	}
	if named["rpcUrl"] != "https://eth.example" {
		t.Fatalf("script saw RPC_URL=%v, want the configured ethereum endpoint", named["rpcUrl"])
	}
}

func TestStaticExtractor(t *testing.T) {
	s := &Static{Features: map[string]any{"holderCount": float64(10)}}
	named, err := s.Extract(context.Background(), "0xabc", "ethereum")
	if err != nil {
		t.Fatal(err)
	}
	if named["holderCount"] != float64(10) {
		t.Fatal("static extractor did not return configured map")
	}
}
