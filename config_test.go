package aubo_arm

import (
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := &Config{Host: "192.168.1.100"}
	if _, _, err := cfg.Validate(""); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if cfg.Port != DefaultStatePort {
		t.Errorf("expected default port %d, got %d", DefaultStatePort, cfg.Port)
	}
	if cfg.ReversePort != DefaultReversePort {
		t.Errorf("expected default reverse port %d, got %d", DefaultReversePort, cfg.ReversePort)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected default timeout 5s, got %v", cfg.Timeout)
	}
	if len(cfg.JointNames) != NumJoints {
		t.Fatalf("expected %d default joint names, got %d", NumJoints, len(cfg.JointNames))
	}
	if cfg.JointNames[0] != "shoulder_joint" {
		t.Errorf("unexpected first joint name %q", cfg.JointNames[0])
	}
	if cfg.MaxVelocity != DefaultMaxVelocity {
		t.Errorf("expected default max velocity %f, got %f", DefaultMaxVelocity, cfg.MaxVelocity)
	}
	if len(cfg.GoalTolerances) != NumJoints {
		t.Fatalf("expected %d goal tolerances, got %d", NumJoints, len(cfg.GoalTolerances))
	}
	for i, tol := range cfg.GoalTolerances {
		if tol != DefaultGoalTolerance {
			t.Errorf("tolerance %d: expected %f, got %f", i, DefaultGoalTolerance, tol)
		}
	}

	if want := "192.168.1.100:11211"; cfg.addr() != want {
		t.Errorf("expected addr %q, got %q", want, cfg.addr())
	}
}

func TestConfigValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing host", Config{}},
		{"bad port", Config{Host: "h", Port: 70000}},
		{"bad reverse port", Config{Host: "h", ReversePort: -1}},
		{"wrong joint count", Config{Host: "h", JointNames: []string{"a", "b"}}},
		{"negative velocity", Config{Host: "h", MaxVelocity: -1}},
		{"wrong tolerance count", Config{Host: "h", GoalTolerances: []float64{0.1}}},
		{"non-positive tolerance", Config{Host: "h", GoalTolerances: []float64{0.1, 0.1, 0, 0.1, 0.1, 0.1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := tc.cfg.Validate(""); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestJointOffsetsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.json")
	offsets := JointOffsets{
		"shoulder_joint": 0.015,
		"wrist3_joint":   -0.02,
	}
	if err := SaveJointOffsets(path, offsets); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadJointOffsets(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded["shoulder_joint"] != 0.015 {
		t.Errorf("expected shoulder offset 0.015, got %f", loaded["shoulder_joint"])
	}
	if loaded["wrist3_joint"] != -0.02 {
		t.Errorf("expected wrist3 offset -0.02, got %f", loaded["wrist3_joint"])
	}

	vec := loaded.vector(DefaultJointNames)
	if len(vec) != NumJoints {
		t.Fatalf("expected %d offsets, got %d", NumJoints, len(vec))
	}
	if vec[0] != 0.015 || vec[5] != -0.02 {
		t.Errorf("unexpected offset vector %v", vec)
	}
	// Uncalibrated joints default to zero.
	if vec[1] != 0 || vec[2] != 0 {
		t.Errorf("expected zero offsets for uncalibrated joints, got %v", vec)
	}
}

func TestLoadCalibration(t *testing.T) {
	t.Run("no file configured", func(t *testing.T) {
		cfg := &Config{Host: "h"}
		cfg.Validate("")
		offsets, fromFile := cfg.LoadCalibration(nil)
		if fromFile {
			t.Error("expected fromFile=false with no calibration file")
		}
		if len(offsets) != 0 {
			t.Errorf("expected empty offsets, got %v", offsets)
		}
	})

	t.Run("missing file falls back to zero offsets", func(t *testing.T) {
		cfg := &Config{Host: "h", CalibrationFile: filepath.Join(t.TempDir(), "nope.json")}
		cfg.Validate("")
		_, fromFile := cfg.LoadCalibration(nil)
		if fromFile {
			t.Error("expected fromFile=false for a missing file")
		}
	})

	t.Run("relative path resolves under VIAM_MODULE_DATA", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("VIAM_MODULE_DATA", dir)
		if err := SaveJointOffsets(filepath.Join(dir, "cal.json"), JointOffsets{"foreArm_joint": 0.1}); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		cfg := &Config{Host: "h", CalibrationFile: "cal.json"}
		cfg.Validate("")
		offsets, fromFile := cfg.LoadCalibration(nil)
		if !fromFile {
			t.Fatal("expected calibration to load from the module data dir")
		}
		if offsets["foreArm_joint"] != 0.1 {
			t.Errorf("expected foreArm offset 0.1, got %f", offsets["foreArm_joint"])
		}
	})
}
