package aubo_arm

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// JointOffsets maps a joint name to its calibration offset in radians.
// Offsets are added to outgoing servo commands and subtracted from
// controller-reported positions, so the rest of the driver works in
// calibrated joint space.
type JointOffsets map[string]float64

// vector expands the offsets into the given canonical joint order. Joints
// without a recorded offset get zero.
func (o JointOffsets) vector(jointNames []string) []float64 {
	out := make([]float64, len(jointNames))
	for i, name := range jointNames {
		out[i] = o[name]
	}
	return out
}

// LoadJointOffsets reads an offsets file written by SaveJointOffsets.
func LoadJointOffsets(path string) (JointOffsets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read calibration file %s", path)
	}
	var offsets JointOffsets
	if err := json.Unmarshal(data, &offsets); err != nil {
		return nil, errors.Wrapf(err, "failed to parse calibration file %s", path)
	}
	return offsets, nil
}

// SaveJointOffsets writes the offsets as JSON.
func SaveJointOffsets(path string, offsets JointOffsets) error {
	data, err := json.MarshalIndent(offsets, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal calibration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write calibration file %s", path)
	}
	return nil
}

// LoadCalibration loads joint offsets from the configured file or returns an
// empty set. Returns (offsets, fromFile) where fromFile indicates whether a
// file was actually loaded.
func (cfg *Config) LoadCalibration(logger logging.Logger) (JointOffsets, bool) {
	if cfg.CalibrationFile == "" {
		if logger != nil {
			logger.Debug("No calibration file specified, using zero joint offsets")
		}
		return JointOffsets{}, false
	}

	path := cfg.CalibrationFile
	if !filepath.IsAbs(path) {
		moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
		if moduleDataDir == "" {
			moduleDataDir = "/tmp" // Fallback if VIAM_MODULE_DATA not set
		}
		path = filepath.Join(moduleDataDir, path)
	}

	offsets, err := LoadJointOffsets(path)
	if err != nil {
		if logger != nil {
			logger.Warnf("Failed to load calibration from %s: %v, using zero joint offsets", path, err)
		}
		return JointOffsets{}, false
	}

	for _, name := range cfg.JointNames {
		if offset, ok := offsets[name]; ok {
			if logger != nil {
				logger.Infof("Found calibration offset for joint %q: %.4f", name, offset)
			}
		} else if logger != nil {
			logger.Warnf("No calibration offset for joint %q", name)
		}
	}
	return offsets, true
}
