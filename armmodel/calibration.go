package armmodel

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/armkit/manipsim/action"
)

// Calibration holds the empirically tuned per-action-class constants for one
// arm geometry. The heading offsets in particular are calibration data, not
// derived values; retargeting to a different arm means re-measuring them.
type Calibration struct {
	// HeadingOffset corrects the base yaw computed from the target bearing
	// for the gripper mounting.
	HeadingOffset float64 `json:"heading_offset"`
	// MaxReach bounds the distance the IK solver will target; targets
	// beyond it are pulled in to MaxReach*ReachScale, keeping their
	// height when possible.
	MaxReach   float64 `json:"max_reach"`
	ReachScale float64 `json:"reach_scale"`
	// AttachMidpoint and AttachFinger bound how far a candidate object may
	// be from the finger midpoint and from each finger for the attachment
	// manager to engage.
	AttachMidpoint float64 `json:"attach_midpoint"`
	AttachFinger   float64 `json:"attach_finger"`
}

// Table maps action classes to calibration entries.
type Table struct {
	Grasp     Calibration `json:"grasp"`
	Placement Calibration `json:"placement"`
	Contact   Calibration `json:"contact"`
	Free      Calibration `json:"free"`
}

// ForClass returns the entry for an action class.
func (t Table) ForClass(c action.Class) Calibration {
	switch c {
	case action.ClassGrasp:
		return t.Grasp
	case action.ClassPlacement:
		return t.Placement
	case action.ClassContact:
		return t.Contact
	default:
		return t.Free
	}
}

var defaultSixDOFTable = Table{
	Grasp:     Calibration{HeadingOffset: 1.4, MaxReach: 0.30, ReachScale: 0.95, AttachMidpoint: 0.08, AttachFinger: 0.10},
	Placement: Calibration{HeadingOffset: 1.373, MaxReach: 0.30, ReachScale: 0.95, AttachMidpoint: 0.25, AttachFinger: 0.30},
	Contact:   Calibration{HeadingOffset: 1.373, MaxReach: 0.30, ReachScale: 0.95},
	Free:      Calibration{HeadingOffset: 1.373, MaxReach: 0.30, ReachScale: 0.95},
}

var defaultThreeDOFTable = Table{
	Grasp:     Calibration{MaxReach: 0.45, ReachScale: 0.95, AttachMidpoint: 0.08, AttachFinger: 0.10},
	Placement: Calibration{MaxReach: 0.45, ReachScale: 0.95, AttachMidpoint: 0.25, AttachFinger: 0.30},
	Contact:   Calibration{MaxReach: 0.45, ReachScale: 0.95},
	Free:      Calibration{MaxReach: 0.45, ReachScale: 0.95},
}

// LoadCalibration reads a calibration table from a JSON file.
func LoadCalibration(path string) (Table, error) {
	var t Table
	data, err := os.ReadFile(path)
	if err != nil {
		return t, errors.Wrap(err, "cannot read calibration file")
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, errors.Wrap(err, "cannot parse calibration file")
	}
	for name, c := range map[string]Calibration{
		"grasp": t.Grasp, "placement": t.Placement, "contact": t.Contact, "free": t.Free,
	} {
		if c.MaxReach <= 0 {
			return t, errors.Errorf("calibration %q has non-positive max_reach", name)
		}
		if c.ReachScale <= 0 || c.ReachScale > 1 {
			return t, errors.Errorf("calibration %q has reach_scale outside (0, 1]", name)
		}
	}
	return t, nil
}
