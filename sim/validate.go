package sim

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/armkit/manipsim/action"
)

// Validation thresholds. Forces come from the extractor's 0-10 force figure
// at two newtons per unit, with a wide tolerance because the contact model
// is a coarse spring penalty.
const (
	motionSettleFraction = 0.10
	motionJumpLimit      = 5.0

	forceScaleNewtons = 2.0
	forceTolerance    = 50.0

	graspDeadline           = 0.75
	graspContactRatio       = 0.7
	graspContactRatioLifted = 0.3
	liftRelaxHeight         = 0.05

	placementTolerance    = 0.15
	placementApproachGain = 0.05
	objectFallLimit       = 0.15
)

// Validation is the post-hoc check of one simulated action. Criteria not
// applicable to the action's class stay true; Valid is the conjunction of
// motion, force, grasp, and placement validity. ContactValid is a diagnostic
// flag for contact where none was expected and never gates Valid.
type Validation struct {
	Valid          bool `json:"valid"`
	MotionValid    bool `json:"motion_valid"`
	ForceValid     bool `json:"force_valid"`
	ContactValid   bool `json:"contact_valid"`
	GraspValid     bool `json:"grasp_valid"`
	PlacementValid bool `json:"placement_valid"`

	// LiftRelaxed reports that the grasp contact ratio only passed under
	// the relaxed bound for an object that was demonstrably lifted.
	LiftRelaxed bool `json:"lift_relaxed,omitempty"`
	// ApproachRelaxed reports that a placement missed the target radius
	// but moved the object materially closer.
	ApproachRelaxed bool `json:"approach_relaxed,omitempty"`

	Issues        []string `json:"issues,omitempty"`
	MaxForce      float64  `json:"max_force"`
	ExpectedForce float64  `json:"expected_force"`
	ContactCount  int      `json:"contact_count"`
}

func validate(spec action.Spec, tel *Telemetry, target r3.Vector) Validation {
	v := Validation{
		MotionValid:    true,
		ForceValid:     true,
		ContactValid:   true,
		GraspValid:     true,
		PlacementValid: true,
	}
	n := len(tel.Joints)
	if n == 0 {
		v.Issues = append(v.Issues, "no telemetry recorded")
		return v
	}
	v.MaxForce = tel.MaxForce()
	v.ContactCount = len(tel.Contacts)
	if spec.Type.MotionParams().ContactForce == 0 && v.ContactCount > 0 {
		v.ContactValid = false
		v.Issues = append(v.Issues, "unexpected contact detected")
	}

	v.checkMotion(tel)
	switch spec.Type.Class() {
	case action.ClassContact:
		v.checkForce(spec, tel)
	case action.ClassGrasp:
		v.checkGrasp(tel)
	case action.ClassPlacement:
		v.checkPlacement(tel, target)
	}
	v.Valid = v.MotionValid && v.ForceValid && v.GraspValid && v.PlacementValid
	return v
}

// checkMotion looks for discontinuities in the measured joints, bounding the
// joint-space displacement between consecutive samples. The first tenth of
// the trajectory is excluded so the controller can settle onto the setpoint
// stream.
func (v *Validation) checkMotion(tel *Telemetry) {
	n := len(tel.Joints)
	settle := int(motionSettleFraction * float64(n))
	for i := settle + 1; i < n; i++ {
		prev, cur := tel.Joints[i-1], tel.Joints[i]
		var sq float64
		for j := range cur {
			d := cur[j] - prev[j]
			sq += d * d
		}
		if math.Sqrt(sq) > motionJumpLimit {
			v.MotionValid = false
			v.Issues = append(v.Issues, "joint position discontinuity")
			return
		}
	}
}

// checkForce compares the peak recorded force to the force the extractor
// asked for. The check is skipped entirely when no contact occurred.
func (v *Validation) checkForce(spec action.Spec, tel *Telemetry) {
	v.ExpectedForce = spec.Force * forceScaleNewtons
	if v.ContactCount == 0 || v.MaxForce == 0 {
		return
	}
	if math.Abs(v.MaxForce-v.ExpectedForce) > forceTolerance {
		v.ForceValid = false
		v.Issues = append(v.Issues, "contact force outside expectation")
	}
}

// checkGrasp requires that once the grasp should be complete, most samples
// with a closed gripper show object contact. The ratio is relaxed when the
// object demonstrably gained height, which is independent lift evidence.
func (v *Validation) checkGrasp(tel *Telemetry) {
	if len(tel.Grip) == 0 {
		v.GraspValid = false
		v.Issues = append(v.Issues, "no gripper telemetry for grasp")
		return
	}
	deadline := graspDeadline * tel.Grip[len(tel.Grip)-1].Time
	var closed, contact int
	for _, g := range tel.Grip {
		if g.Time <= deadline || !g.Closed {
			continue
		}
		closed++
		if g.Contact {
			contact++
		}
	}
	if closed == 0 {
		v.GraspValid = false
		v.Issues = append(v.Issues, "gripper never closed after grasp phase")
		return
	}
	ratio := float64(contact) / float64(closed)
	if ratio >= graspContactRatio {
		return
	}
	if v.maxLift(tel) > liftRelaxHeight && ratio >= graspContactRatioLifted {
		v.LiftRelaxed = true
		return
	}
	v.GraspValid = false
	v.Issues = append(v.Issues, "grasp contact lost")
}

func (v *Validation) maxLift(tel *Telemetry) float64 {
	if len(tel.Objects) == 0 {
		return 0
	}
	base := tel.Objects[0].Position.Z
	var lift float64
	for _, s := range tel.Objects {
		if gain := s.Position.Z - base; gain > lift {
			lift = gain
		}
	}
	return lift
}

func (v *Validation) checkPlacement(tel *Telemetry, target r3.Vector) {
	if len(tel.Objects) == 0 {
		v.PlacementValid = false
		v.Issues = append(v.Issues, "no object telemetry for placement")
		return
	}
	initial := tel.Objects[0].Position
	final := tel.Objects[len(tel.Objects)-1].Position

	if initial.Z-final.Z > objectFallLimit {
		v.PlacementValid = false
		v.Issues = append(v.Issues, "object fell during placement")
		return
	}

	dist := final.Sub(target).Norm()
	if dist <= placementTolerance {
		return
	}
	if initial.Sub(target).Norm()-dist >= placementApproachGain {
		v.ApproachRelaxed = true
		v.Issues = append(v.Issues, "placement short of target but moved closer")
		return
	}
	v.PlacementValid = false
	v.Issues = append(v.Issues, "object not placed at target")
}
