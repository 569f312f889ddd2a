package sim

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/armkit/manipsim/action"
)

// exportDoc is the JSON layout consumed by downstream analysis tooling.
type exportDoc struct {
	NumActions int            `json:"num_actions"`
	Timestep   float64        `json:"timestep"`
	Actions    []exportAction `json:"actions"`
}

type exportAction struct {
	Action            action.Spec    `json:"action"`
	Success           bool           `json:"success"`
	Validation        Validation     `json:"validation"`
	Motion            MotionLog      `json:"motion"`
	SimulatedDuration float64        `json:"simulated_duration"`
	Trajectory        [][]float64    `json:"trajectory"`
	Forces            []float64      `json:"forces"`
	Contacts          []ContactEvent `json:"contacts"`
}

// Export writes the results of a simulated sequence as one JSON document,
// including the full setpoint trajectories and per-step forces.
func Export(w io.Writer, results []*Result) error {
	doc := exportDoc{
		NumActions: len(results),
		Actions:    make([]exportAction, 0, len(results)),
	}
	for _, res := range results {
		if doc.Timestep == 0 && res.Trajectory != nil {
			doc.Timestep = res.Trajectory.Timestep
		}
		ea := exportAction{
			Action:            res.Action,
			Success:           res.Success,
			Validation:        res.Validation,
			Motion:            res.Motion,
			SimulatedDuration: res.SimulatedDuration,
		}
		if res.Trajectory != nil {
			ea.Trajectory = res.Trajectory.Steps
		}
		if res.Telemetry != nil {
			ea.Forces = res.Telemetry.Forces
			ea.Contacts = res.Telemetry.Contacts
		}
		doc.Actions = append(doc.Actions, ea)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "cannot export results")
	}
	return nil
}
