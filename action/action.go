// Package action defines the structured manipulation action records consumed
// by the simulator. Records are produced by an external text-to-action
// extractor and are read-only inputs here.
package action

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Type enumerates the supported manipulation action types.
type Type uint8

// The closed set of action types. Anything unrecognized decodes to
// TypeUnknown and synthesizes with the default move-and-hold behavior.
const (
	TypeUnknown Type = iota
	TypeWait
	TypeApply
	TypeScrub
	TypeRinse
	TypeDry
	TypeVacuum
	TypeMove
	TypeRemove
	TypeCheck
	TypePick
	TypeGrasp
	TypePlace
	TypePut
)

var typeNames = map[Type]string{
	TypeUnknown: "unknown",
	TypeWait:    "wait",
	TypeApply:   "apply",
	TypeScrub:   "scrub",
	TypeRinse:   "rinse",
	TypeDry:     "dry",
	TypeVacuum:  "vacuum",
	TypeMove:    "move",
	TypeRemove:  "remove",
	TypeCheck:   "check",
	TypePick:    "pick",
	TypeGrasp:   "grasp",
	TypePlace:   "place",
	TypePut:     "put",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", t)
}

// TypeFromName maps an extractor's action tag to a Type. Unrecognized tags
// return TypeUnknown and false.
func TypeFromName(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == strings.ToLower(strings.TrimSpace(name)) && t != TypeUnknown {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Pattern enumerates the motion patterns a scrub action may carry.
type Pattern uint8

// Scrub motion patterns.
const (
	PatternNone Pattern = iota
	PatternCircular
	PatternBackAndForth
)

func (p Pattern) String() string {
	switch p {
	case PatternCircular:
		return "circular"
	case PatternBackAndForth:
		return "back_and_forth"
	default:
		return "none"
	}
}

// PatternFromName maps an extractor's pattern tag to a Pattern.
func PatternFromName(name string) Pattern {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "circular", "circle":
		return PatternCircular
	case "back_and_forth", "back-and-forth", "linear":
		return PatternBackAndForth
	default:
		return PatternNone
	}
}

// Class groups action types by how the simulator treats the grasped object
// and which validation criteria apply.
type Class uint8

// Action classes.
const (
	// ClassFree actions neither contact surfaces nor manipulate objects.
	ClassFree Class = iota
	// ClassContact actions press a tool against a surface.
	ClassContact
	// ClassGrasp actions close the gripper around an object and lift it.
	ClassGrasp
	// ClassPlacement actions transport a held object and release it.
	ClassPlacement
)

// Class returns the class of the action type.
func (t Type) Class() Class {
	switch t {
	case TypePick, TypeGrasp:
		return ClassGrasp
	case TypePlace, TypePut:
		return ClassPlacement
	case TypeApply, TypeScrub, TypeRinse, TypeDry, TypeVacuum:
		return ClassContact
	default:
		return ClassFree
	}
}

// Manipulates reports whether the action class moves a free object and thus
// engages the attachment manager.
func (c Class) Manipulates() bool {
	return c == ClassGrasp || c == ClassPlacement
}

// MotionParams carries the nominal motion profile for an action type.
type MotionParams struct {
	Velocity     float64 // m/s
	Acceleration float64 // m/s^2
	ContactForce float64 // N expected at the tool
}

var motionParams = map[Type]MotionParams{
	TypeApply:  {0.10, 0.5, 5.0},
	TypeScrub:  {0.15, 1.0, 10.0},
	TypeVacuum: {0.20, 0.8, 2.0},
	TypeRinse:  {0.12, 0.6, 1.0},
	TypeDry:    {0.08, 0.4, 3.0},
	TypeWait:   {0, 0, 0},
	TypeRemove: {0.15, 0.7, 0},
	TypeMove:   {0.10, 0.5, 0},
	TypeCheck:  {0.05, 0.3, 0},
	TypePick:   {0.08, 0.4, 0},
	TypeGrasp:  {0.08, 0.4, 0},
	TypePlace:  {0.08, 0.4, 0},
	TypePut:    {0.08, 0.4, 0},
}

// MotionParams returns the nominal motion profile for the action type,
// falling back to the apply profile for unknown types.
func (t Type) MotionParams() MotionParams {
	if p, ok := motionParams[t]; ok {
		return p
	}
	return motionParams[TypeApply]
}

// Spec is one structured manipulation action. Duration is in seconds and
// Force is on the extractor's 0-10 scale.
type Spec struct {
	Type     Type
	Duration float64
	Force    float64
	Pattern  Pattern
	Tool     string
	Order    int
}

// specRecord mirrors the extractor's JSON wire format.
type specRecord struct {
	ActionType string  `json:"action_type"`
	Duration   float64 `json:"duration"`
	Force      float64 `json:"force"`
	Pattern    string  `json:"pattern"`
	Tool       string  `json:"tool"`
	Order      int     `json:"order"`
}

// UnmarshalJSON decodes an extractor record into a Spec.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var rec specRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	t, _ := TypeFromName(rec.ActionType)
	s.Type = t
	s.Duration = rec.Duration
	s.Force = rec.Force
	s.Pattern = PatternFromName(rec.Pattern)
	s.Tool = rec.Tool
	s.Order = rec.Order
	return nil
}

// MarshalJSON encodes a Spec back into the extractor record format.
func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(specRecord{
		ActionType: s.Type.String(),
		Duration:   s.Duration,
		Force:      s.Force,
		Pattern:    s.Pattern.String(),
		Tool:       s.Tool,
		Order:      s.Order,
	})
}

// DecodeSpecs reads a JSON array of extractor records.
func DecodeSpecs(r io.Reader) ([]Spec, error) {
	var specs []Spec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, errors.Wrap(err, "cannot decode action records")
	}
	return specs, nil
}
