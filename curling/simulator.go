package curling

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Simulator steps stone physics in sheet coordinates. Implementations must
// be deterministic: the same stone slots stepped the same number of times
// produce identical poses.
type Simulator interface {
	// SetStones replaces the whole stone array.
	SetStones(stones StoneSlots)
	// Step advances the simulation by one frame.
	Step()
	// Stones returns a copy of the current stone array.
	Stones() StoneSlots
	// AreAllStonesStopped reports whether nothing is moving.
	AreAllStonesStopped() bool
	// SecondsPerFrame returns the simulated time of one Step.
	SecondsPerFrame() float64
	// Factory returns a factory that recreates this simulator.
	Factory() SimulatorFactory
}

// SimulatorFactory builds simulators and serializes as a tagged union on
// "type" so a game log can record exactly what physics a match used.
type SimulatorFactory interface {
	Type() string
	CreateSimulator() Simulator
	Clone() SimulatorFactory
}

// MarshalSimulatorFactory serializes a factory with its type tag.
func MarshalSimulatorFactory(f SimulatorFactory) (json.RawMessage, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "simulator %q", f.Type())
	}
	return data, nil
}

// UnmarshalSimulatorFactory dispatches on the "type" tag.
func UnmarshalSimulatorFactory(data []byte) (SimulatorFactory, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "simulator")
	}
	switch head.Type {
	case SimulatorFCV1:
		f := NewFCV1SimulatorFactory()
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(err, "simulator fcv1")
		}
		if f.SecondsPerFrame <= 0 {
			return nil, errors.New("simulator fcv1: seconds_per_frame must be positive")
		}
		return &f, nil
	default:
		return nil, errors.Errorf("simulator: unknown type %q", head.Type)
	}
}
