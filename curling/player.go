package curling

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Player turns the shot a client asked for into the shot that actually
// happens, modeling the thrower's skill. Implementations may clamp the
// speed and perturb the release.
type Player interface {
	// Play returns the shot as delivered.
	Play(shot Shot) Shot
	// Factory returns a factory that recreates this player exactly,
	// including any randomness parameters materialized at creation.
	Factory() PlayerFactory
}

// PlayerFactory builds players and serializes as a tagged union on "type".
type PlayerFactory interface {
	Type() string
	CreatePlayer() Player
	Clone() PlayerFactory
}

// MarshalPlayerFactory serializes a factory with its type tag.
func MarshalPlayerFactory(f PlayerFactory) (json.RawMessage, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "player %q", f.Type())
	}
	return data, nil
}

// UnmarshalPlayerFactory dispatches on the "type" tag.
func UnmarshalPlayerFactory(data []byte) (PlayerFactory, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "player")
	}
	switch head.Type {
	case PlayerIdentical:
		var f IdenticalPlayerFactory
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(err, "player identical")
		}
		return &f, nil
	case PlayerNormalDist:
		f := NewNormalDistPlayerFactory()
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(err, "player normal_dist")
		}
		if f.MaxSpeed <= 0 {
			return nil, errors.New("player normal_dist: max_speed must be positive")
		}
		if f.StddevSpeed < 0 || f.StddevAngle < 0 {
			return nil, errors.New("player normal_dist: stddev must not be negative")
		}
		return &f, nil
	default:
		return nil, errors.Errorf("player: unknown type %q", head.Type)
	}
}
