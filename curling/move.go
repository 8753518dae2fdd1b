package curling

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Move types.
const (
	MoveTypeShot    = "shot"
	MoveTypeConcede = "concede"
)

// Stone rotation directions, as seen from above.
const (
	RotationCW  Rotation = "cw"
	RotationCCW Rotation = "ccw"
)

// Rotation is the spin applied to a delivered stone.
type Rotation string

func (r Rotation) valid() bool {
	return r == RotationCW || r == RotationCCW
}

// Shot is a stone delivery: the requested release velocity in end-relative
// coordinates (y toward the target house) and the spin direction.
type Shot struct {
	Velocity Vector2  `json:"velocity"`
	Rotation Rotation `json:"rotation"`
}

// Move is what a client plays on its turn: either a shot or a concession.
// It serializes as a tagged union on "type".
type Move struct {
	Type string
	Shot Shot // valid only when Type is MoveTypeShot
}

// NewShot returns a shot move.
func NewShot(velocity Vector2, rotation Rotation) Move {
	return Move{Type: MoveTypeShot, Shot: Shot{Velocity: velocity, Rotation: rotation}}
}

// NewConcede returns a concede move.
func NewConcede() Move {
	return Move{Type: MoveTypeConcede}
}

// IsConcede reports whether the move gives up the game.
func (m Move) IsConcede() bool {
	return m.Type == MoveTypeConcede
}

type shotMoveJSON struct {
	Type     string   `json:"type"`
	Velocity Vector2  `json:"velocity"`
	Rotation Rotation `json:"rotation"`
}

type concedeMoveJSON struct {
	Type string `json:"type"`
}

func (m Move) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MoveTypeShot:
		return json.Marshal(shotMoveJSON{MoveTypeShot, m.Shot.Velocity, m.Shot.Rotation})
	case MoveTypeConcede:
		return json.Marshal(concedeMoveJSON{MoveTypeConcede})
	default:
		return nil, errors.Errorf("move: unknown type %q", m.Type)
	}
}

func (m *Move) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return errors.Wrap(err, "move")
	}
	switch head.Type {
	case MoveTypeShot:
		var raw shotMoveJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return errors.Wrap(err, "move")
		}
		if !isFinite(raw.Velocity.X) || !isFinite(raw.Velocity.Y) {
			return errors.New("move: shot velocity must be finite")
		}
		if !raw.Rotation.valid() {
			return errors.Errorf("move: unknown rotation %q", raw.Rotation)
		}
		*m = Move{Type: MoveTypeShot, Shot: Shot{Velocity: raw.Velocity, Rotation: raw.Rotation}}
	case MoveTypeConcede:
		*m = Move{Type: MoveTypeConcede}
	default:
		return errors.Errorf("move: unknown type %q", head.Type)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
