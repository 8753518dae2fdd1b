// Package curling implements the rules of digital curling: game state and
// scoring, moves, the stone simulator and the players that perturb shots.
package curling

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// Stone counts for the normal rule (four players a side, two stones each).
const (
	StonesPerTeam = 8
	TotalStones   = StonesPerTeam * 2
)

// Sheet geometry in meters. The origin is the center of the sheet and the
// y axis points from one house to the other. Ends alternate direction; all
// zone checks work in end-relative coordinates where the target house sits
// at positive y.
const (
	StoneRadius = 0.145
	HouseRadius = 1.829

	TeeLineY  = 17.3735            // center of the target house
	BackLineY = TeeLineY + HouseRadius
	HogLineY  = TeeLineY - 6.401
	HackY     = -TeeLineY // delivery spot, in front of the far house
)

// Team identifies one of the two sides. JSON carries it as the number 0 or
// 1; team-keyed JSON objects use the string keys "0" and "1".
type Team int

const (
	Team0 Team = 0
	Team1 Team = 1
)

// Opponent returns the other team.
func (t Team) Opponent() Team {
	return 1 - t
}

// Key returns the JSON object key for the team.
func (t Team) Key() string {
	if t == Team0 {
		return "0"
	}
	return "1"
}

func (t Team) String() string {
	if t == Team0 {
		return "team0"
	}
	return "team1"
}

// Vector2 is a 2D vector in sheet coordinates.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform is the pose of a stone.
type Transform struct {
	Position Vector2 `json:"position"`
	Angle    float64 `json:"angle"`
}

// Stones holds each team's stones for the current end, indexed by throw
// order. A nil entry is a stone that is not (or no longer) on the sheet.
type Stones [2][StonesPerTeam]*Transform

type teamStonesJSON struct {
	Team0 []*Transform `json:"0"`
	Team1 []*Transform `json:"1"`
}

func (s Stones) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamStonesJSON{s[0][:], s[1][:]})
}

func (s *Stones) UnmarshalJSON(data []byte) error {
	var raw teamStonesJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "stones")
	}
	for team, list := range [2][]*Transform{raw.Team0, raw.Team1} {
		if len(list) != StonesPerTeam {
			return errors.Errorf("stones: team %d has %d entries, want %d", team, len(list), StonesPerTeam)
		}
		copy(s[team][:], list)
	}
	return nil
}

// StoneState is a stone as the simulator sees it.
type StoneState struct {
	Transform
	LinearVelocity  Vector2
	AngularVelocity float64
}

// StoneSlots is the simulator's stone array. Team 0 owns slots 0..7 and
// team 1 owns slots 8..15; a team's i-th stone of the end sits at
// SlotIndex(team, i).
type StoneSlots [TotalStones]*StoneState

// SlotIndex returns the simulator slot for a team's i-th stone of the end.
func SlotIndex(team Team, i int) int {
	return int(team)*StonesPerTeam + i
}

// StonesFromStoneSlots converts the simulator's slot array into per-team
// stones in end-relative coordinates for the given end. Odd ends are thrown
// toward the opposite house, so their poses are point-reflected about the
// sheet center.
func StonesFromStoneSlots(slots StoneSlots, end uint8) Stones {
	var stones Stones
	for team := Team0; team <= Team1; team++ {
		for i := 0; i < StonesPerTeam; i++ {
			st := slots[SlotIndex(team, i)]
			if st == nil {
				continue
			}
			t := TransformForEnd(st.Transform, end)
			stones[team][i] = &t
		}
	}
	return stones
}

// TransformForEnd maps a pose between sheet coordinates and end-relative
// coordinates. The mapping is a point reflection for odd ends and the
// identity for even ends; it is its own inverse.
func TransformForEnd(t Transform, end uint8) Transform {
	if end%2 == 0 {
		return t
	}
	return Transform{
		Position: Vector2{X: -t.Position.X, Y: -t.Position.Y},
		Angle:    NormalizeAngle(t.Angle + math.Pi),
	}
}

// NormalizeAngle keeps an angle within [-PI, PI).
func NormalizeAngle(angle float64) float64 {
	a := math.Mod(angle+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
