package curling

import (
	"encoding/json"
	"math"
	"math/rand"
)

// PlayerNormalDist is the type tag of the gaussian-noise player.
const PlayerNormalDist = "normal_dist"

// NormalDistPlayerFactory builds players that add normally distributed
// noise to the release speed and direction and clamp the speed. A nil Seed
// materializes a random one at CreatePlayer so the game log can record a
// replayable configuration.
type NormalDistPlayerFactory struct {
	MaxSpeed    float64 `json:"max_speed"`
	StddevSpeed float64 `json:"stddev_speed"`
	StddevAngle float64 `json:"stddev_angle"`
	Seed        *uint64 `json:"seed"`
}

// NewNormalDistPlayerFactory returns the default noise parameters.
func NewNormalDistPlayerFactory() NormalDistPlayerFactory {
	return NormalDistPlayerFactory{
		MaxSpeed:    4.0,
		StddevSpeed: 0.0271,
		StddevAngle: 0.0025,
	}
}

func (f *NormalDistPlayerFactory) Type() string { return PlayerNormalDist }

func (f *NormalDistPlayerFactory) CreatePlayer() Player {
	materialized := *f
	if materialized.Seed == nil {
		seed := rand.Uint64()
		materialized.Seed = &seed
	}
	return &normalDistPlayer{
		factory: materialized,
		rng:     rand.New(rand.NewSource(int64(*materialized.Seed))),
	}
}

func (f *NormalDistPlayerFactory) Clone() PlayerFactory {
	c := *f
	if f.Seed != nil {
		seed := *f.Seed
		c.Seed = &seed
	}
	return &c
}

func (f *NormalDistPlayerFactory) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string  `json:"type"`
		MaxSpeed    float64 `json:"max_speed"`
		StddevSpeed float64 `json:"stddev_speed"`
		StddevAngle float64 `json:"stddev_angle"`
		Seed        *uint64 `json:"seed"`
	}{PlayerNormalDist, f.MaxSpeed, f.StddevSpeed, f.StddevAngle, f.Seed})
}

type normalDistPlayer struct {
	factory NormalDistPlayerFactory
	rng     *rand.Rand
}

func (p *normalDistPlayer) Play(shot Shot) Shot {
	speed := math.Hypot(shot.Velocity.X, shot.Velocity.Y)
	angle := math.Atan2(shot.Velocity.Y, shot.Velocity.X)
	speed += p.rng.NormFloat64() * p.factory.StddevSpeed
	angle += p.rng.NormFloat64() * p.factory.StddevAngle
	if speed < 0 {
		speed = 0
	}
	if speed > p.factory.MaxSpeed {
		speed = p.factory.MaxSpeed
	}
	shot.Velocity = Vector2{X: speed * math.Cos(angle), Y: speed * math.Sin(angle)}
	return shot
}

func (p *normalDistPlayer) Factory() PlayerFactory {
	return p.factory.Clone()
}
