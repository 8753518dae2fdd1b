package curling

import (
	"encoding/json"
	"math"
)

// SimulatorFCV1 is the type tag of the built-in friction+curl simulator.
const SimulatorFCV1 = "fcv1"

// Physics constants for fcv1.
const (
	frictionDecel = 0.0762 // m/s^2; a 2.3 m/s release runs about one sheet length
	curlAccel     = 0.003  // m/s^2 sideways pull; about 1.3 m over a full draw
	stopSpeed     = 1e-3   // below this a stone is parked
)

// FCV1SimulatorFactory configures the built-in simulator.
type FCV1SimulatorFactory struct {
	SecondsPerFrame float64 `json:"seconds_per_frame"`
}

// NewFCV1SimulatorFactory returns the default configuration (1 ms frames).
func NewFCV1SimulatorFactory() FCV1SimulatorFactory {
	return FCV1SimulatorFactory{SecondsPerFrame: 0.001}
}

func (f *FCV1SimulatorFactory) Type() string { return SimulatorFCV1 }

func (f *FCV1SimulatorFactory) CreateSimulator() Simulator {
	return &fcv1Simulator{factory: *f}
}

func (f *FCV1SimulatorFactory) Clone() SimulatorFactory {
	c := *f
	return &c
}

func (f *FCV1SimulatorFactory) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type            string  `json:"type"`
		SecondsPerFrame float64 `json:"seconds_per_frame"`
	}{SimulatorFCV1, f.SecondsPerFrame})
}

// fcv1Simulator integrates stone motion at a fixed time step. Stones slow
// under constant friction, curl sideways in the direction of their spin and
// exchange velocity along the contact normal when they collide.
type fcv1Simulator struct {
	factory FCV1SimulatorFactory
	stones  StoneSlots
}

func (s *fcv1Simulator) SetStones(stones StoneSlots) {
	s.stones = copyStoneSlots(stones)
}

func (s *fcv1Simulator) Stones() StoneSlots {
	return copyStoneSlots(s.stones)
}

func (s *fcv1Simulator) SecondsPerFrame() float64 {
	return s.factory.SecondsPerFrame
}

func (s *fcv1Simulator) Factory() SimulatorFactory {
	return s.factory.Clone()
}

func (s *fcv1Simulator) AreAllStonesStopped() bool {
	for _, st := range s.stones {
		if st != nil && (st.LinearVelocity.X != 0 || st.LinearVelocity.Y != 0) {
			return false
		}
	}
	return true
}

func (s *fcv1Simulator) Step() {
	dt := s.factory.SecondsPerFrame
	// Slot order is fixed, which keeps the integration deterministic.
	for _, st := range s.stones {
		if st == nil {
			continue
		}
		vx, vy := st.LinearVelocity.X, st.LinearVelocity.Y
		speed := math.Hypot(vx, vy)
		if speed == 0 {
			continue
		}
		// Friction opposes the motion; curl pulls perpendicular to it,
		// to the left of travel for ccw spin and to the right for cw.
		ax := -frictionDecel * vx / speed
		ay := -frictionDecel * vy / speed
		if st.AngularVelocity > 0 {
			ax -= curlAccel * vy / speed
			ay += curlAccel * vx / speed
		} else if st.AngularVelocity < 0 {
			ax += curlAccel * vy / speed
			ay -= curlAccel * vx / speed
		}
		nvx := vx + ax*dt
		nvy := vy + ay*dt
		// Friction never pushes a stone backwards: park it once it is
		// about to stop or reverse.
		if math.Hypot(nvx, nvy) < stopSpeed || nvx*vx+nvy*vy < 0 {
			st.LinearVelocity = Vector2{}
			st.AngularVelocity = 0
			continue
		}
		st.LinearVelocity = Vector2{X: nvx, Y: nvy}
		st.Position.X += nvx * dt
		st.Position.Y += nvy * dt
		st.Angle = NormalizeAngle(st.Angle + st.AngularVelocity*dt)
	}
	s.resolveCollisions()
}

func (s *fcv1Simulator) resolveCollisions() {
	for i := 0; i < TotalStones; i++ {
		a := s.stones[i]
		if a == nil {
			continue
		}
		for j := i + 1; j < TotalStones; j++ {
			b := s.stones[j]
			if b == nil {
				continue
			}
			dx := b.Position.X - a.Position.X
			dy := b.Position.Y - a.Position.Y
			dist := math.Hypot(dx, dy)
			if dist >= 2*StoneRadius || dist == 0 {
				continue
			}
			nx, ny := dx/dist, dy/dist
			// Equal masses: exchange the velocity components along the
			// contact normal when the stones are closing.
			an := a.LinearVelocity.X*nx + a.LinearVelocity.Y*ny
			bn := b.LinearVelocity.X*nx + b.LinearVelocity.Y*ny
			if an-bn > 0 {
				a.LinearVelocity.X += (bn - an) * nx
				a.LinearVelocity.Y += (bn - an) * ny
				b.LinearVelocity.X += (an - bn) * nx
				b.LinearVelocity.Y += (an - bn) * ny
			}
			// Separate overlapping stones symmetrically.
			push := (2*StoneRadius - dist) / 2
			a.Position.X -= push * nx
			a.Position.Y -= push * ny
			b.Position.X += push * nx
			b.Position.Y += push * ny
		}
	}
}

func copyStoneSlots(stones StoneSlots) StoneSlots {
	var out StoneSlots
	for i, st := range stones {
		if st != nil {
			c := *st
			out[i] = &c
		}
	}
	return out
}
