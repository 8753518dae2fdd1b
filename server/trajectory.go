package server

import (
	"github.com/dcurling/matchserver/curling"
)

// TrajectoryDiff is one stone whose pose changed since the previous frame.
// A nil value is a stone that left play.
type TrajectoryDiff struct {
	Team  curling.Team       `json:"team"`
	Index int                `json:"index"`
	Value *curling.Transform `json:"value"`
}

// Trajectory is the compressed path of one shot: the full stone layout at
// start and finish plus per-frame diffs in between, all in end-relative
// coordinates.
type Trajectory struct {
	SecondsPerFrame float64            `json:"seconds_per_frame"`
	Start           curling.Stones     `json:"start"`
	Finish          curling.Stones     `json:"finish"`
	Frames          [][]TrajectoryDiff `json:"frames"`
}

// TrajectoryCompressor samples the simulator while a shot plays out,
// keeping one frame every stepsPerFrame steps. Call Begin before the shot,
// OnStep on every physics step and End once the shot is applied; End's
// simulator snapshot (taken after out-of-play stones are removed) becomes
// the finish layout.
type TrajectoryCompressor struct {
	active        bool
	frameCount    int
	stepsPerFrame int
	end           uint8
	prev          curling.Stones
	result        Trajectory
}

func (c *TrajectoryCompressor) Begin(stepsPerFrame int, end uint8) {
	if c.active {
		panic("trajectory compressor: Begin while active")
	}
	c.active = true
	c.frameCount = 0
	c.stepsPerFrame = stepsPerFrame
	c.end = end
	c.result = Trajectory{Frames: make([][]TrajectoryDiff, 0, 16)}
}

func (c *TrajectoryCompressor) OnStep(sim curling.Simulator) {
	if !c.active {
		panic("trajectory compressor: OnStep while inactive")
	}
	if c.frameCount == 0 {
		c.setFirstFrame(sim)
	} else if c.frameCount%c.stepsPerFrame == 0 || sim.AreAllStonesStopped() {
		// A frame on every boundary, plus a final one the moment
		// everything has stopped so the tail of the shot is never lost.
		c.addFrameDiff(sim)
	}
	c.frameCount++
}

func (c *TrajectoryCompressor) End(sim curling.Simulator) {
	if !c.active {
		panic("trajectory compressor: End while inactive")
	}
	if c.frameCount == 0 {
		// No physics ran for this move.
		c.setFirstFrame(sim)
	}
	c.result.Finish = curling.StonesFromStoneSlots(sim.Stones(), c.end)
	c.active = false
}

// Result returns the compressed trajectory of the last Begin/End cycle.
func (c *TrajectoryCompressor) Result() Trajectory {
	return c.result
}

func (c *TrajectoryCompressor) setFirstFrame(sim curling.Simulator) {
	current := curling.StonesFromStoneSlots(sim.Stones(), c.end)
	c.prev = current
	c.result.Start = current
	c.result.SecondsPerFrame = sim.SecondsPerFrame() * float64(c.stepsPerFrame)
}

func (c *TrajectoryCompressor) addFrameDiff(sim curling.Simulator) {
	current := curling.StonesFromStoneSlots(sim.Stones(), c.end)
	diffs := make([]TrajectoryDiff, 0, 4)
	for team := curling.Team0; team <= curling.Team1; team++ {
		for i := 0; i < curling.StonesPerTeam; i++ {
			prev := c.prev[team][i]
			cur := current[team][i]
			if stoneChanged(prev, cur) {
				diffs = append(diffs, TrajectoryDiff{Team: team, Index: i, Value: cur})
			}
		}
	}
	c.result.Frames = append(c.result.Frames, diffs)
	c.prev = current
}

func stoneChanged(prev, cur *curling.Transform) bool {
	if (prev == nil) != (cur == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return prev.Position != cur.Position || prev.Angle != cur.Angle
}
