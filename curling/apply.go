package curling

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Shots per end protected by the five-rock rule, and the spin a delivered
// stone is released with.
const (
	fiveRockShots = 5
	releaseSpin   = 1.57 // rad/s
)

// ApplyMoveResult reports side effects of a move beyond the state change.
type ApplyMoveResult struct {
	FreeGuardZoneFoul bool
}

// ApplyMove plays one move for the team returned by state.GetNextTeam and
// advances the state: thinking time is charged first (running out loses the
// game), a concede ends the game, and a shot is handed to the player,
// delivered, simulated until all stones stop, checked against the five-rock
// rule and the out-of-play lines, and scored when it closes the end.
//
// The move is rewritten in place with the shot the player actually
// delivered. onStep, when not nil, is called right after the stone is
// placed and again after every simulator step.
func ApplyMove(setting GameSetting, sim Simulator, player Player, state *GameState, move *Move, elapsed time.Duration, result *ApplyMoveResult, onStep func(Simulator)) error {
	if state.GameResult != nil {
		return errors.New("apply move: game is already over")
	}
	if result != nil {
		*result = ApplyMoveResult{}
	}
	team := state.GetNextTeam()

	if elapsed < 0 {
		elapsed = 0
	}
	remaining := state.ThinkingTimeRemaining[team].Duration()
	if elapsed >= remaining {
		state.ThinkingTimeRemaining[team] = 0
		state.GameResult = &GameResult{Winner: team.Opponent(), Reason: ReasonTimeLimit}
		return nil
	}
	state.ThinkingTimeRemaining[team] = Milliseconds(remaining - elapsed)

	if move.IsConcede() {
		state.GameResult = &GameResult{Winner: team.Opponent(), Reason: ReasonConcede}
		return nil
	}
	if move.Type != MoveTypeShot {
		return errors.Errorf("apply move: unknown move type %q", move.Type)
	}
	if !isFinite(move.Shot.Velocity.X) || !isFinite(move.Shot.Velocity.Y) {
		return errors.New("apply move: shot velocity must be finite")
	}
	if !move.Shot.Rotation.valid() {
		return errors.Errorf("apply move: unknown rotation %q", move.Shot.Rotation)
	}

	// The player decides what actually leaves the hand; the move keeps it.
	move.Shot = player.Play(move.Shot)

	slots := sim.Stones()
	preShot := copyStoneSlots(slots)

	// Opponent stones protected by the five-rock rule, noted before the shot.
	var protected []int
	if setting.FiveRockRule && state.Shot < fiveRockShots {
		for i := 0; i < StonesPerTeam; i++ {
			idx := SlotIndex(team.Opponent(), i)
			if st := slots[idx]; st != nil {
				pos := TransformForEnd(st.Transform, state.End).Position
				if inFreeGuardZone(pos) {
					protected = append(protected, idx)
				}
			}
		}
	}

	delivered := SlotIndex(team, int(state.Shot)/2)
	if slots[delivered] != nil {
		return errors.Errorf("apply move: stone slot %d is already occupied", delivered)
	}
	velocity := move.Shot.Velocity
	if state.End%2 == 1 {
		velocity = Vector2{X: -velocity.X, Y: -velocity.Y}
	}
	spin := releaseSpin
	if move.Shot.Rotation == RotationCW {
		spin = -releaseSpin
	}
	slots[delivered] = &StoneState{
		Transform:       TransformForEnd(Transform{Position: Vector2{Y: HackY}}, state.End),
		LinearVelocity:  velocity,
		AngularVelocity: spin,
	}
	sim.SetStones(slots)

	if onStep != nil {
		onStep(sim)
	}
	// The simulator always runs at least one step, so even a dead shot
	// yields a settled frame.
	for {
		sim.Step()
		if onStep != nil {
			onStep(sim)
		}
		if sim.AreAllStonesStopped() {
			break
		}
	}

	after := sim.Stones()
	foul := false
	for _, idx := range protected {
		st := after[idx]
		if st == nil || stoneOutOfBounds(TransformForEnd(st.Transform, state.End).Position, setting.SheetWidth) {
			foul = true
			break
		}
	}
	if foul {
		// The board is restored and the delivered stone is forfeited.
		if result != nil {
			result.FreeGuardZoneFoul = true
		}
		sim.SetStones(preShot)
		after = preShot
	} else {
		for idx, st := range after {
			if st == nil {
				continue
			}
			pos := TransformForEnd(st.Transform, state.End).Position
			out := stoneOutOfBounds(pos, setting.SheetWidth)
			if idx == delivered && !out {
				// A delivered stone must fully cross the hog line.
				out = pos.Y-StoneRadius <= HogLineY
			}
			if out {
				after[idx] = nil
			}
		}
		sim.SetStones(after)
	}

	state.Stones = StonesFromStoneSlots(after, state.End)
	state.Shot++
	if int(state.Shot) < TotalStones {
		return nil
	}
	closeEnd(setting, sim, state, after)
	return nil
}

// closeEnd scores a finished end, moves the hammer, resets the sheet and
// decides the game when regulation or an extra end settles it.
func closeEnd(setting GameSetting, sim Simulator, state *GameState, slots StoneSlots) {
	played := state.End
	score, scorer := houseScore(slots, played)

	var s0, s1 uint32
	if score > 0 && scorer == Team0 {
		s0 = score
	} else if score > 0 {
		s1 = score
	}
	if int(played) < int(setting.MaxEnd) {
		a, b := s0, s1
		state.Scores[Team0][played] = &a
		state.Scores[Team1][played] = &b
	} else {
		a, b := s0, s1
		state.ExtraEndScore[Team0] = &a
		state.ExtraEndScore[Team1] = &b
	}

	// The hammer stays after a blank end, otherwise the scored-against
	// team takes it.
	if score > 0 {
		state.Hammer = scorer.Opponent()
	}

	state.End++
	state.Shot = 0
	state.Stones = Stones{}
	sim.SetStones(StoneSlots{})

	if int(played) >= int(setting.MaxEnd) {
		// Extra end: the first one with a score decides.
		if score > 0 {
			state.GameResult = &GameResult{Winner: scorer, Reason: ReasonScore}
			return
		}
	} else if state.End == setting.MaxEnd {
		t0, t1 := state.GetTotalScore(Team0), state.GetTotalScore(Team1)
		if t0 != t1 {
			winner := Team0
			if t1 > t0 {
				winner = Team1
			}
			state.GameResult = &GameResult{Winner: winner, Reason: ReasonScore}
			return
		}
	}
	if state.End >= setting.MaxEnd {
		// Extra ends run on their own clock, reset every extra end.
		state.ThinkingTimeRemaining = setting.ExtraEndThinkingTime
	}
}

// houseScore counts the end like an umpire: the team with the stone closest
// to the tee scores one point per stone nearer than the opponent's best.
func houseScore(slots StoneSlots, end uint8) (uint32, Team) {
	var inHouse [2][]float64
	for team := Team0; team <= Team1; team++ {
		for i := 0; i < StonesPerTeam; i++ {
			st := slots[SlotIndex(team, i)]
			if st == nil {
				continue
			}
			pos := TransformForEnd(st.Transform, end).Position
			d := math.Hypot(pos.X, pos.Y-TeeLineY)
			if d <= HouseRadius+StoneRadius {
				inHouse[team] = append(inHouse[team], d)
			}
		}
	}
	best := [2]float64{math.Inf(1), math.Inf(1)}
	for team, dists := range inHouse {
		for _, d := range dists {
			if d < best[team] {
				best[team] = d
			}
		}
	}
	if best[0] == best[1] {
		// Empty house, or an exact measurement tie: blank end.
		return 0, Team0
	}
	scorer := Team0
	if best[1] < best[0] {
		scorer = Team1
	}
	var count uint32
	for _, d := range inHouse[scorer] {
		if d < best[scorer.Opponent()] {
			count++
		}
	}
	return count, scorer
}

// inFreeGuardZone reports whether an end-relative position lies between the
// hog line and the tee line, outside the house.
func inFreeGuardZone(pos Vector2) bool {
	if pos.Y <= HogLineY || pos.Y > TeeLineY {
		return false
	}
	return math.Hypot(pos.X, pos.Y-TeeLineY) > HouseRadius+StoneRadius
}

// stoneOutOfBounds reports whether an end-relative position is out of play:
// fully past the back line or touching a side line.
func stoneOutOfBounds(pos Vector2, sheetWidth float64) bool {
	if pos.Y-StoneRadius > BackLineY {
		return true
	}
	return math.Abs(pos.X)+StoneRadius > sheetWidth/2
}
