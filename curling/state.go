package curling

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Reasons a game ends.
const (
	ReasonScore     = "score"      // decided on points
	ReasonConcede   = "concede"    // a team gave up
	ReasonTimeLimit = "time_limit" // a team ran out of thinking time
)

// GameResult reports the winner once the game is decided.
type GameResult struct {
	Winner Team   `json:"winner"`
	Reason string `json:"reason"`
}

// TeamScores holds the per-end scores of both teams, keyed by "0" and "1".
// An entry is nil until the end has been played.
type TeamScores [2][]*uint32

type teamScoresJSON struct {
	Team0 []*uint32 `json:"0"`
	Team1 []*uint32 `json:"1"`
}

func (s TeamScores) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamScoresJSON{s[0], s[1]})
}

func (s *TeamScores) UnmarshalJSON(data []byte) error {
	var raw teamScoresJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "scores")
	}
	s[0], s[1] = raw.Team0, raw.Team1
	return nil
}

// TeamExtraEndScore holds the score of the last played extra end, nil while
// none has been played.
type TeamExtraEndScore [2]*uint32

type teamExtraEndScoreJSON struct {
	Team0 *uint32 `json:"0"`
	Team1 *uint32 `json:"1"`
}

func (s TeamExtraEndScore) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamExtraEndScoreJSON{s[0], s[1]})
}

func (s *TeamExtraEndScore) UnmarshalJSON(data []byte) error {
	var raw teamExtraEndScoreJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "extra end score")
	}
	s[0], s[1] = raw.Team0, raw.Team1
	return nil
}

// GameState is the authoritative state of one game between moves.
type GameState struct {
	End                   uint8             `json:"end"`  // 0-based; >= MaxEnd means an extra end
	Shot                  uint8             `json:"shot"` // 0..15 within the end
	Hammer                Team              `json:"hammer"`
	Stones                Stones            `json:"stones"`
	Scores                TeamScores        `json:"scores"`
	ExtraEndScore         TeamExtraEndScore `json:"extra_end_score"`
	ThinkingTimeRemaining TeamMilliseconds  `json:"thinking_time_remaining"`
	GameResult            *GameResult       `json:"game_result"`
}

// NewGameState returns the state before the first shot. Team 1 has the
// hammer in the first end, so team 0 throws first.
func NewGameState(setting GameSetting) GameState {
	return GameState{
		Hammer: Team1,
		Scores: TeamScores{
			make([]*uint32, setting.MaxEnd),
			make([]*uint32, setting.MaxEnd),
		},
		ThinkingTimeRemaining: setting.ThinkingTime,
	}
}

// GetNextTeam returns the team that throws the next stone. Shots alternate
// within an end and the hammer team throws last, so even shots belong to
// the non-hammer team.
func (s *GameState) GetNextTeam() Team {
	if s.Shot%2 == 0 {
		return s.Hammer.Opponent()
	}
	return s.Hammer
}

// GetTotalScore sums a team's end scores, including any extra end.
func (s *GameState) GetTotalScore(team Team) uint32 {
	var total uint32
	for _, sc := range s.Scores[team] {
		if sc != nil {
			total += *sc
		}
	}
	if sc := s.ExtraEndScore[team]; sc != nil {
		total += *sc
	}
	return total
}
