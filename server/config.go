package server

import (
	"encoding/json"
	"os"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"github.com/tidwall/jsonc"

	"github.com/dcurling/matchserver/curling"
)

// The normal rule: four players a side, each throwing two of the team's
// eight stones per end.
const (
	RuleNormal     = "normal"
	PlayersPerTeam = 4
)

// TeamPorts holds each team's listening port, keyed "0" and "1".
type TeamPorts [2]uint16

type teamPortsJSON struct {
	Team0 *uint16 `json:"0"`
	Team1 *uint16 `json:"1"`
}

func (p TeamPorts) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamPortsJSON{&p[0], &p[1]})
}

func (p *TeamPorts) UnmarshalJSON(data []byte) error {
	var raw teamPortsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "port")
	}
	if raw.Team0 == nil || raw.Team1 == nil {
		return errors.New("port: both teams need a port")
	}
	p[0] = *raw.Team0
	p[1] = *raw.Team1
	return nil
}

// ServerConfig is the transport section of the config file.
type ServerConfig struct {
	Port                    TeamPorts            `json:"port"`
	TimeoutDCOk             curling.Milliseconds `json:"timeout_dc_ok"`
	UpdateInterval          curling.Milliseconds `json:"update_interval"`
	SendTrajectory          bool                 `json:"send_trajectory"`
	StepsPerTrajectoryFrame int                  `json:"steps_per_trajectory_frame"`
}

func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Port                    *TeamPorts            `json:"port"`
		TimeoutDCOk             *curling.Milliseconds `json:"timeout_dc_ok"`
		UpdateInterval          curling.Milliseconds  `json:"update_interval"`
		SendTrajectory          *bool                 `json:"send_trajectory"`
		StepsPerTrajectoryFrame *int                  `json:"steps_per_trajectory_frame"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "server")
	}
	if raw.Port == nil {
		return errors.New("server.port is required")
	}
	if raw.TimeoutDCOk == nil {
		return errors.New("server.timeout_dc_ok is required")
	}
	if raw.SendTrajectory == nil {
		return errors.New("server.send_trajectory is required")
	}
	if raw.StepsPerTrajectoryFrame == nil || *raw.StepsPerTrajectoryFrame < 1 {
		return errors.New("server.steps_per_trajectory_frame must be positive")
	}
	c.Port = *raw.Port
	c.TimeoutDCOk = *raw.TimeoutDCOk
	c.UpdateInterval = raw.UpdateInterval
	c.SendTrajectory = *raw.SendTrajectory
	c.StepsPerTrajectoryFrame = *raw.StepsPerTrajectoryFrame
	return nil
}

// GameConfig is the game section of the config file. Simulator and player
// factories are polymorphic, so both directions go through the tagged-union
// helpers of the curling package.
type GameConfig struct {
	Rule      string
	Setting   curling.GameSetting
	Simulator curling.SimulatorFactory
	Players   [2][]curling.PlayerFactory
}

type teamPlayersJSON struct {
	Team0 []json.RawMessage `json:"0"`
	Team1 []json.RawMessage `json:"1"`
}

type gameConfigJSON struct {
	Rule      string              `json:"rule"`
	Setting   curling.GameSetting `json:"setting"`
	Simulator json.RawMessage     `json:"simulator"`
	Players   teamPlayersJSON     `json:"players"`
}

func (c GameConfig) MarshalJSON() ([]byte, error) {
	sim, err := curling.MarshalSimulatorFactory(c.Simulator)
	if err != nil {
		return nil, err
	}
	var players [2][]json.RawMessage
	for team, list := range c.Players {
		for _, factory := range list {
			data, err := curling.MarshalPlayerFactory(factory)
			if err != nil {
				return nil, err
			}
			players[team] = append(players[team], data)
		}
	}
	return json.Marshal(gameConfigJSON{
		Rule:      c.Rule,
		Setting:   c.Setting,
		Simulator: sim,
		Players:   teamPlayersJSON{players[0], players[1]},
	})
}

func (c *GameConfig) UnmarshalJSON(data []byte) error {
	var raw gameConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "game")
	}
	if raw.Rule != RuleNormal {
		return errors.Errorf("game.rule %q is not supported", raw.Rule)
	}
	sim, err := curling.UnmarshalSimulatorFactory(raw.Simulator)
	if err != nil {
		return errors.Wrap(err, "game.simulator")
	}
	var players [2][]curling.PlayerFactory
	for team, list := range [2][]json.RawMessage{raw.Players.Team0, raw.Players.Team1} {
		if len(list) != PlayersPerTeam {
			return errors.Errorf("game.players: team %d has %d players, the normal rule needs %d",
				team, len(list), PlayersPerTeam)
		}
		for i, entry := range list {
			p, err := curling.UnmarshalPlayerFactory(entry)
			if err != nil {
				return errors.Wrapf(err, "game.players: team %d player %d", team, i)
			}
			players[team] = append(players[team], p)
		}
	}
	c.Rule = raw.Rule
	c.Setting = raw.Setting
	c.Simulator = sim
	c.Players = players
	return nil
}

// Config is everything the server reads from its config file, with the
// ready-phase echo payload already resolved.
type Config struct {
	Server      ServerConfig    `json:"server"`
	Game        GameConfig      `json:"game"`
	GameIsReady json.RawMessage `json:"game_is_ready"`
}

// LoadConfig reads and parses a config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	config, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return config, nil
}

// ParseConfig parses config JSON. Line comments are allowed. The
// game_is_ready payload is resolved here: taken verbatim, produced by
// applying game_is_ready_patch to the game subtree, or defaulted to the
// game subtree itself.
func ParseConfig(data []byte) (*Config, error) {
	var raw struct {
		Server           json.RawMessage `json:"server"`
		Game             json.RawMessage `json:"game"`
		GameIsReady      json.RawMessage `json:"game_is_ready"`
		GameIsReadyPatch json.RawMessage `json:"game_is_ready_patch"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	if len(raw.Server) == 0 {
		return nil, errors.New("config: server section is required")
	}
	if len(raw.Game) == 0 {
		return nil, errors.New("config: game section is required")
	}

	var server ServerConfig
	if err := json.Unmarshal(raw.Server, &server); err != nil {
		return nil, err
	}
	var game GameConfig
	if err := json.Unmarshal(raw.Game, &game); err != nil {
		return nil, err
	}

	if raw.GameIsReady != nil && raw.GameIsReadyPatch != nil {
		return nil, errors.New(`specify only one of "game_is_ready" or "game_is_ready_patch"`)
	}
	var gameIsReady json.RawMessage
	switch {
	case raw.GameIsReady != nil:
		gameIsReady = raw.GameIsReady
	case raw.GameIsReadyPatch != nil:
		patch, err := jsonpatch.DecodePatch(raw.GameIsReadyPatch)
		if err != nil {
			return nil, errors.Wrap(err, "game_is_ready_patch")
		}
		patched, err := patch.Apply(raw.Game)
		if err != nil {
			return nil, errors.Wrap(err, "apply game_is_ready_patch")
		}
		gameIsReady = patched
	default:
		gameIsReady = raw.Game
	}

	return &Config{
		Server:      server,
		Game:        game,
		GameIsReady: gameIsReady,
	}, nil
}
