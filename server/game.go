package server

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dcurling/matchserver/curling"
)

// Per-client protocol states.
type clientState int

const (
	stateBeforeSessionStart clientState = iota
	stateDC
	stateReady
	stateNewGame
	stateMyTurn
	stateOpponentTurn
	stateGameOver
)

// messageDeliverer queues one message for a client, optionally arming its
// input deadline. Implemented by Server; the seam keeps the protocol
// testable without sockets.
type messageDeliverer interface {
	DeliverMessage(clientID int, message string, inputTimeout time.Duration) error
}

type gameClient struct {
	state       clientState
	name        string
	playerOrder []int
	players     []curling.Player
}

// Game drives the match protocol: handshake, ready barrier, alternating
// moves, game over. All methods run on the server's event loop, so no
// locking; every returned error is fatal to the match.
type Game struct {
	deliverer messageDeliverer
	config    *Config
	log       *Log
	dateTime  string
	gameID    string

	dcJSON     string
	clients    [2]gameClient
	simulator  curling.Simulator
	state      curling.GameState
	compressor TrajectoryCompressor

	lastMoveValid      bool
	lastMoveFoul       bool
	lastMoveActual     json.RawMessage
	lastMoveTrajectory json.RawMessage
}

type protocolVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

type dcMessage struct {
	Cmd      string          `json:"cmd"`
	Version  protocolVersion `json:"version"`
	GameID   string          `json:"game_id"`
	DateTime string          `json:"date_time"`
}

// isReadyMessage doubles as the wire form (team set) and the game log form
// (team null).
type isReadyMessage struct {
	Cmd  string          `json:"cmd"`
	Game json.RawMessage `json:"game"`
	Team *curling.Team   `json:"team"`
}

type dcOkRecord struct {
	Cmd  string       `json:"cmd"`
	Name string       `json:"name"`
	Team curling.Team `json:"team"`
}

type readyOkRecord struct {
	Cmd         string       `json:"cmd"`
	Team        curling.Team `json:"team"`
	PlayerOrder []int        `json:"player_order"`
}

type metaSpecRecord struct {
	Cmd      string `json:"cmd"`
	Meta     string `json:"meta"`
	HostName string `json:"host_name"`
}

type metaConfigRecord struct {
	Cmd       string          `json:"cmd"`
	Meta      string          `json:"meta"`
	Config    json.RawMessage `json:"config"`
	ConfigAll json.RawMessage `json:"config_all"`
}

type teamNames struct {
	Team0 string `json:"0"`
	Team1 string `json:"1"`
}

type newGameMessage struct {
	Cmd  string    `json:"cmd"`
	Name teamNames `json:"name"`
}

type moveRecord struct {
	Cmd  string       `json:"cmd"`
	Move curling.Move `json:"move"`
	Team curling.Team `json:"team"`
}

type shotRecord struct {
	GameID       string       `json:"game_id"`
	GameDateTime string       `json:"game_date_time"`
	End          uint8        `json:"end"`
	Shot         uint8        `json:"shot"`
	SelectedMove curling.Move `json:"selected_move"`
	ActualMove   curling.Move `json:"actual_move"`
	Trajectory   Trajectory   `json:"trajectory"`
}

type lastMovePayload struct {
	ActualMove        json.RawMessage `json:"actual_move"`
	FreeGuardZoneFoul bool            `json:"free_guard_zone_foul"`
	Trajectory        json.RawMessage `json:"trajectory,omitempty"`
}

type updateMessage struct {
	Cmd      string             `json:"cmd"`
	NextTeam curling.Team       `json:"next_team"`
	State    *curling.GameState `json:"state"`
	LastMove *lastMovePayload   `json:"last_move"`
}

// NewGame materializes the simulator and all players from the config's
// factories and prepares the handshake message. The config must already be
// validated.
func NewGame(deliverer messageDeliverer, config *Config, dateTime, gameID string, log *Log) *Game {
	g := &Game{
		deliverer: deliverer,
		config:    config,
		log:       log,
		dateTime:  dateTime,
		gameID:    gameID,
		simulator: config.Game.Simulator.CreateSimulator(),
		state:     curling.NewGameState(config.Game.Setting),
	}
	dc, _ := json.Marshal(dcMessage{
		Cmd:      "dc",
		Version:  protocolVersion{ProtocolVersionMajor, ProtocolVersionMinor},
		GameID:   gameID,
		DateTime: dateTime,
	})
	g.dcJSON = string(dc)
	for team := range g.clients {
		for _, factory := range config.Game.Players[team] {
			g.clients[team].players = append(g.clients[team].players, factory.CreatePlayer())
		}
	}
	return g
}

// OnSessionStart greets a newly connected client. The dc reply window is
// the only timeout of the handshake phase.
func (g *Game) OnSessionStart(clientID int) error {
	g.clients[clientID].state = stateDC
	g.log.Infof("client %d: start connection", clientID)
	return g.deliverer.DeliverMessage(clientID, g.dcJSON, g.config.Server.TimeoutDCOk.Duration())
}

// OnSessionRead advances the client's protocol state by one message.
func (g *Game) OnSessionRead(clientID int, message string, elapsedFromOutput time.Duration) error {
	switch g.clients[clientID].state {
	case stateBeforeSessionStart:
		return clientError(clientID, "received message before contact start")

	case stateDC:
		var in struct {
			Cmd  string  `json:"cmd"`
			Name *string `json:"name"`
		}
		if err := json.Unmarshal([]byte(message), &in); err != nil {
			return errors.Wrapf(err, "client %d", clientID)
		}
		if err := checkCommand(clientID, in.Cmd, "dc_ok"); err != nil {
			return err
		}
		if in.Name == nil {
			return clientError(clientID, "dc_ok without name")
		}
		g.clients[clientID].name = *in.Name
		g.clients[clientID].state = stateReady
		g.log.Infof("client %d: dc_ok", clientID)

		team := curling.Team(clientID)
		data, err := json.Marshal(isReadyMessage{Cmd: "is_ready", Game: g.config.GameIsReady, Team: &team})
		if err != nil {
			return err
		}
		return g.deliverer.DeliverMessage(clientID, string(data), noTimeout)

	case stateReady:
		var in struct {
			Cmd         string `json:"cmd"`
			PlayerOrder *[]int `json:"player_order"`
		}
		if err := json.Unmarshal([]byte(message), &in); err != nil {
			return errors.Wrapf(err, "client %d", clientID)
		}
		if err := checkCommand(clientID, in.Cmd, "ready_ok"); err != nil {
			return err
		}
		if in.PlayerOrder == nil {
			return clientError(clientID, "ready_ok without player_order")
		}
		order := *in.PlayerOrder
		if len(order) != len(g.clients[clientID].players) {
			return clientError(clientID, "invalid player_order size")
		}
		seen := make(map[int]bool, len(order))
		for _, idx := range order {
			if idx < 0 || idx >= len(g.clients[clientID].players) {
				return clientError(clientID, "player_order is out of range")
			}
			if seen[idx] {
				return clientError(clientID, "player_order is overlapping")
			}
			seen[idx] = true
		}
		g.clients[clientID].playerOrder = order
		g.clients[clientID].state = stateNewGame
		g.log.Infof("client %d: ready_ok", clientID)

		if g.clients[0].state == stateNewGame && g.clients[1].state == stateNewGame {
			return g.startNewGame()
		}
		return nil

	case stateMyTurn:
		var in struct {
			Cmd  string        `json:"cmd"`
			Move *curling.Move `json:"move"`
		}
		if err := json.Unmarshal([]byte(message), &in); err != nil {
			return errors.Wrapf(err, "client %d", clientID)
		}
		if err := checkCommand(clientID, in.Cmd, "move"); err != nil {
			return err
		}
		if in.Move == nil {
			return clientError(clientID, "move without move")
		}
		if err := g.doApplyMove(clientID, in.Move, elapsedFromOutput); err != nil {
			return err
		}
		return g.deliverUpdate()

	case stateOpponentTurn:
		return clientError(clientID, "received message in opponent turn")

	case stateGameOver:
		g.log.Warningf("game was over. client %d's message is ignored.", clientID)
		return nil

	default: // stateNewGame, waiting for the opponent
		return clientError(clientID, "received message at inappropriate time")
	}
}

// OnSessionTimeout converts an expired input deadline into a loss. Only
// the client whose turn it is may time out.
func (g *Game) OnSessionTimeout(clientID int) error {
	switch g.clients[clientID].state {
	case stateMyTurn:
		g.log.Infof("client %d: time limit expired", clientID)
		// The synthesized concede with an infinite elapsed time makes
		// the rules library record a time limit loss.
		move := curling.NewConcede()
		if err := g.doApplyMove(clientID, &move, time.Duration(math.MaxInt64)); err != nil {
			return err
		}
		return g.deliverUpdate()
	default:
		return clientError(clientID, "timed out at an inappropriate time")
	}
}

// OnSessionStop is an error unless the game has already finished.
func (g *Game) OnSessionStop(clientID int) error {
	if g.clients[clientID].state != stateGameOver {
		return clientError(clientID, "disconnected at inappropriate time")
	}
	return nil
}

// startNewGame fires once both clients are ready: it seeds the game log
// with everything a replay needs, announces the matchup and delivers the
// first update.
func (g *Game) startNewGame() error {
	if err := g.log.Game(json.RawMessage(g.dcJSON)); err != nil {
		return err
	}

	hostName, err := os.Hostname()
	if err != nil {
		return errors.Wrap(err, "host name")
	}
	if err := g.log.Game(metaSpecRecord{Cmd: "meta", Meta: "spec", HostName: hostName}); err != nil {
		return err
	}

	configIn, err := json.Marshal(g.config)
	if err != nil {
		return err
	}
	// Rebuild the factories from the live simulator and players so the
	// replay config carries materialized seeds.
	g.config.Game.Simulator = g.simulator.Factory().Clone()
	for team := range g.clients {
		factories := make([]curling.PlayerFactory, 0, len(g.clients[team].players))
		for _, player := range g.clients[team].players {
			factories = append(factories, player.Factory().Clone())
		}
		g.config.Game.Players[team] = factories
	}
	configAll, err := json.Marshal(g.config)
	if err != nil {
		return err
	}
	if err := g.log.Game(metaConfigRecord{Cmd: "meta", Meta: "config", Config: configIn, ConfigAll: configAll}); err != nil {
		return err
	}

	for team := curling.Team0; team <= curling.Team1; team++ {
		if err := g.log.Game(dcOkRecord{Cmd: "dc_ok", Name: g.clients[team].name, Team: team}); err != nil {
			return err
		}
	}
	if err := g.log.Game(isReadyMessage{Cmd: "is_ready", Game: g.config.GameIsReady}); err != nil {
		return err
	}
	for team := curling.Team0; team <= curling.Team1; team++ {
		if err := g.log.Game(readyOkRecord{Cmd: "ready_ok", Team: team, PlayerOrder: g.clients[team].playerOrder}); err != nil {
			return err
		}
	}

	newGame := newGameMessage{Cmd: "new_game", Name: teamNames{g.clients[0].name, g.clients[1].name}}
	if err := g.log.Game(newGame); err != nil {
		return err
	}
	g.log.Infof("team 0: %q\nteam 1: %q\ngame start", g.clients[0].name, g.clients[1].name)

	message, err := json.Marshal(newGame)
	if err != nil {
		return err
	}
	for clientID := range g.clients {
		if err := g.deliverer.DeliverMessage(clientID, string(message), noTimeout); err != nil {
			return err
		}
	}

	return g.deliverUpdate()
}

// doApplyMove runs one move through the rules library, recording the move,
// the shot file and the last-move fragments for the following update.
func (g *Game) doApplyMove(movedClientID int, move *curling.Move, elapsed time.Duration) error {
	if err := g.log.Game(moveRecord{Cmd: "move", Move: *move, Team: curling.Team(movedClientID)}); err != nil {
		return err
	}

	// Shot i of an end is thrown by the player in order slot i/4: four
	// consecutive shots per slot, two of them this team's.
	orderIndex := int(g.state.Shot) / 4
	playerIndex := g.clients[movedClientID].playerOrder[orderIndex]
	player := g.clients[movedClientID].players[playerIndex]

	moveEnd := g.state.End
	moveShot := g.state.Shot
	selected := *move

	// The trajectory is compressed even when it is not sent: the shot
	// file always carries it.
	g.compressor.Begin(g.config.Server.StepsPerTrajectoryFrame, g.state.End)
	var result curling.ApplyMoveResult
	applyErr := curling.ApplyMove(g.config.Game.Setting, g.simulator, player, &g.state, move, elapsed, &result,
		func(sim curling.Simulator) { g.compressor.OnStep(sim) })
	g.compressor.End(g.simulator)
	if applyErr != nil {
		return applyErr
	}

	trajectory := g.compressor.Result()
	if err := g.log.Shot(shotRecord{
		GameID:       g.gameID,
		GameDateTime: g.dateTime,
		End:          moveEnd,
		Shot:         moveShot,
		SelectedMove: selected,
		ActualMove:   *move,
		Trajectory:   trajectory,
	}, moveEnd, moveShot); err != nil {
		return err
	}

	actualJSON, err := json.Marshal(*move)
	if err != nil {
		return err
	}
	trajectoryJSON, err := json.Marshal(trajectory)
	if err != nil {
		return err
	}
	g.lastMoveValid = true
	g.lastMoveFoul = result.FreeGuardZoneFoul
	g.lastMoveActual = actualJSON
	g.lastMoveTrajectory = trajectoryJSON

	// Shot 0 right after a move means an end just closed.
	if g.state.Shot == 0 {
		for team := curling.Team0; team <= curling.Team1; team++ {
			g.log.Info(scoreLine(&g.state, team))
		}
	}
	return nil
}

// deliverUpdate broadcasts the game state. The active client's copy arms
// its thinking-time deadline; the game log copy never carries the
// trajectory.
func (g *Game) deliverUpdate() error {
	update := updateMessage{
		Cmd:      "update",
		NextTeam: g.state.GetNextTeam(),
		State:    &g.state,
	}
	if g.lastMoveValid {
		update.LastMove = &lastMovePayload{
			ActualMove:        g.lastMoveActual,
			FreeGuardZoneFoul: g.lastMoveFoul,
		}
	}

	logJSON, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if err := g.log.Game(json.RawMessage(logJSON)); err != nil {
		return err
	}

	wireJSON := logJSON
	if g.lastMoveValid && g.config.Server.SendTrajectory {
		update.LastMove.Trajectory = g.lastMoveTrajectory
		wireJSON, err = json.Marshal(update)
		if err != nil {
			return err
		}
	}
	message := string(wireJSON)

	if g.state.GameResult != nil {
		for i := range g.clients {
			g.clients[i].state = stateGameOver
		}
		for clientID := range g.clients {
			if err := g.deliverer.DeliverMessage(clientID, message, noTimeout); err != nil {
				return err
			}
		}

		gameOver := `{"cmd":"game_over"}`
		if err := g.log.Game(json.RawMessage(gameOver)); err != nil {
			return err
		}
		for clientID := range g.clients {
			if err := g.deliverer.DeliverMessage(clientID, gameOver, noTimeout); err != nil {
				return err
			}
		}
		g.log.Infof("game over\nwin: %s", g.state.GameResult.Winner)
		return nil
	}

	next := g.state.GetNextTeam()
	opponent := next.Opponent()
	g.clients[next].state = stateMyTurn
	g.clients[opponent].state = stateOpponentTurn

	if err := g.deliverer.DeliverMessage(int(next), message, g.state.ThinkingTimeRemaining[next].Duration()); err != nil {
		return err
	}
	if err := g.deliverer.DeliverMessage(int(opponent), message, noTimeout); err != nil {
		return err
	}

	g.log.Infof("end: %d (%d/%d), shot: %d, turn: %s",
		g.state.End, int(g.state.End)+1, g.config.Game.Setting.MaxEnd, g.state.Shot, next)
	return nil
}

// scoreLine renders one team's scoreboard row, ends then extra end.
func scoreLine(state *curling.GameState, team curling.Team) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "team %d score [", team)
	for _, score := range state.Scores[team] {
		buf.WriteByte(' ')
		if score != nil {
			fmt.Fprintf(&buf, "%d", *score)
		} else {
			buf.WriteByte('-')
		}
	}
	buf.WriteString(" | ")
	if state.ExtraEndScore[team] != nil {
		fmt.Fprintf(&buf, "%d", *state.ExtraEndScore[team])
	} else {
		buf.WriteByte('-')
	}
	fmt.Fprintf(&buf, " ] total: %d", state.GetTotalScore(team))
	return buf.String()
}

func clientError(clientID int, message string) error {
	return errors.Errorf("client %d: %s", clientID, message)
}

func checkCommand(clientID int, got, expected string) error {
	if got != expected {
		return clientError(clientID, fmt.Sprintf("unexpected command (expected: %q)", expected))
	}
	return nil
}
