package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	testGameID   = "8b29bcd7-5f45-4a29-9d86-8a41d1b4d4a3"
	testDateTime = "2026-08-25T10:00:00+09:00"
)

// Deterministic moves: the draw parks near the tee, the short never crosses
// the hog line and is removed on arrival.
const (
	drawMoveText    = `{"cmd":"move","move":{"type":"shot","velocity":{"x":0.045,"y":2.3},"rotation":"ccw"}}`
	shortMoveText   = `{"cmd":"move","move":{"type":"shot","velocity":{"x":0,"y":1.8},"rotation":"cw"}}`
	concedeMoveText = `{"cmd":"move","move":{"type":"concede"}}`
)

type deliveredMessage struct {
	clientID int
	message  string
	timeout  time.Duration
}

// fakeDeliverer records what the game hands to the transport.
type fakeDeliverer struct {
	delivered []deliveredMessage
}

func (d *fakeDeliverer) DeliverMessage(clientID int, message string, inputTimeout time.Duration) error {
	d.delivered = append(d.delivered, deliveredMessage{clientID, message, inputTimeout})
	return nil
}

func (d *fakeDeliverer) take(t *testing.T) deliveredMessage {
	t.Helper()
	if len(d.delivered) == 0 {
		t.Fatal("Expected a delivered message, got none")
	}
	msg := d.delivered[0]
	d.delivered = d.delivered[1:]
	return msg
}

func newGameTestConfig(t *testing.T, maxEnd int, sendTrajectory bool) *Config {
	t.Helper()
	text := fmt.Sprintf(`{
  "server": {
    "port": {"0": 10000, "1": 10001},
    "timeout_dc_ok": 5000,
    "send_trajectory": %t,
    "steps_per_trajectory_frame": 100
  },
  "game": {
    "rule": "normal",
    "setting": {
      "max_end": %d,
      "sheet_width": 4.75,
      "five_rock_rule": true,
      "thinking_time": {"0": 86400000, "1": 86400000},
      "extra_end_thinking_time": {"0": 86400000, "1": 86400000}
    },
    "simulator": {"type": "fcv1", "seconds_per_frame": 0.01},
    "players": {
      "0": [{"type": "identical"}, {"type": "identical"}, {"type": "identical"}, {"type": "identical"}],
      "1": [{"type": "identical"}, {"type": "identical"}, {"type": "identical"}, {"type": "identical"}]
    }
  }
}`, sendTrajectory, maxEnd)
	config, err := ParseConfig([]byte(text))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	return config
}

func newTestGame(t *testing.T, config *Config) (*Game, *fakeDeliverer, *bytes.Buffer) {
	t.Helper()
	l, stdout, _ := newTestLog(t, false, false)
	d := &fakeDeliverer{}
	return NewGame(d, config, testDateTime, testGameID, l), d, stdout
}

func decodeMessage(t *testing.T, message string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(message), &m); err != nil {
		t.Fatalf("Message is not JSON: %v (%s)", err, message)
	}
	return m
}

// driveHandshake walks both clients to the first turn and discards the
// traffic, so tests start from team 0's move.
func driveHandshake(t *testing.T, g *Game, d *fakeDeliverer) {
	t.Helper()
	for clientID := 0; clientID < 2; clientID++ {
		if err := g.OnSessionStart(clientID); err != nil {
			t.Fatalf("OnSessionStart(%d) failed: %v", clientID, err)
		}
	}
	for clientID := 0; clientID < 2; clientID++ {
		in := fmt.Sprintf(`{"cmd":"dc_ok","name":"bot%d"}`, clientID)
		if err := g.OnSessionRead(clientID, in, 0); err != nil {
			t.Fatalf("dc_ok for client %d failed: %v", clientID, err)
		}
	}
	for clientID := 0; clientID < 2; clientID++ {
		if err := g.OnSessionRead(clientID, `{"cmd":"ready_ok","player_order":[0,1,2,3]}`, 0); err != nil {
			t.Fatalf("ready_ok for client %d failed: %v", clientID, err)
		}
	}
	d.delivered = nil
}

func TestGameHandshakeFlow(t *testing.T) {
	config := newGameTestConfig(t, 10, true)
	g, d, _ := newTestGame(t, config)

	for clientID := 0; clientID < 2; clientID++ {
		if err := g.OnSessionStart(clientID); err != nil {
			t.Fatalf("OnSessionStart(%d) failed: %v", clientID, err)
		}
		msg := d.take(t)
		if msg.clientID != clientID {
			t.Errorf("Expected dc for client %d, got client %d", clientID, msg.clientID)
		}
		if msg.timeout != config.Server.TimeoutDCOk.Duration() {
			t.Errorf("Expected dc reply window %v, got %v", config.Server.TimeoutDCOk.Duration(), msg.timeout)
		}
		m := decodeMessage(t, msg.message)
		if m["cmd"] != "dc" {
			t.Errorf("Expected cmd dc, got %v", m["cmd"])
		}
		if m["game_id"] != testGameID {
			t.Errorf("Expected game_id %q, got %v", testGameID, m["game_id"])
		}
		if m["date_time"] != testDateTime {
			t.Errorf("Expected date_time %q, got %v", testDateTime, m["date_time"])
		}
		version, ok := m["version"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected version object, got %v", m["version"])
		}
		if version["major"] != float64(ProtocolVersionMajor) || version["minor"] != float64(ProtocolVersionMinor) {
			t.Errorf("Expected protocol version %d.%d, got %v.%v",
				ProtocolVersionMajor, ProtocolVersionMinor, version["major"], version["minor"])
		}
	}

	var wantGame interface{}
	if err := json.Unmarshal(config.GameIsReady, &wantGame); err != nil {
		t.Fatalf("Config game_is_ready is not JSON: %v", err)
	}
	for clientID := 0; clientID < 2; clientID++ {
		in := fmt.Sprintf(`{"cmd":"dc_ok","name":"bot%d"}`, clientID)
		if err := g.OnSessionRead(clientID, in, 0); err != nil {
			t.Fatalf("dc_ok for client %d failed: %v", clientID, err)
		}
		msg := d.take(t)
		if msg.clientID != clientID {
			t.Errorf("Expected is_ready for client %d, got client %d", clientID, msg.clientID)
		}
		if msg.timeout != noTimeout {
			t.Errorf("Expected is_ready without a deadline, got %v", msg.timeout)
		}
		m := decodeMessage(t, msg.message)
		if m["cmd"] != "is_ready" {
			t.Errorf("Expected cmd is_ready, got %v", m["cmd"])
		}
		if m["team"] != float64(clientID) {
			t.Errorf("Expected team %d, got %v", clientID, m["team"])
		}
		if !reflect.DeepEqual(m["game"], wantGame) {
			t.Errorf("Expected is_ready game to echo the config, got %v", m["game"])
		}
	}

	if err := g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1,2,3]}`, 0); err != nil {
		t.Fatalf("ready_ok for client 0 failed: %v", err)
	}
	if len(d.delivered) != 0 {
		t.Fatalf("Expected no traffic while waiting for the opponent, got %d messages", len(d.delivered))
	}
	if err := g.OnSessionRead(1, `{"cmd":"ready_ok","player_order":[3,2,1,0]}`, 0); err != nil {
		t.Fatalf("ready_ok for client 1 failed: %v", err)
	}

	for clientID := 0; clientID < 2; clientID++ {
		msg := d.take(t)
		if msg.clientID != clientID {
			t.Errorf("Expected new_game for client %d, got client %d", clientID, msg.clientID)
		}
		m := decodeMessage(t, msg.message)
		if m["cmd"] != "new_game" {
			t.Errorf("Expected cmd new_game, got %v", m["cmd"])
		}
		names, ok := m["name"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected name object, got %v", m["name"])
		}
		if names["0"] != "bot0" || names["1"] != "bot1" {
			t.Errorf("Expected names bot0/bot1, got %v/%v", names["0"], names["1"])
		}
	}

	// Team 1 has the hammer, so team 0 throws first and holds the only
	// deadline.
	first := d.take(t)
	if first.clientID != 0 {
		t.Errorf("Expected the first update to go to client 0, got client %d", first.clientID)
	}
	if first.timeout != config.Game.Setting.ThinkingTime[0].Duration() {
		t.Errorf("Expected thinking time deadline %v, got %v", config.Game.Setting.ThinkingTime[0].Duration(), first.timeout)
	}
	m := decodeMessage(t, first.message)
	if m["cmd"] != "update" {
		t.Errorf("Expected cmd update, got %v", m["cmd"])
	}
	if m["next_team"] != float64(0) {
		t.Errorf("Expected next_team 0, got %v", m["next_team"])
	}
	lastMove, ok := m["last_move"]
	if !ok {
		t.Error("Expected a last_move key in the first update")
	} else if lastMove != nil {
		t.Errorf("Expected null last_move before the first move, got %v", lastMove)
	}
	second := d.take(t)
	if second.clientID != 1 {
		t.Errorf("Expected the opponent's update to go to client 1, got client %d", second.clientID)
	}
	if second.timeout != noTimeout {
		t.Errorf("Expected no deadline for the waiting client, got %v", second.timeout)
	}
	if len(d.delivered) != 0 {
		t.Errorf("Expected no further traffic after the first update, got %d messages", len(d.delivered))
	}
}

func TestGameConcedeFinishesGame(t *testing.T) {
	config := newGameTestConfig(t, 10, true)
	g, d, stdout := newTestGame(t, config)
	driveHandshake(t, g, d)

	if err := g.OnSessionRead(0, concedeMoveText, time.Second); err != nil {
		t.Fatalf("Concede failed: %v", err)
	}

	for clientID := 0; clientID < 2; clientID++ {
		msg := d.take(t)
		if msg.clientID != clientID {
			t.Errorf("Expected final update for client %d, got client %d", clientID, msg.clientID)
		}
		if msg.timeout != noTimeout {
			t.Errorf("Expected no deadline on the final update, got %v", msg.timeout)
		}
		m := decodeMessage(t, msg.message)
		if m["cmd"] != "update" {
			t.Fatalf("Expected cmd update, got %v", m["cmd"])
		}
		state, ok := m["state"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected state object, got %v", m["state"])
		}
		result, ok := state["game_result"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected game_result object, got %v", state["game_result"])
		}
		if result["winner"] != float64(1) {
			t.Errorf("Expected winner 1, got %v", result["winner"])
		}
		if result["reason"] != "concede" {
			t.Errorf("Expected reason concede, got %v", result["reason"])
		}
		last, ok := m["last_move"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected last_move object, got %v", m["last_move"])
		}
		actual, ok := last["actual_move"].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected actual_move object, got %v", last["actual_move"])
		}
		if actual["type"] != "concede" {
			t.Errorf("Expected actual_move type concede, got %v", actual["type"])
		}
	}
	for clientID := 0; clientID < 2; clientID++ {
		msg := d.take(t)
		if msg.message != `{"cmd":"game_over"}` {
			t.Errorf("Expected game_over for client %d, got %q", clientID, msg.message)
		}
	}
	if !strings.Contains(stdout.String(), "win: team1") {
		t.Errorf("Expected the win line on stdout, got %q", stdout.String())
	}

	// After game over, chatter is ignored and disconnects are clean.
	if err := g.OnSessionRead(0, concedeMoveText, 0); err != nil {
		t.Errorf("Expected the post-game message to be ignored, got error %v", err)
	}
	for clientID := 0; clientID < 2; clientID++ {
		if err := g.OnSessionStop(clientID); err != nil {
			t.Errorf("Expected a clean stop for client %d, got %v", clientID, err)
		}
	}
}

func TestGameTimeoutLosesGame(t *testing.T) {
	config := newGameTestConfig(t, 10, true)
	g, d, stdout := newTestGame(t, config)
	driveHandshake(t, g, d)

	if err := g.OnSessionTimeout(0); err != nil {
		t.Fatalf("OnSessionTimeout failed: %v", err)
	}

	msg := d.take(t)
	m := decodeMessage(t, msg.message)
	state, ok := m["state"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected state object, got %v", m["state"])
	}
	result, ok := state["game_result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected game_result object, got %v", state["game_result"])
	}
	if result["winner"] != float64(1) {
		t.Errorf("Expected winner 1, got %v", result["winner"])
	}
	if result["reason"] != "time_limit" {
		t.Errorf("Expected reason time_limit, got %v", result["reason"])
	}
	remaining, ok := state["thinking_time_remaining"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected thinking_time_remaining object, got %v", state["thinking_time_remaining"])
	}
	if remaining["0"] != float64(0) {
		t.Errorf("Expected exhausted thinking time for team 0, got %v", remaining["0"])
	}

	// The opponent's update plus two game_over messages follow.
	if got := len(d.delivered); got != 3 {
		t.Errorf("Expected 3 further messages, got %d", got)
	}
	if !strings.Contains(stdout.String(), "client 0: time limit expired") {
		t.Errorf("Expected the time limit line on stdout, got %q", stdout.String())
	}
}

func TestGameFullEndDecidesWinner(t *testing.T) {
	config := newGameTestConfig(t, 1, false)
	g, d, stdout := newTestGame(t, config)
	driveHandshake(t, g, d)

	// Team 0 opens with a draw into the house; every later stone falls
	// short of the hog line. One end decides the game.
	for shot := 0; shot < 16; shot++ {
		team := shot % 2
		moveText := shortMoveText
		if shot == 0 {
			moveText = drawMoveText
		}
		if err := g.OnSessionRead(team, moveText, time.Second); err != nil {
			t.Fatalf("Move at shot %d failed: %v", shot, err)
		}
		if shot == 15 {
			break
		}
		active := d.take(t)
		if active.clientID != (shot+1)%2 {
			t.Fatalf("Expected shot %d to go to client %d, got client %d", shot+1, (shot+1)%2, active.clientID)
		}
		m := decodeMessage(t, active.message)
		state := m["state"].(map[string]interface{})
		if int(state["shot"].(float64)) != shot+1 {
			t.Fatalf("Expected state shot %d, got %v", shot+1, state["shot"])
		}
		d.take(t) // opponent copy
	}

	final := d.take(t)
	m := decodeMessage(t, final.message)
	state := m["state"].(map[string]interface{})
	result, ok := state["game_result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected the game to be decided after one end, got %v", state["game_result"])
	}
	if result["winner"] != float64(0) {
		t.Errorf("Expected winner 0, got %v", result["winner"])
	}
	if result["reason"] != "score" {
		t.Errorf("Expected reason score, got %v", result["reason"])
	}
	scores := state["scores"].(map[string]interface{})
	team0 := scores["0"].([]interface{})
	if len(team0) != 1 || team0[0] == nil || team0[0].(float64) < 1 {
		t.Errorf("Expected team 0 to score the only end, got %v", scores)
	}

	out := stdout.String()
	if !strings.Contains(out, "team 0 score [") || !strings.Contains(out, "team 1 score [") {
		t.Errorf("Expected score lines on stdout, got %q", out)
	}
	if !strings.Contains(out, "win: team0") {
		t.Errorf("Expected the win line on stdout, got %q", out)
	}
}

func TestGameThinkingTimeCharged(t *testing.T) {
	config := newGameTestConfig(t, 10, false)
	g, d, _ := newTestGame(t, config)
	driveHandshake(t, g, d)

	if err := g.OnSessionRead(0, drawMoveText, 1500*time.Millisecond); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	msg := d.take(t)
	m := decodeMessage(t, msg.message)
	state := m["state"].(map[string]interface{})
	remaining := state["thinking_time_remaining"].(map[string]interface{})
	if remaining["0"] != float64(86400000-1500) {
		t.Errorf("Expected 86398500 ms remaining for team 0, got %v", remaining["0"])
	}
	if remaining["1"] != float64(86400000) {
		t.Errorf("Expected team 1 untouched, got %v", remaining["1"])
	}

	// The next deadline reflects the budget that is left.
	if msg.clientID != 1 {
		t.Fatalf("Expected the next turn to go to client 1, got client %d", msg.clientID)
	}
	if msg.timeout != 24*time.Hour {
		t.Errorf("Expected a full budget deadline for team 1, got %v", msg.timeout)
	}
}

func TestGameTrajectoryOnWire(t *testing.T) {
	for _, tc := range []struct {
		name string
		send bool
	}{
		{"Sent", true},
		{"Suppressed", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			config := newGameTestConfig(t, 10, tc.send)
			g, d, _ := newTestGame(t, config)
			driveHandshake(t, g, d)

			if err := g.OnSessionRead(0, drawMoveText, time.Second); err != nil {
				t.Fatalf("Move failed: %v", err)
			}
			msg := d.take(t)
			m := decodeMessage(t, msg.message)
			last, ok := m["last_move"].(map[string]interface{})
			if !ok {
				t.Fatalf("Expected last_move object, got %v", m["last_move"])
			}
			trajectory, has := last["trajectory"]
			if has != tc.send {
				t.Fatalf("Expected trajectory on wire = %t, got %t", tc.send, has)
			}
			if tc.send {
				traj, ok := trajectory.(map[string]interface{})
				if !ok {
					t.Fatalf("Expected a trajectory object, got %v", trajectory)
				}
				for _, key := range []string{"seconds_per_frame", "start", "finish", "frames"} {
					if _, ok := traj[key]; !ok {
						t.Errorf("Expected trajectory key %q", key)
					}
				}
			}

			// The game log copy never carries the trajectory.
			for _, payload := range readGameLog(t, g.log) {
				if payload["cmd"] != "update" {
					continue
				}
				last, ok := payload["last_move"].(map[string]interface{})
				if !ok {
					continue
				}
				if _, found := last["trajectory"]; found {
					t.Error("Expected no trajectory in the game log")
				}
			}
		})
	}
}

func readGameLog(t *testing.T, l *Log) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(l.MatchDir(), gameLogFile))
	if err != nil {
		t.Fatalf("Failed to read game log: %v", err)
	}
	var payloads []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("Game log line is not JSON: %v (%s)", err, line)
		}
		if rec.Tag != tagGame {
			t.Fatalf("Expected tag %q in the game log, got %q", tagGame, rec.Tag)
		}
		payload, ok := rec.Log.(map[string]interface{})
		if !ok {
			t.Fatalf("Expected an object payload in the game log, got %v", rec.Log)
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func TestGameLogReplaySequence(t *testing.T) {
	config := newGameTestConfig(t, 10, true)
	g, d, _ := newTestGame(t, config)
	driveHandshake(t, g, d)

	payloads := readGameLog(t, g.log)
	var cmds []string
	for _, payload := range payloads {
		cmds = append(cmds, payload["cmd"].(string))
	}
	want := []string{"dc", "meta", "meta", "dc_ok", "dc_ok", "is_ready", "ready_ok", "ready_ok", "new_game", "update"}
	if !reflect.DeepEqual(cmds, want) {
		t.Fatalf("Expected game log sequence %v, got %v", want, cmds)
	}

	spec := payloads[1]
	if spec["meta"] != "spec" {
		t.Errorf("Expected the first meta record to be spec, got %v", spec["meta"])
	}
	if name, ok := spec["host_name"].(string); !ok || name == "" {
		t.Errorf("Expected a host_name, got %v", spec["host_name"])
	}

	meta := payloads[2]
	if meta["meta"] != "config" {
		t.Errorf("Expected the second meta record to be config, got %v", meta["meta"])
	}
	for _, key := range []string{"config", "config_all"} {
		cfg, ok := meta[key].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected %s object, got %v", key, meta[key])
		}
		for _, section := range []string{"server", "game", "game_is_ready"} {
			if _, ok := cfg[section]; !ok {
				t.Errorf("Expected %s.%s in the meta record", key, section)
			}
		}
	}

	for team := 0; team < 2; team++ {
		dcOk := payloads[3+team]
		if dcOk["team"] != float64(team) || dcOk["name"] != fmt.Sprintf("bot%d", team) {
			t.Errorf("Expected dc_ok for bot%d, got %v", team, dcOk)
		}
	}

	isReady := payloads[5]
	team, ok := isReady["team"]
	if !ok {
		t.Error("Expected a team key in the logged is_ready")
	} else if team != nil {
		t.Errorf("Expected null team in the logged is_ready, got %v", team)
	}

	for team := 0; team < 2; team++ {
		readyOk := payloads[6+team]
		order, ok := readyOk["player_order"].([]interface{})
		if !ok || len(order) != 4 {
			t.Errorf("Expected a 4 entry player_order for team %d, got %v", team, readyOk["player_order"])
		}
	}

	update := payloads[9]
	if lastMove, ok := update["last_move"]; !ok || lastMove != nil {
		t.Errorf("Expected null last_move in the first logged update, got %v", update["last_move"])
	}
}

func TestGameShotFileWritten(t *testing.T) {
	config := newGameTestConfig(t, 10, false)
	g, d, _ := newTestGame(t, config)
	driveHandshake(t, g, d)

	if err := g.OnSessionRead(0, drawMoveText, time.Second); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(g.log.MatchDir(), "shot_e000s00.json"))
	if err != nil {
		t.Fatalf("Failed to read shot file: %v", err)
	}
	var rec logRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Shot file is not JSON: %v", err)
	}
	if rec.Tag != tagShot {
		t.Errorf("Expected tag %q, got %q", tagShot, rec.Tag)
	}
	payload, ok := rec.Log.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected an object payload, got %v", rec.Log)
	}
	if payload["game_id"] != testGameID {
		t.Errorf("Expected game_id %q, got %v", testGameID, payload["game_id"])
	}
	if payload["game_date_time"] != testDateTime {
		t.Errorf("Expected game_date_time %q, got %v", testDateTime, payload["game_date_time"])
	}
	if payload["end"] != float64(0) || payload["shot"] != float64(0) {
		t.Errorf("Expected end 0 shot 0, got %v/%v", payload["end"], payload["shot"])
	}
	for _, key := range []string{"selected_move", "actual_move", "trajectory"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("Expected shot file key %q", key)
		}
	}
	// An identical player delivers exactly what was selected.
	if !reflect.DeepEqual(payload["selected_move"], payload["actual_move"]) {
		t.Errorf("Expected selected_move == actual_move, got %v vs %v", payload["selected_move"], payload["actual_move"])
	}
}

func TestGameRejects(t *testing.T) {
	prepareStart := func(t *testing.T, g *Game, d *fakeDeliverer) {
		t.Helper()
		if err := g.OnSessionStart(0); err != nil {
			t.Fatalf("OnSessionStart failed: %v", err)
		}
	}
	prepareReady := func(t *testing.T, g *Game, d *fakeDeliverer) {
		t.Helper()
		prepareStart(t, g, d)
		if err := g.OnSessionRead(0, `{"cmd":"dc_ok","name":"bot0"}`, 0); err != nil {
			t.Fatalf("dc_ok failed: %v", err)
		}
	}
	prepareWaiting := func(t *testing.T, g *Game, d *fakeDeliverer) {
		t.Helper()
		prepareReady(t, g, d)
		if err := g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1,2,3]}`, 0); err != nil {
			t.Fatalf("ready_ok failed: %v", err)
		}
	}

	cases := []struct {
		name    string
		prepare func(t *testing.T, g *Game, d *fakeDeliverer)
		act     func(g *Game) error
		want    string
	}{
		{
			name: "MessageBeforeStart",
			act:  func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"dc_ok","name":"x"}`, 0) },
			want: "client 0: received message before contact start",
		},
		{
			name:    "WrongCommandInHandshake",
			prepare: prepareStart,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"hello"}`, 0) },
			want:    `client 0: unexpected command (expected: "dc_ok")`,
		},
		{
			name:    "DcOkWithoutName",
			prepare: prepareStart,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"dc_ok"}`, 0) },
			want:    "client 0: dc_ok without name",
		},
		{
			name:    "MalformedJSON",
			prepare: prepareStart,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{nope`, 0) },
			want:    "client 0",
		},
		{
			name:    "ReadyOkWithoutOrder",
			prepare: prepareReady,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"ready_ok"}`, 0) },
			want:    "client 0: ready_ok without player_order",
		},
		{
			name:    "PlayerOrderTooShort",
			prepare: prepareReady,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1]}`, 0) },
			want:    "client 0: invalid player_order size",
		},
		{
			name:    "PlayerOrderOverlapping",
			prepare: prepareReady,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1,2,2]}`, 0) },
			want:    "client 0: player_order is overlapping",
		},
		{
			name:    "PlayerOrderOutOfRange",
			prepare: prepareReady,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1,2,4]}`, 0) },
			want:    "client 0: player_order is out of range",
		},
		{
			name:    "MessageWhileWaitingForOpponent",
			prepare: prepareWaiting,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"ready_ok","player_order":[0,1,2,3]}`, 0) },
			want:    "client 0: received message at inappropriate time",
		},
		{
			name:    "MessageInOpponentTurn",
			prepare: driveHandshake,
			act:     func(g *Game) error { return g.OnSessionRead(1, drawMoveText, 0) },
			want:    "client 1: received message in opponent turn",
		},
		{
			name:    "WrongCommandInTurn",
			prepare: driveHandshake,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"dc_ok","name":"x"}`, 0) },
			want:    `client 0: unexpected command (expected: "move")`,
		},
		{
			name:    "MoveWithoutMove",
			prepare: driveHandshake,
			act:     func(g *Game) error { return g.OnSessionRead(0, `{"cmd":"move"}`, 0) },
			want:    "client 0: move without move",
		},
		{
			name:    "TimeoutOutOfTurn",
			prepare: driveHandshake,
			act:     func(g *Game) error { return g.OnSessionTimeout(1) },
			want:    "client 1: timed out at an inappropriate time",
		},
		{
			name:    "TimeoutDuringHandshake",
			prepare: prepareStart,
			act:     func(g *Game) error { return g.OnSessionTimeout(0) },
			want:    "client 0: timed out at an inappropriate time",
		},
		{
			name:    "DisconnectMidGame",
			prepare: driveHandshake,
			act:     func(g *Game) error { return g.OnSessionStop(0) },
			want:    "client 0: disconnected at inappropriate time",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := newGameTestConfig(t, 10, true)
			g, d, _ := newTestGame(t, config)
			if tc.prepare != nil {
				tc.prepare(t, g, d)
			}
			err := tc.act(g)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestGameConfigAllMaterializesFactories(t *testing.T) {
	config := newGameTestConfig(t, 10, true)
	g, d, _ := newTestGame(t, config)
	driveHandshake(t, g, d)

	meta := readGameLog(t, g.log)[2]
	all, ok := meta["config_all"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected config_all object, got %v", meta["config_all"])
	}
	game := all["game"].(map[string]interface{})
	players := game["players"].(map[string]interface{})
	for _, team := range []string{"0", "1"} {
		list, ok := players[team].([]interface{})
		if !ok || len(list) != 4 {
			t.Fatalf("Expected 4 players for team %s in config_all, got %v", team, players[team])
		}
		for i, entry := range list {
			player := entry.(map[string]interface{})
			if player["type"] != "identical" {
				t.Errorf("Expected identical player %d for team %s, got %v", i, team, player["type"])
			}
		}
	}
	sim := game["simulator"].(map[string]interface{})
	if sim["type"] != "fcv1" {
		t.Errorf("Expected fcv1 simulator in config_all, got %v", sim["type"])
	}
	if sim["seconds_per_frame"] != 0.01 {
		t.Errorf("Expected seconds_per_frame 0.01, got %v", sim["seconds_per_frame"])
	}
}
