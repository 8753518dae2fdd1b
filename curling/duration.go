package curling

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Milliseconds is a duration carried in JSON as an integer millisecond
// count, the way the wire protocol and the config file express all times.
type Milliseconds time.Duration

// Duration converts to a time.Duration.
func (m Milliseconds) Duration() time.Duration {
	return time.Duration(m)
}

func (m Milliseconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

func (m *Milliseconds) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return errors.Wrap(err, "milliseconds")
	}
	if ms < 0 {
		return errors.Errorf("milliseconds: negative duration %d", ms)
	}
	*m = Milliseconds(time.Duration(ms) * time.Millisecond)
	return nil
}

// TeamMilliseconds holds one duration per team, serialized as an object
// keyed by "0" and "1".
type TeamMilliseconds [2]Milliseconds

type teamMillisecondsJSON struct {
	Team0 *Milliseconds `json:"0"`
	Team1 *Milliseconds `json:"1"`
}

func (t TeamMilliseconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(teamMillisecondsJSON{&t[0], &t[1]})
}

func (t *TeamMilliseconds) UnmarshalJSON(data []byte) error {
	var raw teamMillisecondsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Team0 == nil || raw.Team1 == nil {
		return errors.New("team durations: both \"0\" and \"1\" are required")
	}
	t[0], t[1] = *raw.Team0, *raw.Team1
	return nil
}
