package curling

import "encoding/json"

// PlayerIdentical is the type tag of the pass-through player.
const PlayerIdentical = "identical"

// IdenticalPlayerFactory builds players that deliver exactly what was asked.
type IdenticalPlayerFactory struct{}

func (f *IdenticalPlayerFactory) Type() string { return PlayerIdentical }

func (f *IdenticalPlayerFactory) CreatePlayer() Player {
	return &identicalPlayer{factory: *f}
}

func (f *IdenticalPlayerFactory) Clone() PlayerFactory {
	c := *f
	return &c
}

func (f *IdenticalPlayerFactory) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{PlayerIdentical})
}

type identicalPlayer struct {
	factory IdenticalPlayerFactory
}

func (p *identicalPlayer) Play(shot Shot) Shot {
	return shot
}

func (p *identicalPlayer) Factory() PlayerFactory {
	return p.factory.Clone()
}
