package curling

// GameSetting is the immutable rule parameterization of one game.
type GameSetting struct {
	MaxEnd               uint8            `json:"max_end"`
	SheetWidth           float64          `json:"sheet_width"`
	FiveRockRule         bool             `json:"five_rock_rule"`
	ThinkingTime         TeamMilliseconds `json:"thinking_time"`
	ExtraEndThinkingTime TeamMilliseconds `json:"extra_end_thinking_time"`
}
