package engine

// Config is the configuration surface of spec.md §6. Zero-valued fields
// from a bare Config{} are not valid; use DefaultConfig and override.
type Config struct {
	ALU int
	BLU int
	MCU int

	RSV int
	ROB int

	NWay       int
	IssueLimit int

	Predictor   PredictorMode
	ReturnStack bool
}

func DefaultConfig() Config {
	return Config{
		ALU: 1, BLU: 1, MCU: 1,
		RSV: 16, ROB: 32,
		NWay:       1,
		IssueLimit: 1,
		Predictor:  PredTwoBit,
	}
}

// Normalize rewrites IssueLimit==0 to the total functional-unit count, the
// load-bearing default spec.md §9 calls out explicitly.
func (c *Config) Normalize() {
	if c.IssueLimit == 0 {
		c.IssueLimit = c.ALU + c.BLU + c.MCU
	}
}
