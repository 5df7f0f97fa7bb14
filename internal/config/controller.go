package config

// ControllerConfig holds the per-model idle and one-shot controller tunables.
// One file per model lives at <data_dir>/configs/<model>.yaml; default.yaml
// covers the no-model state. All fields are scalar so sections compare with
// plain ==, which the hot-reload diff relies on.
type ControllerConfig struct {
	Blink           BlinkConfig           `yaml:"blink"`
	Breathing       BreathingConfig       `yaml:"breathing"`
	BodySwing       BodySwingConfig       `yaml:"body_swing"`
	MouthExpression MouthExpressionConfig `yaml:"mouth_expression"`
	MouthSync       MouthSyncConfig       `yaml:"mouth_sync"`
}

// BlinkConfig tunes the eye-blink idle controller.
type BlinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	LeftParam  string `yaml:"left_param"`
	RightParam string `yaml:"right_param"`

	// Min and Max are the closed and open eye values.
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	// CloseDuration and OpenDuration time the lid movement; ClosedHold is
	// the pause between them. Seconds.
	CloseDuration float64 `yaml:"close_duration"`
	OpenDuration  float64 `yaml:"open_duration"`
	ClosedHold    float64 `yaml:"closed_hold"`

	// MinInterval and MaxInterval bound the random pause between blinks.
	MinInterval float64 `yaml:"min_interval"`
	MaxInterval float64 `yaml:"max_interval"`
}

// BreathingConfig tunes the breathing idle controller.
type BreathingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Param   string `yaml:"param"`

	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`

	InhaleDuration float64 `yaml:"inhale_duration"`
	ExhaleDuration float64 `yaml:"exhale_duration"`
}

// BodySwingConfig tunes the body-swing idle controller and its eye-follow
// coupling.
type BodySwingConfig struct {
	Enabled bool   `yaml:"enabled"`
	XParam  string `yaml:"x_param"`
	ZParam  string `yaml:"z_param"`

	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	ZMin float64 `yaml:"z_min"`
	ZMax float64 `yaml:"z_max"`

	MinDuration float64 `yaml:"min_duration"`
	MaxDuration float64 `yaml:"max_duration"`

	// EyeFollow couples gaze to the swing: body X maps linearly onto eye X,
	// body Z maps inversely onto eye Y (a rising head sends the gaze down).
	EyeFollow      bool    `yaml:"eye_follow"`
	EyeLeftXParam  string  `yaml:"eye_left_x_param"`
	EyeRightXParam string  `yaml:"eye_right_x_param"`
	EyeLeftYParam  string  `yaml:"eye_left_y_param"`
	EyeRightYParam string  `yaml:"eye_right_y_param"`
	EyeXMin        float64 `yaml:"eye_x_min"`
	EyeXMax        float64 `yaml:"eye_x_max"`
	EyeYMin        float64 `yaml:"eye_y_min"`
	EyeYMax        float64 `yaml:"eye_y_max"`
}

// MouthExpressionConfig tunes the idle mouth-expression controller.
type MouthExpressionConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SmileParam string `yaml:"smile_param"`
	OpenParam  string `yaml:"open_param"`

	SmileMin float64 `yaml:"smile_min"`
	SmileMax float64 `yaml:"smile_max"`
	OpenMin  float64 `yaml:"open_min"`
	OpenMax  float64 `yaml:"open_max"`

	MinDuration float64 `yaml:"min_duration"`
	MaxDuration float64 `yaml:"max_duration"`
	MinInterval float64 `yaml:"min_interval"`
	MaxInterval float64 `yaml:"max_interval"`
}

// MouthSyncConfig tunes the lip-sync one-shot controller.
type MouthSyncConfig struct {
	OpenParam string  `yaml:"open_param"`
	OpenMin   float64 `yaml:"open_min"`
	OpenMax   float64 `yaml:"open_max"`

	// Threshold is the loudness (in the player's mean-square dB convention,
	// see the audio package) above which the mouth opens.
	Threshold float64 `yaml:"threshold"`
}

// DefaultControllerConfig returns the tunables used when a model has no saved
// file yet. Parameter names follow the avatar host's standard input set.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		Blink: BlinkConfig{
			Enabled:       true,
			LeftParam:     "EyeOpenLeft",
			RightParam:    "EyeOpenRight",
			Min:           0,
			Max:           1,
			CloseDuration: 0.12,
			OpenDuration:  0.18,
			ClosedHold:    0.05,
			MinInterval:   1.5,
			MaxInterval:   6,
		},
		Breathing: BreathingConfig{
			Enabled:        true,
			Param:          "ParamBreath",
			Min:            0,
			Max:            1,
			InhaleDuration: 2.2,
			ExhaleDuration: 2.8,
		},
		BodySwing: BodySwingConfig{
			Enabled:        true,
			XParam:         "FaceAngleX",
			ZParam:         "FaceAngleZ",
			XMin:           -12,
			XMax:           12,
			ZMin:           -8,
			ZMax:           8,
			MinDuration:    2,
			MaxDuration:    5,
			EyeFollow:      true,
			EyeLeftXParam:  "EyeLeftX",
			EyeRightXParam: "EyeRightX",
			EyeLeftYParam:  "EyeLeftY",
			EyeRightYParam: "EyeRightY",
			EyeXMin:        -1,
			EyeXMax:        1,
			EyeYMin:        -1,
			EyeYMax:        1,
		},
		MouthExpression: MouthExpressionConfig{
			Enabled:     true,
			SmileParam:  "MouthSmile",
			OpenParam:   "MouthOpen",
			SmileMin:    0.2,
			SmileMax:    0.8,
			OpenMin:     0,
			OpenMax:     0.25,
			MinDuration: 0.5,
			MaxDuration: 1.5,
			MinInterval: 2,
			MaxInterval: 8,
		},
		MouthSync: MouthSyncConfig{
			OpenParam: "MouthOpen",
			OpenMin:   0,
			OpenMax:   1,
			Threshold: -40,
		},
	}
}
