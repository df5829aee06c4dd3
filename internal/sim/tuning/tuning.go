package tuning

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"starforge.io/internal/sim/physics"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int   `yaml:"tick_rate_hz" env:"STARFORGE_TICK_RATE_HZ"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks" env:"STARFORGE_SNAPSHOT_EVERY_TICKS"`
	RollbackWindow     int   `yaml:"rollback_window" env:"STARFORGE_ROLLBACK_WINDOW"`
	Debug              bool  `yaml:"debug" env:"STARFORGE_DEBUG"`
	Seed               int64 `yaml:"seed" env:"STARFORGE_SEED"`

	SpawnPoints      int     `yaml:"spawn_points"`
	SpawnPointRadius float64 `yaml:"spawn_point_radius"`

	Physics physics.Config `yaml:"physics"`
	Net     Net            `yaml:"net"`
}

type Net struct {
	// SendQueue is the per-peer outbound buffer. A peer that falls this far
	// behind is resynced from scratch.
	SendQueue       int     `yaml:"send_queue" env:"STARFORGE_SEND_QUEUE"`
	MaxPeers        int     `yaml:"max_peers" env:"STARFORGE_MAX_PEERS"`
	InputRatePerSec float64 `yaml:"input_rate_per_sec" env:"STARFORGE_INPUT_RATE"`
	InputBurst      int     `yaml:"input_burst" env:"STARFORGE_INPUT_BURST"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SnapshotEveryTicks: 600,
		RollbackWindow:     16,
		Seed:               1337,
		SpawnPoints:        8,
		SpawnPointRadius:   10,
		Physics:            physics.DefaultConfig(),
		Net: Net{
			SendQueue:       64,
			MaxPeers:        32,
			InputRatePerSec: 40,
			InputBurst:      20,
		},
	}
}

// Load reads path over the defaults and then applies STARFORGE_* environment
// overrides. An empty path skips the file.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("parse env: %w", err)
	}
	if t.Physics.Dt <= 0 && t.TickRateHz > 0 {
		t.Physics.Dt = 1 / float64(t.TickRateHz)
	}
	return t, t.Validate()
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be positive, got %d", t.TickRateHz))
	}
	if t.RollbackWindow <= 0 {
		errs = append(errs, fmt.Errorf("rollback_window must be positive, got %d", t.RollbackWindow))
	}
	if t.SpawnPoints <= 0 {
		errs = append(errs, fmt.Errorf("spawn_points must be positive, got %d", t.SpawnPoints))
	}
	if t.SpawnPointRadius <= 0 {
		errs = append(errs, fmt.Errorf("spawn_point_radius must be positive, got %v", t.SpawnPointRadius))
	}
	if t.Net.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("net.send_queue must be positive, got %d", t.Net.SendQueue))
	}
	return errors.Join(errs...)
}
