package cmd

import (
	"context"
	"fmt"

	"firestige.xyz/lappd/internal/calib"
	"firestige.xyz/lappd/internal/conddb"
	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/internal/intake"
	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/pipeline"
	"firestige.xyz/lappd/internal/reco"
	"firestige.xyz/lappd/internal/source"
	"firestige.xyz/lappd/pkg/plugin"
)

// calibration holds the tables found for this run. Nil tables are skipped.
type calibration struct {
	pedestal *calib.PedestalTable
	gain     *calib.GainTable
	timing   *calib.TimingTable
}

// loadCalibration reads the configured tables. Pedestal and gain fall back
// to the conditions database when no file is given.
func loadCalibration(ctx context.Context, cfg config.CalibrationConfig) (*calibration, error) {
	c := &calibration{}
	var err error
	if cfg.Pedestal != "" {
		if c.pedestal, err = calib.LoadPedestal(cfg.Pedestal); err != nil {
			return nil, err
		}
	}
	if cfg.Gain != "" {
		if c.gain, err = calib.LoadGain(cfg.Gain); err != nil {
			return nil, err
		}
	}
	if cfg.Timing != "" {
		if c.timing, err = calib.LoadTiming(cfg.Timing); err != nil {
			return nil, err
		}
	}

	if cfg.CondDB.DSN == "" || (c.pedestal != nil && c.gain != nil) {
		return c, nil
	}
	db, err := conddb.Open(cfg.CondDB.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if c.pedestal == nil {
		if c.pedestal, err = db.Pedestal(ctx, cfg.CondDB.Board); err != nil {
			return nil, err
		}
	}
	if c.gain == nil {
		if c.gain, err = db.Gain(ctx, cfg.CondDB.Board); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *calibration) assembler(in config.IntakeConfig) reco.Assembler {
	asm := reco.Assembler{LeftMask: in.LeftMask, KeepOffset: in.KeepOffset}
	if c.pedestal != nil {
		asm.Pedestal = c.pedestal
	}
	if c.gain != nil {
		asm.Gain = c.gain
	}
	return asm
}

func (c *calibration) timingStage() pipeline.Timing {
	if c.timing == nil {
		return nil
	}
	return c.timing
}

// newReporters creates and initialises the configured reporters.
func newReporters(cfgs []config.ReporterConfig) ([]plugin.Reporter, error) {
	reporters := make([]plugin.Reporter, 0, len(cfgs))
	for _, rc := range cfgs {
		r, err := plugin.NewReporter(rc.Name, rc.Options)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, r)
	}
	return reporters, nil
}

// engine is the reconstruction path shared by listen and replay: one
// tracker per source, one dispatcher for all of them.
type engine struct {
	intake config.IntakeConfig
	asm    reco.Assembler
	disp   *pipeline.Dispatcher
}

// newEngine loads calibrations, builds the reporters and starts the
// dispatcher for the given number of intake loops.
func newEngine(ctx context.Context, cfg *config.GlobalConfig, producers int) (*engine, error) {
	cal, err := loadCalibration(ctx, cfg.Calibration)
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	reporters, err := newReporters(cfg.Reporters)
	if err != nil {
		return nil, err
	}
	if len(reporters) == 0 {
		log.GetLogger().Warn("no reporters configured, events are counted and discarded")
	}

	disp := pipeline.New(pipeline.Config{
		QueueSize: cfg.Pipeline.QueueSize,
		Workers:   cfg.Pipeline.Workers,
		Producers: producers,
		Timing:    cal.timingStage(),
		Reporters: reporters,
	})
	if err := disp.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start reporters: %w", err)
	}
	return &engine{intake: cfg.Intake, asm: cal.assembler(cfg.Intake), disp: disp}, nil
}

// loop wires src to a fresh tracker feeding the dispatcher.
func (e *engine) loop(name string, src source.Source) *intake.Loop {
	tracker := reco.NewTracker(reco.TrackerConfig{
		Capacity:   e.intake.Capacity,
		MaxOrphans: e.intake.MaxOrphans,
		Listener:   name,
		Assembler:  e.asm,
	})
	return intake.New(name, src, tracker, e.disp)
}

func (e *engine) stop(ctx context.Context) error {
	return e.disp.Stop(ctx)
}
