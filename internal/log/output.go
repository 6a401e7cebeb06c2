package log

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/lappd/internal/config"
)

// fanout copies every line to all writers. A failing writer does not stop
// the others; the last error is returned.
type fanout []io.Writer

func (f fanout) Write(p []byte) (int, error) {
	var err error
	for _, w := range f {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// outputs returns stdout plus the optional size-rotated log file.
func outputs(cfg config.LogOutputsConfig) (io.Writer, error) {
	out := fanout{os.Stdout}
	file := cfg.File
	if !file.Enabled {
		return out, nil
	}
	if file.Path == "" {
		return nil, fmt.Errorf("log: file output enabled without a path")
	}
	return append(out, &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.Rotation.MaxSizeMB,
		MaxBackups: file.Rotation.MaxBackups,
		MaxAge:     file.Rotation.MaxAgeDays,
		Compress:   file.Rotation.Compress,
	}), nil
}
