package zerolog

import (
	"github.com/rs/zerolog"

	"github.com/unkn0wn-root/flashguard"
)

type ZerologLogger struct{ L zerolog.Logger }

var _ flashguard.Logger = ZerologLogger{}

func (z ZerologLogger) Debug(msg string, f flashguard.Fields) {
	z.L.Debug().Fields(map[string]any(f)).Msg(msg)
}

func (z ZerologLogger) Info(msg string, f flashguard.Fields) {
	z.L.Info().Fields(map[string]any(f)).Msg(msg)
}

func (z ZerologLogger) Warn(msg string, f flashguard.Fields) {
	z.L.Warn().Fields(map[string]any(f)).Msg(msg)
}

func (z ZerologLogger) Error(msg string, f flashguard.Fields) {
	z.L.Error().Fields(map[string]any(f)).Msg(msg)
}
