package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("SUBSTRATE_PATH overrides substratePath", func(t *testing.T) {
		t.Setenv("SUBSTRATE_PATH", "/mnt/anima/substrate")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/mnt/anima/substrate", cfg.SubstratePath)
	})

	t.Run("PORT overrides port when numeric", func(t *testing.T) {
		t.Setenv("PORT", "8443")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, 8443, cfg.Port)
	})

	t.Run("PORT ignored when not numeric", func(t *testing.T) {
		t.Setenv("PORT", "eighty")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, 3000, cfg.Port)
	})

	t.Run("SUPEREGO_AUDIT_INTERVAL overrides cycles per audit", func(t *testing.T) {
		t.Setenv("SUPEREGO_AUDIT_INTERVAL", "3")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, 3, cfg.SuperegoAuditInterval)
	})

	t.Run("AUTONOMY_REMINDER_INTERVAL accepts zero to disable", func(t *testing.T) {
		t.Setenv("AUTONOMY_REMINDER_INTERVAL", "0")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, 0, cfg.AutonomyReminderInterval)
	})

	t.Run("ANIMA_TOKEN sets bearer token", func(t *testing.T) {
		t.Setenv("ANIMA_TOKEN", "hunter2")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, "hunter2", cfg.Token)
	})

	t.Run("ANIMA_MODE accepts only known modes", func(t *testing.T) {
		t.Setenv("ANIMA_MODE", "tick")
		cfg := Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, ModeTick, cfg.Mode)

		t.Setenv("ANIMA_MODE", "warp")
		cfg = Default()
		cfg.applyEnvOverrides()
		assert.Equal(t, ModeCycle, cfg.Mode)
	})

	t.Run("env wins over file value", func(t *testing.T) {
		t.Setenv("PORT", "9000")

		cfg := Default()
		cfg.Port = 3000
		cfg.applyEnvOverrides()

		assert.Equal(t, 9000, cfg.Port)
	})
}
