package config_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/gptfallback/internal/config"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   config.ConfigDiff
	}{
		{
			name:   "no change",
			mutate: func(*config.Config) {},
			want:   config.ConfigDiff{},
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			want:   config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug},
		},
		{
			name: "restart keys",
			mutate: func(c *config.Config) {
				c.Bus.ReconnectMax = time.Minute
				c.Skill.Priority = 10
				c.Skill.Breaker.MaxFailures = 9
			},
			want: config.ConfigDiff{RestartRequired: []string{"bus", "skill.priority", "skill.breaker"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			old := config.Default()
			updated := config.Default()
			tc.mutate(updated)

			got := config.Diff(old, updated)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Diff mismatch (-want +got):\n%s", diff)
			}
			if got.Changed() != (tc.name != "no change") {
				t.Errorf("Changed() = %v", got.Changed())
			}
		})
	}
}
