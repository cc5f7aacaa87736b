package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level differs. The new level is
	// applied without a restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed keys that only take effect after a
	// restart, such as the listener address or the bus URL.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("bus", old.Bus != new.Bus)
	restart("skill.settings_path", old.Skill.SettingsPath != new.Skill.SettingsPath)
	restart("skill.skill_id", old.Skill.SkillID != new.Skill.SkillID)
	restart("skill.priority", old.Skill.Priority != new.Skill.Priority)
	restart("skill.lang", old.Skill.Lang != new.Skill.Lang)
	restart("skill.breaker", old.Skill.Breaker != new.Skill.Breaker)

	return d
}
