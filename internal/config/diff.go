package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StreamConfigChanged is set when any audio setting that streams copy on
	// open changed. Such changes apply to streams opened afterwards.
	StreamConfigChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart, by their YAML path.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.StreamConfigChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Audio, new.Audio
	if oa.TargetSampleRate != na.TargetSampleRate ||
		oa.Threshold() != na.Threshold() ||
		oa.DeliveryOrder != na.DeliveryOrder ||
		oa.ChunkMode != na.ChunkMode {
		d.StreamConfigChanged = true
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.max_chunk_bytes", old.Server.MaxChunkBytes != new.Server.MaxChunkBytes)
	restart("server.max_streams", old.Server.MaxStreams != new.Server.MaxStreams)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("audio.temp_dir", oa.TempDir != na.TempDir)
	restart("dispatch.queue_size", old.Dispatch.QueueSize != new.Dispatch.QueueSize)
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("storage", old.Storage != new.Storage)

	return d
}
