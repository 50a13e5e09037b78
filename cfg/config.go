package cfg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
)

// NodeKind selects which runtime role a process starts as.
type NodeKind string

const (
	NodeBroker NodeKind = "broker"
	NodeCore   NodeKind = "core"
	NodeRoot   NodeKind = "root"
)

// TransportKind selects which transport.Transport implementation to wire up.
type TransportKind string

const (
	TransportInproc TransportKind = "inproc"
	TransportNATS   TransportKind = "nats"
)

// FederateFlags holds the per-federate behavioral flags enumerated in §6.
type FederateFlags struct {
	Observer               bool `json:"observer" toml:"observer"`
	SourceOnly             bool `json:"source_only" toml:"source_only"`
	Uninterruptible        bool `json:"uninterruptible" toml:"uninterruptible"`
	OnlyTransmitOnChange   bool `json:"only_transmit_on_change" toml:"only_transmit_on_change"`
	OnlyUpdateOnChange     bool `json:"only_update_on_change" toml:"only_update_on_change"`
	WaitForCurrentTimeUpdate bool `json:"wait_for_current_time_update" toml:"wait_for_current_time_update"`
	RestrictiveTimePolicy  bool `json:"restrictive_time_policy" toml:"restrictive_time_policy"`
	Realtime               bool `json:"realtime" toml:"realtime"`
	DelayInitEntry         bool `json:"delay_init_entry" toml:"delay_init_entry"`
}

// Config is the recognized initialization document (spec §6), loadable from
// either JSON or TOML depending on file extension.
type Config struct {
	Name             string        `json:"name" toml:"name"`
	NodeKind         NodeKind      `json:"node_kind" toml:"node_kind"`
	TransportKind    TransportKind `json:"transport_kind" toml:"transport_kind"`
	TransportAddress string        `json:"transport_address" toml:"transport_address"`
	ParentAddress    string        `json:"parent_address" toml:"parent_address"`

	MinFederateCount int           `json:"min_federate_count" toml:"min_federate_count"`
	MinBrokerCount   int           `json:"min_broker_count" toml:"min_broker_count"`
	Timeout          time.Duration `json:"timeout" toml:"timeout"`

	LogLevel string `json:"log_level" toml:"log_level"`
	LogFile  string `json:"log_file" toml:"log_file"`

	RTLag  time.Duration `json:"rt_lag" toml:"rt_lag"`
	RTLead time.Duration `json:"rt_lead" toml:"rt_lead"`

	Flags FederateFlags `json:"flags" toml:"flags"`
}

// Defaults returns the teacher-style zero-config defaults: a single
// in-process broker expecting at least one federate and no minimum number
// of brokers, no timeout enforcement
// beyond a generous default, info-level logging to stdout.
func Defaults() Config {
	return Config{
		Name:             "root",
		NodeKind:         NodeRoot,
		TransportKind:    TransportInproc,
		TransportAddress: "inproc://root",
		MinFederateCount: 1,
		MinBrokerCount:   0,
		Timeout:          30 * time.Second,
		LogLevel:         "info",
	}
}

// Load reads a Config from path, dispatching on extension (.json or
// .toml/.tml). Unknown extensions are an invalid-argument CoreError.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, NewError(ErrSystemFailure, "reading config %s: %v", path, err)
	}
	cfgOut := Defaults()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfgOut); err != nil {
			return Config{}, NewError(ErrInvalidArgument, "parsing JSON config %s: %v", path, err)
		}
	case ".toml", ".tml":
		if err := toml.Unmarshal(data, &cfgOut); err != nil {
			return Config{}, NewError(ErrInvalidArgument, "parsing TOML config %s: %v", path, err)
		}
	default:
		return Config{}, NewError(ErrInvalidArgument, "unrecognized config extension %q (want .json or .toml)", ext)
	}
	return cfgOut, nil
}

// ApplyLogLevel sets the package logging knobs from a string level
// ("trace", "debug", "warning", "info"/anything else).
func ApplyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		ShowTraceInfo, ShowDebugInfo, ShowWarnings = true, true, true
	case "debug":
		ShowTraceInfo, ShowDebugInfo, ShowWarnings = false, true, true
	case "warning", "warn":
		ShowTraceInfo, ShowDebugInfo, ShowWarnings = false, false, true
	default:
		ShowTraceInfo, ShowDebugInfo, ShowWarnings = false, false, false
	}
}

func (c Config) String() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%s", b)
}
