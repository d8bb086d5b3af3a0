// Package cmn provides common configuration and constants shared by every
// component of the bundling daemon.
package cmn

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/dtnx/bpd/cmn/cos"
)

// Config is the full on-disk daemon configuration (§6). It is loaded once at
// startup and its hot-path knobs are copied into Rom by Rom.Set for
// read-mostly access; there is no config-reload event.
type Config struct {
	EID struct {
		Local string `json:"local"` // this node's primary EID, e.g. "ipn:7.0"
	} `json:"eid"`

	Timeout struct {
		CplaneOperation time.Duration `json:"cplane_operation"` // event-loop dispatch budget
		MaxKeepalive    time.Duration `json:"max_keepalive"`    // CL keepalive interval
	} `json:"timeout"`

	IPN struct {
		EchoServiceNumber   uint64 `json:"echo_service_number"`
		EchoMaxReturnLength int    `json:"echo_max_return_length"`
	} `json:"ipn"`

	Log struct {
		Dir     string `json:"dir"`
		Level   int    `json:"level"`
		Modules int    `json:"modules"` // FastV module bitmask
	} `json:"log"`

	IMC struct {
		HomeRegion      uint64 `json:"home_region"`
		IsRouter        bool   `json:"is_router"`
		DBPath          string `json:"db_path"` // buntdb file backing the region/group/manual-join DB
		ClearRegionID   string `json:"clear_region_id"`
		ClearGroupID    string `json:"clear_group_id"`
		ClearJoinID     string `json:"clear_manual_join_id"`
	} `json:"imc"`

	Metrics struct {
		ListenAddr string `json:"listen_addr"` // e.g. ":9100"; empty disables the Prometheus endpoint
	} `json:"metrics"`

	Flags      Flags `json:"flags"`
	TestingEnv bool  `json:"testing_env"`
}

// LoadConfig reads and parses a JSON config file, then publishes it to Rom.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, cos.NewErrNotFound("config file %q", path)
	}
	cfg := &Config{}
	if err := jsoniter.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	Rom.Set(cfg)
	return cfg, nil
}
