// Package scenario loads YAML-described harness runs: the script pair
// the checker is armed with plus the ordered master transactions to
// issue against it.
package scenario

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danmuck/espilink/internal/espi/frame"
	"github.com/danmuck/espilink/internal/espi/lane"
)

type Scenario struct {
	Name   string `yaml:"name"`
	Script Script `yaml:"script"`
	Steps  []Step `yaml:"steps"`
}

// Script is the request/response pair handed to the checker, one
// newline-separated segment per chip-select activation.
type Script struct {
	Request  string `yaml:"request"`
	Response string `yaml:"response"`
}

type Step struct {
	Op     string `yaml:"op"`
	Addr   uint32 `yaml:"addr"`
	Length int    `yaml:"length"`
	// Data holds write payload bytes as a hex string.
	Data  string `yaml:"data"`
	Value uint32 `yaml:"value"`
	// Width names the lane mode for a set_width step.
	Width string `yaml:"width"`
	Wires []Wire `yaml:"wires"`
}

type Wire struct {
	Index uint8 `yaml:"index"`
	Data  uint8 `yaml:"data"`
}

const (
	OpIORead     = "io_read"
	OpIOWrite    = "io_write"
	OpMemRead32  = "mem_read32"
	OpMemWrite32 = "mem_write32"
	OpGetConfig  = "get_configuration"
	OpSetConfig  = "set_configuration"
	OpGetStatus  = "get_status"
	OpPutVWire   = "put_vwire"
	OpGetVWire   = "get_vwire"
	OpReset      = "reset"
	OpSetWidth   = "set_width"
	OpDumpConfig = "dump_configuration"
)

// Load reads and validates a scenario file.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario (%s): %w", path, err)
	}
	if err := Validate(sc); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks scenario correctness. It does not mutate the
// scenario and it does not touch any bus.
func Validate(sc Scenario) error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("scenario: name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario %q: at least one step is required", sc.Name)
	}
	for i, st := range sc.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("scenario %q: step[%d]: %w", sc.Name, i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	switch st.Op {
	case OpIORead, OpMemRead32:
		if !shortLength(st.Length) {
			return fmt.Errorf("%s: length must be 1, 2 or 4, got %d", st.Op, st.Length)
		}
	case OpIOWrite, OpMemWrite32:
		data, err := st.Payload()
		if err != nil {
			return err
		}
		if !shortLength(len(data)) {
			return fmt.Errorf("%s: data must be 1, 2 or 4 bytes, got %d", st.Op, len(data))
		}
	case OpGetConfig, OpSetConfig, OpGetStatus, OpGetVWire, OpReset, OpDumpConfig:
	case OpPutVWire:
		if len(st.Wires) == 0 || len(st.Wires) > frame.MaxVWires {
			return fmt.Errorf("%s: wire count must be 1..%d, got %d", st.Op, frame.MaxVWires, len(st.Wires))
		}
	case OpSetWidth:
		if _, err := lane.ParseWidth(st.Width); err != nil {
			return fmt.Errorf("%s: %w", st.Op, err)
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// Payload decodes the step's hex data field.
func (st Step) Payload() ([]byte, error) {
	data, err := hex.DecodeString(strings.TrimSpace(st.Data))
	if err != nil {
		return nil, fmt.Errorf("%s: bad data %q: %w", st.Op, st.Data, err)
	}
	return data, nil
}

// VWires converts the step's wire list into frame pairs.
func (st Step) VWires() []frame.VWire {
	wires := make([]frame.VWire, len(st.Wires))
	for i, w := range st.Wires {
		wires[i] = frame.VWire{Index: w.Index, Data: w.Data}
	}
	return wires
}

func shortLength(n int) bool { return n == 1 || n == 2 || n == 4 }
