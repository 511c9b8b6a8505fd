package scenario

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/espilink/internal/espi/lane"
	"github.com/danmuck/espilink/internal/espi/link"
)

// Run issues the scenario's steps against the link in order, stopping
// at the first failed transaction. The scenario must already be valid.
func Run(l *link.Link, sc Scenario, log zerolog.Logger) error {
	log.Info().Str("scenario", sc.Name).Int("steps", len(sc.Steps)).Msg("scenario start")
	for i, st := range sc.Steps {
		if err := runStep(l, st, log); err != nil {
			return fmt.Errorf("scenario %q: step[%d] %s: %w", sc.Name, i, st.Op, err)
		}
	}
	log.Info().Str("scenario", sc.Name).Msg("scenario complete")
	return nil
}

func runStep(l *link.Link, st Step, log zerolog.Logger) error {
	switch st.Op {
	case OpIORead:
		data, _, err := l.IORead(uint16(st.Addr), st.Length)
		if err != nil {
			return err
		}
		log.Info().Uint32("addr", st.Addr).Hex("data", data).Msg("io read")
		return nil

	case OpIOWrite:
		data, err := st.Payload()
		if err != nil {
			return err
		}
		_, err = l.IOWrite(uint16(st.Addr), data)
		return err

	case OpMemRead32:
		data, _, err := l.MemRead32(st.Addr, st.Length)
		if err != nil {
			return err
		}
		log.Info().Uint32("addr", st.Addr).Hex("data", data).Msg("mem read")
		return nil

	case OpMemWrite32:
		data, err := st.Payload()
		if err != nil {
			return err
		}
		_, err = l.MemWrite32(st.Addr, data)
		return err

	case OpGetConfig:
		v, _, err := l.GetConfiguration(uint16(st.Addr))
		if err != nil {
			return err
		}
		log.Info().Uint32("reg", st.Addr).Uint32("value", v).Msg("configuration read")
		return nil

	case OpSetConfig:
		_, err := l.SetConfiguration(uint16(st.Addr), st.Value)
		return err

	case OpGetStatus:
		status, err := l.GetStatus()
		if err != nil {
			return err
		}
		log.Info().Stringer("status", status).Msg("status read")
		return nil

	case OpPutVWire:
		_, err := l.PutVWire(st.VWires())
		return err

	case OpGetVWire:
		wires, _, err := l.GetVWire()
		if err != nil {
			return err
		}
		log.Info().Int("count", len(wires)).Msg("virtual wires read")
		return nil

	case OpReset:
		return l.Reset()

	case OpSetWidth:
		w, err := lane.ParseWidth(st.Width)
		if err != nil {
			return err
		}
		return l.SetWidth(w)

	case OpDumpConfig:
		report, err := l.DumpConfiguration()
		if err != nil {
			return err
		}
		log.Info().Str("report", report).Msg("configuration dump")
		return nil

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}
