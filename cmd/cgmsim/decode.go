package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/gattdb"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <characteristic> <hex>",
	Short: "Decode a CGM characteristic payload",
	Long: `Decodes a payload captured from a CGM characteristic.

The characteristic is a name or a 16-bit UUID:
  measurement (2aa7), feature (2aa8), status (2aa9), start-time (2aaa),
  run-time (2aab), command (2aac), response

Examples:
  # Measurement notification
  cgmsim decode measurement 060001000100

  # Control point indication
  cgmsim decode 2aac 1c000000 --response

  # Session start time as JSON
  cgmsim decode start-time DF070209030314EC00 --json`,
	Args: cobra.ExactArgs(2),
	RunE: runDecode,
}

var (
	decodeJSON     bool
	decodeResponse bool
)

func init() {
	decodeCmd.Flags().BoolVar(&decodeJSON, "json", false, "Output as JSON")
	decodeCmd.Flags().BoolVar(&decodeResponse, "response", false, "Decode a control point payload as an indication")
}

type fields = orderedmap.OrderedMap[string, any]

type decoder func(b []byte) (*fields, error)

var decoders = map[string]decoder{
	"measurement": decodeMeasurement,
	"feature":     decodeFeature,
	"status":      decodeStatus,
	"start-time":  decodeStartTime,
	"run-time":    decodeRunTime,
	"command":     decodeCommand,
	"response":    decodeControlResponse,
}

var decoderByUUID = map[string]string{
	gattdb.Short(gattdb.CharCGMMeasurement):    "measurement",
	gattdb.Short(gattdb.CharCGMFeature):        "feature",
	gattdb.Short(gattdb.CharCGMStatus):         "status",
	gattdb.Short(gattdb.CharCGMSessionStart):   "start-time",
	gattdb.Short(gattdb.CharCGMSessionRunTime): "run-time",
	gattdb.Short(gattdb.CharCGMSpecificOps):    "command",
}

func runDecode(cmd *cobra.Command, args []string) error {
	name, err := resolveDecoder(args[0], decodeResponse)
	if err != nil {
		return err
	}
	payload, err := parseHex(args[1])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	result, err := decoders[name](payload)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	if decodeJSON {
		return writeFieldsJSON(cmd.OutOrStdout(), result)
	}
	return writeFieldsTable(cmd.OutOrStdout(), result)
}

// resolveDecoder maps a decoder name or characteristic UUID to a decoder name.
func resolveDecoder(arg string, response bool) (string, error) {
	name := strings.ToLower(arg)
	if _, ok := decoders[name]; !ok {
		byUUID, ok := decoderByUUID[gattdb.NormalizeUUID(arg)]
		if !ok {
			return "", fmt.Errorf("unknown characteristic %q", arg)
		}
		name = byUUID
	}
	if response && name == "command" {
		name = "response"
	}
	return name, nil
}

// parseHex accepts "0601", "06 01", "06:01", "06-01" and 0x prefixes.
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer("0x", "", "0X", "", " ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload %q: %w", s, err)
	}
	return b, nil
}

func decodeMeasurement(b []byte) (*fields, error) {
	m, err := cgm.DecodeMeasurement(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("size", m.Size)
	f.Set("flags", fmt.Sprintf("0x%02X", m.Flags))
	f.Set("concentration", m.Concentration)
	f.Set("time_offset", m.TimeOffset)
	return f, nil
}

func decodeFeature(b []byte) (*fields, error) {
	feat, err := cgm.DecodeFeature(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("features", fmt.Sprintf("0x%06X", feat.Bitmask))
	f.Set("calibration", feat.Has(cgm.FeatureCalibration))
	f.Set("e2e_crc", feat.Has(cgm.FeatureE2ECRC))
	f.Set("multi_bond", feat.Has(cgm.FeatureMultiBond))
	f.Set("multi_session", feat.Has(cgm.FeatureMultiSession))
	f.Set("type", feat.Type())
	f.Set("sample_location", feat.Location())
	return f, nil
}

func decodeStatus(b []byte) (*fields, error) {
	st, err := cgm.DecodeStatus(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("time_offset", st.TimeOffset)
	f.Set("status", fmt.Sprintf("0x%06X", st.Bitmask))
	f.Set("session_stopped", st.Bitmask&cgm.StatusSessionStopped != 0)
	f.Set("battery_low", st.Bitmask&cgm.StatusDeviceBatteryLow != 0)
	return f, nil
}

func decodeStartTime(b []byte) (*fields, error) {
	st, err := cgm.DecodeStartTime(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("date", fmt.Sprintf("%04d-%02d-%02d", st.Year, st.Month, st.Day))
	f.Set("time", fmt.Sprintf("%02d:%02d:%02d", st.Hour, st.Minute, st.Second))
	f.Set("time_zone", st.TimeZone)
	f.Set("dst_offset", st.DSTOffset)
	if err := st.Validate(); err != nil {
		f.Set("valid", false)
		f.Set("error", err.Error())
	} else {
		f.Set("valid", true)
	}
	return f, nil
}

func decodeRunTime(b []byte) (*fields, error) {
	rt, err := cgm.DecodeRunTime(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("run_time", uint16(rt))
	return f, nil
}

func decodeCommand(b []byte) (*fields, error) {
	c, err := cgm.DecodeCommand(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("opcode", c.Opcode.String())
	f.Set("operand", strings.ToUpper(hex.EncodeToString(c.Operand)))
	req, err := cgm.ParseRequest(c)
	if err != nil {
		f.Set("error", err.Error())
		return f, nil
	}
	if set, ok := req.(cgm.SetIntervalRequest); ok {
		f.Set("interval_ms", set.IntervalMs())
	}
	return f, nil
}

func decodeControlResponse(b []byte) (*fields, error) {
	r, err := cgm.DecodeResponse(b)
	if err != nil {
		return nil, err
	}
	f := orderedmap.New[string, any]()
	f.Set("opcode", r.Opcode.String())
	f.Set("status", r.Status.String())
	if ms, err := r.Interval(); err == nil {
		f.Set("interval_ms", ms)
	}
	return f, nil
}

func writeFieldsTable(out io.Writer, f *fields) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for pair := f.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(w, "%s\t%v\n", pair.Key, pair.Value)
	}
	return w.Flush()
}

func writeFieldsJSON(out io.Writer, f *fields) error {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}
