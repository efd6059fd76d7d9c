// Package wire implements the external wire protocol: plain JSON for
// hello/welcome/echo/robot-push messages, and the spectator-stream
// compaction rules (bool->int, truncated floats, column-transposed
// object arrays) for full arena snapshots.
package wire

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"robot-battle/internal/arena"
)

// HelloMessage is the first message sent by a connecting player.
type HelloMessage struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// EchoMessage is a one-line informational message sent to a player:
// welcome, refusal, or terminal notice.
type EchoMessage struct {
	Echo string `json:"echo"`
}

// EncodePlain marshals v with the standard library encoder, used for
// every message on the wire except the spectator snapshot stream.
func EncodePlain(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeCommands parses a player's command message, which may be a
// single command object or a JSON array of them. Every decoded command
// is validated: unknown kinds or non-finite parameters produce
// arena.ErrBadCommand.
func DecodeCommands(data []byte) ([]arena.Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var cmds []arena.Command
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, &arena.ErrBadCommand{Reason: err.Error()}
		}
		cmds = make([]arena.Command, 0, len(raw))
		for _, r := range raw {
			c, err := decodeOneCommand(r)
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, c)
		}
		return cmds, nil
	}

	c, err := decodeOneCommand(trimmed)
	if err != nil {
		return nil, err
	}
	return []arena.Command{c}, nil
}

func decodeOneCommand(data []byte) (arena.Command, error) {
	var c arena.Command
	if err := json.Unmarshal(data, &c); err != nil {
		return arena.Command{}, &arena.ErrBadCommand{Reason: err.Error()}
	}
	if err := arena.ValidateCommand(c); err != nil {
		return arena.Command{}, err
	}
	return c, nil
}

// EncodeSnapshot renders an arena snapshot using the compact wire rules:
// booleans become 0/1, floats are rounded to one decimal and formatted
// without trailing zeros, and homogeneous arrays of objects are
// transposed column-major with a "_t":true marker. Object keys are
// written in sorted order, so the marker comes first. No whitespace is
// emitted.
func EncodeSnapshot(a *arena.Arena) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	encodeCompactValue(generic, &buf)
	return buf.Bytes(), nil
}

func encodeCompactValue(v interface{}, buf *bytes.Buffer) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	case float64:
		buf.WriteString(formatCompactFloat(val))
	case string:
		b, _ := json.Marshal(val)
		buf.Write(b)
	case map[string]interface{}:
		encodeCompactObject(val, buf)
	case []interface{}:
		encodeCompactArray(val, buf)
	default:
		b, _ := json.Marshal(val)
		buf.Write(b)
	}
}

func encodeCompactObject(m map[string]interface{}, buf *bytes.Buffer) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteByte(':')
		encodeCompactValue(m[k], buf)
	}
	buf.WriteByte('}')
}

func encodeCompactArray(arr []interface{}, buf *bytes.Buffer) {
	if transposed, ok := transposeObjectArray(arr); ok {
		encodeCompactObject(transposed, buf)
		return
	}
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeCompactValue(v, buf)
	}
	buf.WriteByte(']')
}

// transposeObjectArray converts a homogeneous array of objects into a
// struct-of-arrays ("column-major") object, keyed by the first element's
// keys, plus a "_t":true marker. It returns ok=false (leaving
// the array untouched) if any element is not an object.
func transposeObjectArray(arr []interface{}) (map[string]interface{}, bool) {
	if len(arr) == 0 {
		return nil, false
	}
	first, ok := arr[0].(map[string]interface{})
	if !ok {
		return nil, false
	}
	elements := make([]map[string]interface{}, len(arr))
	for i, e := range arr {
		em, ok := e.(map[string]interface{})
		if !ok {
			return nil, false
		}
		elements[i] = em
	}

	out := make(map[string]interface{}, len(first)+1)
	for k := range first {
		col := make([]interface{}, len(elements))
		for i, em := range elements {
			col[i] = em[k]
		}
		out[k] = col
	}
	// Kept as a raw JSON literal so the bool->0/1 rule does not turn the
	// marker into 1.
	out["_t"] = json.RawMessage("true")
	return out, true
}

// formatCompactFloat rounds f to one fractional digit and formats it with
// trailing zeros stripped, matching the original encoder's `f"{round(x,1):g}"`.
func formatCompactFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	rounded := math.Round(f*10) / 10
	if rounded == 0 {
		rounded = 0 // normalize negative zero
	}
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	return trimTrailingZeros(s)
}

func trimTrailingZeros(s string) string {
	if !bytesContain(s, '.') {
		return s
	}
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	if i == 0 {
		return "0"
	}
	return s[:i]
}

func bytesContain(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}
