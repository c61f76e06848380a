package speedtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Measurement is one parsed throughput result
type Measurement struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
}

type ooklaOutput struct {
	Ping *struct {
		Latency *float64 `json:"latency"`
	} `json:"ping"`
	Download *struct {
		Bandwidth *float64 `json:"bandwidth"` // bytes per second
	} `json:"download"`
	Upload *struct {
		Bandwidth *float64 `json:"bandwidth"`
	} `json:"upload"`
}

type pythonOutput struct {
	Download *float64 `json:"download"` // bits per second
	Upload   *float64 `json:"upload"`
	Ping     *float64 `json:"ping"`
}

var errMissingFields = errors.New("missing download, upload or ping")

// Parse decodes the JSON output of tool into Mbps figures.
func Parse(tool string, output []byte) (Measurement, error) {
	doc, err := jsonDocument(output)
	if err != nil {
		return Measurement{}, err
	}

	switch tool {
	case ToolOokla:
		var out ooklaOutput
		if err := json.Unmarshal(doc, &out); err != nil {
			return Measurement{}, fmt.Errorf("decode %s output: %w", tool, err)
		}
		if out.Download == nil || out.Download.Bandwidth == nil ||
			out.Upload == nil || out.Upload.Bandwidth == nil ||
			out.Ping == nil || out.Ping.Latency == nil {
			return Measurement{}, errMissingFields
		}
		return Measurement{
			DownloadMbps: *out.Download.Bandwidth * 8 / 1e6,
			UploadMbps:   *out.Upload.Bandwidth * 8 / 1e6,
			PingMs:       *out.Ping.Latency,
		}, nil
	case ToolPython:
		var out pythonOutput
		if err := json.Unmarshal(doc, &out); err != nil {
			return Measurement{}, fmt.Errorf("decode %s output: %w", tool, err)
		}
		if out.Download == nil || out.Upload == nil || out.Ping == nil {
			return Measurement{}, errMissingFields
		}
		return Measurement{
			DownloadMbps: *out.Download / 1e6,
			UploadMbps:   *out.Upload / 1e6,
			PingMs:       *out.Ping,
		}, nil
	default:
		return Measurement{}, fmt.Errorf("unknown tool %q", tool)
	}
}

// jsonDocument returns the whole output when it is valid JSON, otherwise the
// last line that is. Ookla may print progress lines before the result.
func jsonDocument(output []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, errors.New("empty output")
	}
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	lines := strings.Split(trimmed, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "{") && json.Valid([]byte(line)) {
			return []byte(line), nil
		}
	}
	return nil, errors.New("no JSON document in output")
}
