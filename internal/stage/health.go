package stage

import (
	"strings"

	"imgconv/internal/format"
)

// Health is a stage's readiness as shown in processor status.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
	// Unencodable lists selectable targets the stage will fail on.
	Unencodable []format.Format `json:"unencodable,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a Health record for a stage that cannot run.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Degraded returns a ready record that names the targets without an encoder.
func Degraded(name string, unencodable []format.Format) Health {
	if len(unencodable) == 0 {
		return Healthy(name)
	}
	labels := make([]string, len(unencodable))
	for i, f := range unencodable {
		labels[i] = f.Label()
	}
	return Health{
		Name:        name,
		Ready:       true,
		Detail:      "no encoder for " + strings.Join(labels, ", "),
		Unencodable: unencodable,
	}
}

// CanEncode reports whether the stage accepts target.
func (h Health) CanEncode(target format.Format) bool {
	if !h.Ready {
		return false
	}
	for _, f := range h.Unencodable {
		if f == target {
			return false
		}
	}
	return true
}
