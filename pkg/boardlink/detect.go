package boardlink

import (
	"fmt"
	"sort"
	"strings"

	bugserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"plotbot-go/pkg/config"
	"plotbot-go/pkg/serial"
)

// USBPort is one enumerated USB serial device.
type USBPort struct {
	Name string
	VID  string
	PID  string
}

// enumerate and listNames are replaced in tests.
var (
	enumerate = func() ([]USBPort, error) {
		details, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return nil, err
		}
		var out []USBPort
		for _, d := range details {
			if d.IsUSB {
				out = append(out, USBPort{Name: d.Name, VID: d.VID, PID: d.PID})
			}
		}
		return out, nil
	}

	listNames = func() []string {
		seen := make(map[string]bool)
		var names []string
		add := func(list []string) {
			for _, n := range list {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
		}
		if list, err := bugserial.GetPortsList(); err == nil {
			add(list)
		}
		if list, err := serial.ListPorts(); err == nil {
			add(list)
		}
		sort.Strings(names)
		return names
	}
)

// Detect finds the board's device path: first by USB vendor and product ID,
// then by matching device names against cfg.PortHints.
func Detect(cfg config.BoardConfig) (string, error) {
	if cfg.VID != "" && cfg.PID != "" {
		ports, err := enumerate()
		if err == nil {
			for _, p := range ports {
				if strings.EqualFold(p.VID, cfg.VID) && strings.EqualFold(p.PID, cfg.PID) {
					return p.Name, nil
				}
			}
		}
	}
	for _, name := range listNames() {
		if serial.MatchHint(name, cfg.PortHints) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no device with USB ID %s:%s or name matching %v",
		cfg.VID, cfg.PID, cfg.PortHints)
}
