package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/blemgr/internal/events"
)

// printer writes events and results either as readable lines or as JSON lines
type printer struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "text":
		return &printer{w: w}, nil
	case "json":
		return &printer{w: w, json: true}, nil
	default:
		return nil, fmt.Errorf("invalid format '%s': must be one of [text json]", format)
	}
}

var (
	eventColor = color.New(color.FgCyan).SprintFunc()
	goodColor  = color.New(color.FgGreen).SprintFunc()
	badColor   = color.New(color.FgRed).SprintFunc()
	dimColor   = color.New(color.Faint).SprintFunc()
)

// stateColor colors adapter and link states
func stateColor(state string) string {
	switch state {
	case "on", "connected", "bonded":
		return goodColor(state)
	case "off", "unsupported", "disconnected":
		return badColor(state)
	default:
		return state
	}
}

// Event prints one event.
func (p *printer) Event(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		line, err := json.Marshal(map[string]any{"event": ev.Name(), "payload": ev})
		if err != nil {
			fmt.Fprintf(p.w, "{\"event\":%q,\"error\":%q}\n", ev.Name(), err.Error())
			return
		}
		fmt.Fprintln(p.w, string(line))
		return
	}

	name := eventColor(fmt.Sprintf("%-22s", ev.Name()))
	switch e := ev.(type) {
	case events.DiscoverPeripheral:
		fmt.Fprintf(p.w, "%s %s %4d dBm  %s\n", name, e.ID, e.RSSI, displayName(e.Peripheral.Name))
	case events.PeripheralDidBond:
		fmt.Fprintf(p.w, "%s %s %s\n", name, e.ID, displayName(e.Peripheral.Name))
	case events.StateChanged:
		fmt.Fprintf(p.w, "%s %s\n", name, stateColor(e.State))
	case events.ConnectPeripheral:
		fmt.Fprintf(p.w, "%s %s status=%d\n", name, e.Peripheral, e.Status)
	case events.DisconnectPeripheral:
		fmt.Fprintf(p.w, "%s %s status=%d\n", name, e.Peripheral, e.Status)
	case events.StopScan:
		fmt.Fprintf(p.w, "%s status=%d\n", name, e.Status)
	case events.UpdateValue:
		fmt.Fprintf(p.w, "%s %s %s/%s %s\n", name, e.Peripheral, e.Service, e.Characteristic, intsToHex(e.Value))
	default:
		fmt.Fprintf(p.w, "%s %+v\n", name, ev)
	}
}

// Result prints a command result: JSON in json mode, the text form otherwise.
func (p *printer) Result(v any, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.json {
		_, err := fmt.Fprintln(p.w, text)
		return err
	}
	enc := json.NewEncoder(p.w)
	return enc.Encode(v)
}

// JSON prints v as indented JSON regardless of the format.
func (p *printer) JSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	enc := json.NewEncoder(p.w)
	if !p.json {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func displayName(name string) string {
	if name == "" {
		return dimColor("(unnamed)")
	}
	return name
}

func intsToHex(v []int) string {
	b := make([]byte, len(v))
	for i, x := range v {
		b[i] = byte(x)
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
