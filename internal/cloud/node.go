// Package cloud models the device-management layer the weather device reports
// to: a node with devices, typed parameters, write callbacks and alerts.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownParam  = errors.New("unknown parameter")
	ErrTypeMismatch  = errors.New("parameter type mismatch")
	// ErrIgnored is returned by write callbacks for parameters they do not handle.
	ErrIgnored = errors.New("write ignored")
)

// ParamType is the value type of a parameter.
type ParamType string

const (
	TypeBool   ParamType = "bool"
	TypeInt    ParamType = "int"
	TypeFloat  ParamType = "float"
	TypeString ParamType = "string"
)

// Sources of parameter updates.
const (
	SourceLocal = "local"
	SourceCloud = "cloud"
)

// Param is a named, typed device parameter.
type Param struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Value   any       `json:"value"`
	Primary bool      `json:"primary,omitempty"`
	UI      string    `json:"ui,omitempty"`
}

// WriteFunc handles a write request for one of the device's parameters.
type WriteFunc func(ctx context.Context, param Param, value any) error

// Device is a group of parameters with a single write callback.
type Device struct {
	Name   string
	Type   string
	params []*Param
	write  WriteFunc
}

func NewDevice(name, typ string) *Device {
	return &Device{Name: name, Type: typ}
}

// AddParam adds a parameter with its initial value and returns it.
func (d *Device) AddParam(name string, typ ParamType, initial any) *Param {
	p := &Param{Name: name, Type: typ, Value: initial}
	d.params = append(d.params, p)
	return p
}

// AssignPrimary marks the named parameter as the device's primary one.
func (d *Device) AssignPrimary(name string) {
	for _, p := range d.params {
		p.Primary = p.Name == name
	}
}

// OnWrite sets the device's write callback.
func (d *Device) OnWrite(fn WriteFunc) {
	d.write = fn
}

func (d *Device) param(name string) (*Param, bool) {
	for _, p := range d.params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// ParamUpdate is one persisted parameter change.
type ParamUpdate struct {
	Device    string    `json:"device"`
	Param     string    `json:"param"`
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is a notification raised by the device.
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink persists parameter updates and alerts.
type Sink interface {
	SaveParam(ctx context.Context, u ParamUpdate) error
	SaveAlert(ctx context.Context, a Alert) error
	ListAlerts(ctx context.Context, limit int) ([]Alert, error)
}

// DeviceState is a read-only view of a device.
type DeviceState struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Params []Param `json:"params"`
}

// Node holds the devices of one physical node.
type Node struct {
	mu      sync.RWMutex
	name    string
	devices []*Device
	sink    Sink
	logger  *slog.Logger
}

func NewNode(name string, sink Sink, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{name: name, sink: sink, logger: logger.With("component", "cloud", "node", name)}
}

// AddDevice registers d with the node.
func (n *Node) AddDevice(d *Device) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.devices = append(n.devices, d)
}

func (n *Node) device(name string) (*Device, bool) {
	for _, d := range n.devices {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// UpdateAndReport sets a parameter value and persists it.
func (n *Node) UpdateAndReport(ctx context.Context, device, param string, value any) error {
	return n.update(ctx, device, param, value, SourceLocal)
}

func (n *Node) update(ctx context.Context, device, param string, value any, source string) error {
	n.mu.Lock()
	p, err := n.lookup(device, param)
	if err != nil {
		n.mu.Unlock()
		return err
	}
	v, err := normalize(p.Type, value)
	if err != nil {
		n.mu.Unlock()
		return fmt.Errorf("%s.%s: %w", device, param, err)
	}
	p.Value = v
	n.mu.Unlock()

	if n.sink == nil {
		return nil
	}
	u := ParamUpdate{Device: device, Param: param, Value: v, Source: source, Timestamp: time.Now().UTC()}
	if err := n.sink.SaveParam(ctx, u); err != nil {
		return fmt.Errorf("reporting %s.%s: %w", device, param, err)
	}
	return nil
}

func (n *Node) lookup(device, param string) (*Param, error) {
	d, ok := n.device(device)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	p, ok := d.param(param)
	if !ok {
		return nil, fmt.Errorf("%w: %q on %q", ErrUnknownParam, param, device)
	}
	return p, nil
}

// RaiseAlert persists an alert message.
func (n *Node) RaiseAlert(ctx context.Context, message string) error {
	a := Alert{ID: uuid.NewString(), Message: message, Timestamp: time.Now().UTC()}
	n.logger.Warn("alert raised", "message", message)
	if n.sink == nil {
		return nil
	}
	if err := n.sink.SaveAlert(ctx, a); err != nil {
		return fmt.Errorf("raising alert: %w", err)
	}
	return nil
}

// Alerts returns the most recent alerts, newest first.
func (n *Node) Alerts(ctx context.Context, limit int) ([]Alert, error) {
	if n.sink == nil {
		return nil, nil
	}
	return n.sink.ListAlerts(ctx, limit)
}

// Write dispatches a write request to the owning device's callback. Parameters
// the callback ignores are dropped silently; accepted values are reported back.
func (n *Node) Write(ctx context.Context, device, param string, value any) error {
	n.mu.RLock()
	d, ok := n.device(device)
	if !ok {
		n.mu.RUnlock()
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	p, err := n.lookup(device, param)
	if err != nil {
		n.mu.RUnlock()
		return err
	}
	// update writes Value under the write lock, so copy while still locked.
	snapshot, write := *p, d.write
	n.mu.RUnlock()

	v, err := normalize(snapshot.Type, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", device, param, err)
	}
	n.logger.Info("write request received", "device", device, "param", param, "value", v)

	if write != nil {
		if err := write(ctx, snapshot, v); err != nil {
			if errors.Is(err, ErrIgnored) {
				return nil
			}
			return err
		}
	}
	return n.update(ctx, device, param, v, SourceCloud)
}

// Devices returns a snapshot of all devices and their parameters.
func (n *Node) Devices() []DeviceState {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]DeviceState, 0, len(n.devices))
	for _, d := range n.devices {
		ds := DeviceState{Name: d.Name, Type: d.Type, Params: make([]Param, 0, len(d.params))}
		for _, p := range d.params {
			ds.Params = append(ds.Params, *p)
		}
		out = append(out, ds)
	}
	return out
}

// normalize coerces JSON-decoded values to the parameter type.
func normalize(typ ParamType, v any) (any, error) {
	switch typ {
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == math.Trunc(x) {
				return int(x), nil
			}
		}
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	}
	return nil, fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, typ, v)
}
