package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type DeviceKind string

const (
	DeviceKindLight  DeviceKind = "light"
	DeviceKindSocket DeviceKind = "socket"
)

type Device struct {
	ID   string     `yaml:"id"`
	Name string     `yaml:"name"`
	Kind DeviceKind `yaml:"kind"`
}

type Room struct {
	Name    string   `yaml:"name"`
	Devices []Device `yaml:"devices"`
}

// DeviceView is a device plus its last known power state.
type DeviceView struct {
	Device
	Room      string
	Power     PowerState
	Known     bool
	UpdatedAt time.Time
}

type CommandSender interface {
	Send(deviceID string, state PowerState) error
}

type DeviceRegistryParams struct {
	Rooms    []Room
	Topics   *TopicRegistry
	Commands CommandSender
	Notifier *StatusNotifier

	Now func() time.Time

	Log zerolog.Logger
}

// DeviceRegistry is the room and device surface consumed by user
// interfaces. It tracks the last known power state of each device.
type DeviceRegistry struct {
	params DeviceRegistryParams

	rooms []Room
	room  map[string]string

	mu    sync.RWMutex
	state map[string]DeviceView

	connected   atomic.Bool
	unsubscribe func()

	log zerolog.Logger
}

// DefaultRooms puts every bound relay into a single room.
func DefaultRooms(topics *TopicRegistry) []Room {
	room := Room{Name: "Home"}
	for _, b := range topics.Bindings() {
		room.Devices = append(room.Devices, Device{
			ID:   b.DeviceID,
			Name: "Relay " + b.DeviceID,
			Kind: DeviceKindLight,
		})
	}
	return []Room{room}
}

func NewDeviceRegistry(params DeviceRegistryParams) (*DeviceRegistry, error) {
	if params.Topics == nil {
		return nil, fmt.Errorf("Topics is nil")
	}
	if params.Commands == nil {
		return nil, fmt.Errorf("Commands is nil")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if len(params.Rooms) == 0 {
		params.Rooms = DefaultRooms(params.Topics)
	}

	r := &DeviceRegistry{
		params: params,
		room:   make(map[string]string),
		state:  make(map[string]DeviceView),
		log:    params.Log,
	}

	for _, room := range params.Rooms {
		if room.Name == "" {
			return nil, fmt.Errorf("room with empty name")
		}
		devices := append([]Device(nil), room.Devices...)
		for i, d := range devices {
			if _, err := params.Topics.Resolve(d.ID); err != nil {
				return nil, fmt.Errorf("room %q: %w", room.Name, err)
			}
			if other, ok := r.room[d.ID]; ok {
				return nil, fmt.Errorf("device %q is listed in rooms %q and %q", d.ID, other, room.Name)
			}
			switch d.Kind {
			case DeviceKindLight, DeviceKindSocket:
			case "":
				devices[i].Kind = DeviceKindLight
			default:
				return nil, fmt.Errorf("device %q: unknown kind %q", d.ID, d.Kind)
			}
			if d.Name == "" {
				devices[i].Name = "Relay " + d.ID
			}
			r.room[d.ID] = room.Name
		}
		r.rooms = append(r.rooms, Room{Name: room.Name, Devices: devices})
	}

	if params.Notifier != nil {
		r.unsubscribe = params.Notifier.Subscribe(func(connected bool) {
			r.connected.Store(connected)
		})
	}

	return r, nil
}

func (r *DeviceRegistry) Rooms() []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, Room{Name: room.Name, Devices: append([]Device(nil), room.Devices...)})
	}
	return out
}

func (r *DeviceRegistry) Device(deviceID string) (DeviceView, error) {
	roomName, ok := r.room[deviceID]
	if !ok {
		return DeviceView{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}

	r.mu.RLock()
	view, known := r.state[deviceID]
	r.mu.RUnlock()
	if known {
		return view, nil
	}

	for _, room := range r.rooms {
		if room.Name != roomName {
			continue
		}
		for _, d := range room.Devices {
			if d.ID == deviceID {
				return DeviceView{Device: d, Room: roomName}, nil
			}
		}
	}
	return DeviceView{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
}

// Connected is the last connectivity flag published by the notifier.
func (r *DeviceRegistry) Connected() bool {
	return r.connected.Load()
}

// Toggle sends the desired state and records it once the transport accepted
// the command.
func (r *DeviceRegistry) Toggle(deviceID string, state PowerState) error {
	if _, ok := r.room[deviceID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if err := r.params.Commands.Send(deviceID, state); err != nil {
		return err
	}
	r.record(deviceID, state)
	return nil
}

// Reset turns the device off and forgets its recorded state.
func (r *DeviceRegistry) Reset(deviceID string) error {
	if _, ok := r.room[deviceID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if err := r.params.Commands.Send(deviceID, PowerOff); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.state, deviceID)
	r.mu.Unlock()

	r.log.Info().Str("device", deviceID).Msg("device reset")
	return nil
}

// Apply records the state carried by an inbound message. Payloads other
// than ON and OFF are ignored.
func (r *DeviceRegistry) Apply(msg DeviceMessage) {
	if _, ok := r.room[msg.DeviceID]; !ok {
		return
	}

	var state PowerState
	switch msg.Payload {
	case PowerOn.Payload():
		state = PowerOn
	case PowerOff.Payload():
		state = PowerOff
	default:
		r.log.Debug().Str("device", msg.DeviceID).Str("payload", msg.Payload).Msg("ignoring payload")
		return
	}
	r.record(msg.DeviceID, state)
}

// Consume applies messages from sub until ctx is done or the bus closes.
func (r *DeviceRegistry) Consume(ctx context.Context, sub *DeviceSubscription) error {
	defer sub.Unsubscribe()

	for {
		msg, ok := sub.Next(ctx)
		if !ok {
			return nil
		}
		r.Apply(msg)
	}
}

func (r *DeviceRegistry) DeviceIDs() []string {
	ids := make([]string, 0, len(r.room))
	for _, room := range r.rooms {
		for _, d := range room.Devices {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (r *DeviceRegistry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *DeviceRegistry) record(deviceID string, state PowerState) {
	view, err := r.Device(deviceID)
	if err != nil {
		return
	}
	view.Power = state
	view.Known = true
	view.UpdatedAt = r.params.Now()

	r.mu.Lock()
	r.state[deviceID] = view
	r.mu.Unlock()
}
