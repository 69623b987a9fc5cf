package adapters

import (
	"fmt"
	"io"
	"os"

	"mqtt-relay-control/application"

	"gopkg.in/yaml.v3"
)

type roomLayout struct {
	Rooms []application.Room `yaml:"rooms"`
}

// LoadRoomLayout reads the room to device layout from a YAML file:
//
//	rooms:
//	  - name: Living Room
//	    devices:
//	      - id: "1"
//	        name: Ceiling Light
//	        kind: light
func LoadRoomLayout(path string) ([]application.Room, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open room layout: %w", err)
	}
	defer f.Close()

	return DecodeRoomLayout(f)
}

func DecodeRoomLayout(r io.Reader) ([]application.Room, error) {
	var layout roomLayout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&layout); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode room layout: %w", err)
	}

	return layout.Rooms, nil
}
