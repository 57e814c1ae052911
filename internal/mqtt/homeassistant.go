package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/screens2mqtt/internal/screen"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic       string  `json:"stat_t"`
	CommandTopic     string  `json:"cmd_t"`
	PositionTopic    string  `json:"pos_t"`
	SetPositionTopic string  `json:"set_pos_t"`
	PositionOpen     float64 `json:"pos_open"`
	PositionClosed   float64 `json:"pos_clsd"`
	PayloadOpen      string  `json:"pl_open"`
	PayloadStop      string  `json:"pl_stop"`
	PayloadClose     string  `json:"pl_cls"`
	StateOpen        string  `json:"stat_open"`
	StateOpening     string  `json:"stat_opening"`
	StateClosed      string  `json:"stat_clsd"`
	StateClosing     string  `json:"stat_closing"`
	StateStopped     string  `json:"stat_stopped"`
}

// NewHACoverFromMQTTBridge maps a screen onto a Home Assistant cover.
// "Open" is the retracted screen (position 0), "closed" is fully extended.
func NewHACoverFromMQTTBridge(bridge *Bridge) haCover {
	return haCover{
		haEntity: haEntity{
			UniqueID:    bridge.screen.Name(),
			Name:        bridge.screen.Name(),
			DeviceClass: "shade",

			Device: haDevice{
				Identifiers:  []string{"screens2mqtt"},
				Manufacturer: "XY Screens",
				Model:        "projector screen",
				Name:         bridge.screen.Name(),
				SWVersion:    "screens2mqtt",
			},
		},
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     0,
		PositionClosed:   100,
		PayloadOpen:      mqttUpCmd,
		PayloadStop:      mqttStopCmd,
		PayloadClose:     mqttDownCmd,
		StateOpen:        screen.Up.String(),
		StateOpening:     screen.Upward.String(),
		StateClosed:      screen.Down.String(),
		StateClosing:     screen.Downward.String(),
		StateStopped:     screen.Stopped.String(),
	}
}

func PublishHAAutoDiscovery(client paho.Client, homeAssistantDiscoveryTopicPrefix string, haCover haCover) error {
	topic := fmt.Sprintf("%s/cover/screens2mqtt/%s/config", homeAssistantDiscoveryTopicPrefix, haCover.Name)

	payload, err := json.Marshal(haCover)
	if err != nil {
		return err
	}

	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	return nil
}
