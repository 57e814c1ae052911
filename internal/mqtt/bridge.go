package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/screens2mqtt/internal/screen"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mqttUpCmd        = "up"
	mqttDownCmd      = "down"
	mqttStopCmd      = "stop"
	mqttMicroUpCmd   = "micro_up"
	mqttMicroDownCmd = "micro_down"
)

type Bridge struct {
	mqtt   mqtt.Client
	screen screen.Screen

	StateTopic    string
	PositionTopic string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string
}

func NewBridge(mqtt mqtt.Client, s screen.Screen) (*Bridge, error) {
	bridge := &Bridge{mqtt: mqtt, screen: s}
	bridge.StateTopic = fmt.Sprintf("screens2mqtt/%s/state", s.Name())
	bridge.PositionTopic = fmt.Sprintf("screens2mqtt/%s/position", s.Name())
	bridge.MetadataTopic = fmt.Sprintf("screens2mqtt/%s/metadata", s.Name())
	bridge.CommandTopic = fmt.Sprintf("screens2mqtt/%s/set", s.Name())
	bridge.PositionChangeTopic = fmt.Sprintf("screens2mqtt/%s/position/set", s.Name())

	if err := bridge.restorePosition(); err != nil {
		return nil, err
	}

	s.OnUpdate(bridge.onScreenUpdateHandler())

	return bridge, nil
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.screen.Name())
	}

	return nil
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.screen.Name(), token.Error())
		}
	}()

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.screen.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.screen.Name())
	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.screen.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.screen.Name())

	return nil
}

func (b *Bridge) onScreenUpdateHandler() screen.UpdateHandler {
	return func(state screen.State, position float64) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, state.String()); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.screen.Name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.FormatFloat(position, 'f', 1, 64)); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.screen.Name(), token.Error())
		}
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		var err error

		cmd := string(msg.Payload())
		switch cmd {
		case mqttUpCmd:
			_, err = b.screen.UpAsync(ctx)
		case mqttDownCmd:
			_, err = b.screen.DownAsync(ctx)
		case mqttStopCmd:
			_, err = b.screen.Stop(ctx)
		case mqttMicroUpCmd, mqttMicroDownCmd:
			err = b.microStep(ctx, cmd)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.screen.Name(), cmd)
			return
		}

		if err != nil {
			logrus.Errorf("%s: MQTT %s command failed: %s", b.screen.Name(), cmd, err)
		}
	}
}

func (b *Bridge) microStep(ctx context.Context, cmd string) error {
	stepper, ok := b.screen.(screen.MicroStepper)
	if !ok {
		return errors.Errorf("%s: screen does not support micro stepping", b.screen.Name())
	}

	if cmd == mqttMicroUpCmd {
		return stepper.MicroUp(ctx)
	}
	return stepper.MicroDown(ctx)
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(c mqtt.Client, msg mqtt.Message) {
		pos, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			logrus.Error(err)
			return
		}
		if _, err := b.screen.SetPositionAsync(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

// restorePosition seeds the screen position estimate from the retained
// position topic, then unsubscribes so later live updates are not mistaken
// for restores.
func (b *Bridge) restorePosition() error {
	restorable, ok := b.screen.(screen.RestorableScreen)
	if !ok {
		logrus.Warnf("%s: MQTT position restore: screen is not restorable", b.screen.Name())
		return nil
	}

	restoreHandler := func(c mqtt.Client, msg mqtt.Message) {
		pos, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			logrus.Error(err)
			return
		}
		if err := restorable.RestorePosition(pos); err != nil {
			logrus.Errorf("%s: MQTT position restore failed: %s", b.screen.Name(), err)
			return
		}

		logrus.Infof("%s: MQTT position restored to %.1f", b.screen.Name(), pos)

		if token := b.mqtt.Unsubscribe(b.PositionTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position restore topic unsubscribe failed: %s", b.screen.Name(), token.Error())
			return
		}

		logrus.Debugf("%s: MQTT position restore topic unsubscribed", b.screen.Name())
	}

	if token := b.mqtt.Subscribe(b.PositionTopic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position restore topic subscription failed", b.screen.Name())
	}

	return nil
}
