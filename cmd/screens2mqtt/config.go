package main

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/screens2mqtt/internal/mqtt"
	"github.com/jkaflik/screens2mqtt/internal/screen"
	"github.com/jkaflik/screens2mqtt/internal/screen/driver/xyscreens"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type cfgScreenMQTTBridge struct {
	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgScreenDriverSerial struct {
	Port string `yaml:"port"`
	// Address is the hex encoded 3-byte device address.
	Address string `yaml:"address" default:"AAEEEE"`

	DownDuration time.Duration `yaml:"down_duration" default:"1m"`
	// UpDuration defaults to DownDuration when left unset.
	UpDuration      time.Duration `yaml:"up_duration"`
	InitialPosition float64       `yaml:"initial_position"`
}

type cfgScreenDriver struct {
	Serial cfgScreenDriverSerial `yaml:"serial"`
}

type cfgScreen struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	MQTTBridge cfgScreenMQTTBridge `yaml:"mqtt_bridge"`

	Driver cfgScreenDriver `yaml:"driver"`
}

type cfgMQTT struct { // todo more fields
	ClientID string `yaml:"client_id" default:"screens2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT cfgMQTT `yaml:"mqtt" env:"MQTT"`
	HASS cfgHASS `yaml:"hass" env:"HASS"`

	Screens []cfgScreen `yaml:"screens"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "S2M",
})

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
		return
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func screens2mqttFromConfig(client paho.Client) (bridges []*mqtt.Bridge) {
	for _, cfg := range Cfg.Screens {
		s := screenFromConfig(cfg)
		bridge, err := mqtt.NewBridge(client, s)
		if err != nil {
			logrus.Fatal(err)
			continue
		}
		if err := bridge.SetMetadata(cfg.MQTTBridge.Metadata); err != nil {
			logrus.Fatal(err)
			continue
		}
		bridges = append(bridges, bridge)
	}

	return bridges
}

func screenFromConfig(cfg cfgScreen) screen.Screen {
	if cfg.Kind == "serial" {
		address, err := hex.DecodeString(cfg.Driver.Serial.Address)
		if err != nil {
			logrus.Fatalf("%s is not a valid hex screen address", cfg.Driver.Serial.Address)
		}

		transport, err := xyscreens.NewSerialTransport(cfg.Driver.Serial.Port)
		if err != nil {
			logrus.Fatal(err)
		}

		s, err := xyscreens.New(
			cfg.Name,
			transport,
			address,
			cfg.Driver.Serial.DownDuration,
			cfg.Driver.Serial.UpDuration,
			cfg.Driver.Serial.InitialPosition,
		)
		if err != nil {
			logrus.Fatal(err)
		}
		return s
	}

	logrus.Fatalf("%s is not supported screen kind", cfg.Kind)
	return nil
}
