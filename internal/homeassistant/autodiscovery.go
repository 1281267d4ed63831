// Package homeassistant provides MQTT auto-discovery support for Home Assistant integration.
package homeassistant

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed layouts/homeassistant_entities.yaml
var entityLayoutYAML []byte

// EntityConfig represents one entity definition from the layouts YAML.
type EntityConfig struct {
	Platform          string `yaml:"platform"`
	Name              string `yaml:"name"`
	DeviceClass       string `yaml:"device_class,omitempty"`
	UnitOfMeasurement string `yaml:"unit_of_measurement,omitempty"`
	Icon              string `yaml:"icon,omitempty"`
	ValueTemplate     string `yaml:"value_template,omitempty"`
	PositionTemplate  string `yaml:"position_template,omitempty"`
}

// LayoutConfig represents the full entity layout for Mediola shutters.
type LayoutConfig struct {
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Entities    map[string]EntityConfig `yaml:"entities"`
}

// DiscoveryMessage represents a Home Assistant MQTT discovery message.
type DiscoveryMessage struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template,omitempty"`
	PositionTopic     string     `json:"position_topic,omitempty"`
	PositionTemplate  string     `json:"position_template,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	Icon              string     `json:"icon,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// DeviceInfo represents device information for Home Assistant.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
}

// AutoDiscovery publishes Home Assistant MQTT auto-discovery messages for
// discovered shutters. It implements domain.DeviceAnnouncer.
type AutoDiscovery struct {
	prefix    string
	baseTopic string
	layout    *LayoutConfig
	publisher domain.MessagePublisher
	announced map[string]bool
	logger    zerolog.Logger
}

// New creates a new Home Assistant auto-discovery instance.
func New(cfg *config.Config, publisher domain.MessagePublisher) (*AutoDiscovery, error) {
	var layout LayoutConfig
	if err := yaml.Unmarshal(entityLayoutYAML, &layout); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity layout: %w", err)
	}

	logger := log.With().Str("component", "homeassistant").Logger()
	logger.Info().
		Str("version", layout.Version).
		Int("entity_count", len(layout.Entities)).
		Msg("Home Assistant entity layout loaded from YAML")

	return &AutoDiscovery{
		prefix:    cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix,
		baseTopic: cfg.MQTT.Topic,
		layout:    &layout,
		publisher: publisher,
		announced: make(map[string]bool),
		logger:    logger,
	}, nil
}

// Announce publishes one discovery message per layout entity for every
// device not yet announced.
func (ad *AutoDiscovery) Announce(ctx context.Context, devices []domain.ShutterDevice) error {
	for _, device := range devices {
		if ad.announced[device.ID] {
			continue
		}

		for key, entity := range ad.layout.Entities {
			message := ad.buildMessage(device, key, entity)
			topic := fmt.Sprintf("%s/%s/mediola_%s_%s/config", ad.prefix, entity.Platform, device.ID, key)

			if err := ad.publisher.Publish(ctx, topic, message); err != nil {
				return fmt.Errorf("failed to publish discovery for device %s: %w", device.ID, err)
			}
		}

		ad.announced[device.ID] = true
		ad.logger.Info().
			Str("device", device.ID).
			Msg("Announced shutter to Home Assistant")
	}

	return nil
}

// buildMessage assembles the discovery payload for one entity of one device.
func (ad *AutoDiscovery) buildMessage(device domain.ShutterDevice, key string, entity EntityConfig) DiscoveryMessage {
	stateTopic := fmt.Sprintf("%s/%s/state", ad.baseTopic, device.ID)

	message := DiscoveryMessage{
		Name:              entity.Name,
		UniqueID:          fmt.Sprintf("mediola_%s_%s", device.ID, key),
		StateTopic:        stateTopic,
		ValueTemplate:     entity.ValueTemplate,
		DeviceClass:       entity.DeviceClass,
		UnitOfMeasurement: entity.UnitOfMeasurement,
		Icon:              entity.Icon,
		Device: DeviceInfo{
			Identifiers:  []string{fmt.Sprintf("mediola_%s", device.ID)},
			Name:         fmt.Sprintf("Shutter %s", device.ID),
			Manufacturer: device.Manufacturer,
			Model:        fmt.Sprintf("%s Shutter", device.DeviceType),
		},
	}

	// Covers report their position through dedicated fields.
	if entity.PositionTemplate != "" {
		message.PositionTopic = stateTopic
		message.PositionTemplate = entity.PositionTemplate
	}

	return message
}
