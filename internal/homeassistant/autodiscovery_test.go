package homeassistant

import (
	"context"
	"testing"

	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturePublisher records every published topic and payload.
type capturePublisher struct {
	messages map[string]interface{}
	err      error
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{messages: make(map[string]interface{})}
}

func (p *capturePublisher) Connect(_ context.Context) error { return nil }

func (p *capturePublisher) Publish(_ context.Context, topic string, data interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = data
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MQTT.Topic = "home/shutters"
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = true
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"
	return cfg
}

func testDevice(id string) domain.ShutterDevice {
	return domain.ShutterDevice{
		ID:           id,
		Address:      "2E105601",
		DeviceType:   domain.DeviceTypeWIR,
		Manufacturer: "WIR",
		Position:     30,
	}
}

func TestNew_LoadsEmbeddedLayout(t *testing.T) {
	ad, err := New(testConfig(), newCapturePublisher())
	require.NoError(t, err)

	assert.Equal(t, "homeassistant", ad.prefix)
	assert.Equal(t, "home/shutters", ad.baseTopic)
	assert.Len(t, ad.layout.Entities, 3)

	cover, ok := ad.layout.Entities["cover"]
	require.True(t, ok)
	assert.Equal(t, "cover", cover.Platform)
	assert.Equal(t, "shutter", cover.DeviceClass)
	assert.NotEmpty(t, cover.PositionTemplate)

	position, ok := ad.layout.Entities["position"]
	require.True(t, ok)
	assert.Equal(t, "sensor", position.Platform)
	assert.Equal(t, "%", position.UnitOfMeasurement)

	opening, ok := ad.layout.Entities["opening"]
	require.True(t, ok)
	assert.Equal(t, "binary_sensor", opening.Platform)
	assert.Equal(t, "opening", opening.DeviceClass)
}

func TestAnnounce_PublishesPerEntity(t *testing.T) {
	publisher := newCapturePublisher()
	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	err = ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01")})
	require.NoError(t, err)

	assert.Len(t, publisher.messages, 3)
	assert.Contains(t, publisher.messages, "homeassistant/cover/mediola_01_cover/config")
	assert.Contains(t, publisher.messages, "homeassistant/sensor/mediola_01_position/config")
	assert.Contains(t, publisher.messages, "homeassistant/binary_sensor/mediola_01_opening/config")
}

func TestAnnounce_CoverMessage(t *testing.T) {
	publisher := newCapturePublisher()
	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	require.NoError(t, ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01")}))

	raw, ok := publisher.messages["homeassistant/cover/mediola_01_cover/config"]
	require.True(t, ok)
	message, ok := raw.(DiscoveryMessage)
	require.True(t, ok)

	assert.Equal(t, "Shutter", message.Name)
	assert.Equal(t, "mediola_01_cover", message.UniqueID)
	assert.Equal(t, "home/shutters/01/state", message.StateTopic)
	assert.Equal(t, "home/shutters/01/state", message.PositionTopic)
	assert.Equal(t, "{{ value_json.position }}", message.PositionTemplate)
	assert.Equal(t, "shutter", message.DeviceClass)
	assert.Equal(t, []string{"mediola_01"}, message.Device.Identifiers)
	assert.Equal(t, "Shutter 01", message.Device.Name)
	assert.Equal(t, "WIR", message.Device.Manufacturer)
}

func TestAnnounce_SensorHasNoPositionTopic(t *testing.T) {
	publisher := newCapturePublisher()
	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	require.NoError(t, ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01")}))

	raw := publisher.messages["homeassistant/sensor/mediola_01_position/config"]
	message, ok := raw.(DiscoveryMessage)
	require.True(t, ok)

	assert.Empty(t, message.PositionTopic)
	assert.Equal(t, "{{ value_json.position }}", message.ValueTemplate)
	assert.Equal(t, "mdi:window-shutter", message.Icon)
}

func TestAnnounce_SkipsAlreadyAnnounced(t *testing.T) {
	publisher := newCapturePublisher()
	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	devices := []domain.ShutterDevice{testDevice("01")}
	require.NoError(t, ad.Announce(context.Background(), devices))
	assert.Len(t, publisher.messages, 3)

	// A second announcement with the same device adds nothing.
	publisher.messages = make(map[string]interface{})
	require.NoError(t, ad.Announce(context.Background(), devices))
	assert.Empty(t, publisher.messages)
}

func TestAnnounce_NewDevicesOnly(t *testing.T) {
	publisher := newCapturePublisher()
	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	require.NoError(t, ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01")}))

	publisher.messages = make(map[string]interface{})
	require.NoError(t, ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01"), testDevice("02")}))

	assert.Len(t, publisher.messages, 3)
	assert.Contains(t, publisher.messages, "homeassistant/cover/mediola_02_cover/config")
}

func TestAnnounce_PublishError(t *testing.T) {
	publisher := newCapturePublisher()
	publisher.err = assert.AnError

	ad, err := New(testConfig(), publisher)
	require.NoError(t, err)

	err = ad.Announce(context.Background(), []domain.ShutterDevice{testDevice("01")})
	assert.Error(t, err)

	// A failed announcement is retried on the next call.
	assert.False(t, ad.announced["01"])
}
