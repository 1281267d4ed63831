// Package poller provides the polling coordinator that keeps the shutter
// registry in sync with the Mediola gateway.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/resident-x/go-mediola/internal/config"
	"github.com/resident-x/go-mediola/internal/domain"
	"github.com/resident-x/go-mediola/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Interval bounds for the poll timer.
const (
	MinInterval = config.MinPollIntervalSeconds * time.Second
	MaxInterval = config.MaxPollIntervalSeconds * time.Second
)

// ErrIntervalOutOfRange is returned by SetInterval for intervals outside
// the supported bounds.
var ErrIntervalOutOfRange = errors.New("poll interval out of range")

// Coordinator owns the fetch/command/optimistic-update sequence for one
// gateway. All polling runs on a single goroutine, so a forced refresh can
// never interleave with a scheduled tick.
type Coordinator struct {
	source    domain.StateSource
	sink      domain.CommandSink
	registry  *domain.ShutterRegistry
	codec     *protocol.Codec
	publisher domain.MessagePublisher
	announcer domain.DeviceAnnouncer
	topic     string
	logger    zerolog.Logger

	interval     time.Duration
	intervalChan chan time.Duration
	refreshChan  chan struct{}
	stopChan     chan struct{}
	wg           sync.WaitGroup
	isRunning    bool
	discovered   bool
	mutex        sync.RWMutex

	// Metrics
	pollsSucceeded int64
	pollsFailed    int64
	commandsSent   int64
	commandsFailed int64
	lastPollTime   time.Time
	lastPollError  error
}

// NewCoordinator creates a polling coordinator for one configured gateway.
func NewCoordinator(
	cfg *config.Config,
	source domain.StateSource,
	sink domain.CommandSink,
	registry *domain.ShutterRegistry,
	codec *protocol.Codec,
	publisher domain.MessagePublisher,
	announcer domain.DeviceAnnouncer,
) *Coordinator {
	return &Coordinator{
		source:       source,
		sink:         sink,
		registry:     registry,
		codec:        codec,
		publisher:    publisher,
		announcer:    announcer,
		topic:        cfg.MQTT.Topic,
		logger:       log.With().Str("component", "poller").Logger(),
		interval:     time.Duration(cfg.Gateway.PollIntervalSeconds) * time.Second,
		intervalChan: make(chan time.Duration, 1),
		refreshChan:  make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
}

// Start begins the poll loop. The first poll runs immediately so consumers
// see the device set without waiting a full interval.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.isRunning {
		return fmt.Errorf("coordinator is already running")
	}

	c.isRunning = true
	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info().
		Dur("interval", c.interval).
		Msg("Polling coordinator started")

	return nil
}

// Stop shuts down the poll loop, letting an in-flight request finish or
// time out.
func (c *Coordinator) Stop() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isRunning {
		return fmt.Errorf("coordinator is not running")
	}

	close(c.stopChan)
	c.wg.Wait()
	c.isRunning = false

	c.logger.Info().Msg("Polling coordinator stopped")
	return nil
}

// ForceRefresh schedules an immediate poll. Requests arriving while a poll
// is in progress are coalesced into a single follow-up poll.
func (c *Coordinator) ForceRefresh() {
	select {
	case c.refreshChan <- struct{}{}:
	default:
	}
}

// SetInterval changes the poll interval at runtime, re-arming the timer
// without losing in-flight poll results.
func (c *Coordinator) SetInterval(interval time.Duration) error {
	if interval < MinInterval || interval > MaxInterval {
		return fmt.Errorf("%w: %s not in [%s,%s]", ErrIntervalOutOfRange, interval, MinInterval, MaxInterval)
	}

	c.mutex.Lock()
	c.interval = interval
	c.mutex.Unlock()

	// Replace any pending value so the loop always sees the latest.
	for {
		select {
		case c.intervalChan <- interval:
			return nil
		default:
			select {
			case <-c.intervalChan:
			default:
			}
		}
	}
}

// Interval returns the current poll interval.
func (c *Coordinator) Interval() time.Duration {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.interval
}

// Dispatch encodes and sends one command, applies the optimistic update
// and schedules an immediate refresh. A failed send leaves the registry
// untouched.
func (c *Coordinator) Dispatch(ctx context.Context, deviceID string, action domain.Action, position int) error {
	device, found := c.registry.Get(deviceID)
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, deviceID)
	}

	payload, err := c.codec.EncodeCommand(device, action, protocol.HostToGateway(position))
	if err != nil {
		return err
	}

	if err := c.sink.SendCommand(ctx, device.DeviceType, payload); err != nil {
		atomic.AddInt64(&c.commandsFailed, 1)
		c.logger.Warn().
			Str("device", deviceID).
			Str("action", string(action)).
			Err(err).
			Msg("Command dispatch failed")
		return err
	}

	if err := c.registry.ApplyOptimisticCommand(deviceID, action, position); err != nil {
		return err
	}

	atomic.AddInt64(&c.commandsSent, 1)
	c.logger.Debug().
		Str("device", deviceID).
		Str("action", string(action)).
		Str("data", payload).
		Msg("Command dispatched")

	c.ForceRefresh()
	return nil
}

// DispatchAll sends the same action to every known device. Set-position is
// not a group action. Failures are collected; successful devices still get
// their optimistic update and a shared refresh.
func (c *Coordinator) DispatchAll(ctx context.Context, action domain.Action) error {
	if action == domain.ActionSetPosition {
		return fmt.Errorf("%w: set_position is not a group action", protocol.ErrInvalidCommand)
	}

	var errs []error
	for _, device := range c.registry.All() {
		if err := c.Dispatch(ctx, device.ID, action, 0); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", device.ID, err))
		}
	}

	return errors.Join(errs...)
}

// Metrics returns current coordinator metrics.
func (c *Coordinator) Metrics() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	lastError := ""
	if c.lastPollError != nil {
		lastError = c.lastPollError.Error()
	}

	return map[string]interface{}{
		"is_running":      c.isRunning,
		"interval":        c.interval.String(),
		"polls_succeeded": atomic.LoadInt64(&c.pollsSucceeded),
		"polls_failed":    atomic.LoadInt64(&c.pollsFailed),
		"commands_sent":   atomic.LoadInt64(&c.commandsSent),
		"commands_failed": atomic.LoadInt64(&c.commandsFailed),
		"device_count":    c.registry.Count(),
		"last_poll":       c.lastPollTime,
		"last_poll_error": lastError,
	}
}

// run is the poll loop. It is the only goroutine that fetches states, so
// scheduled ticks and forced refreshes are naturally serialized.
func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.poll(ctx)
		case <-c.refreshChan:
			c.poll(ctx)
			ticker.Reset(c.Interval())
		case interval := <-c.intervalChan:
			ticker.Reset(interval)
			c.logger.Info().Dur("interval", interval).Msg("Poll interval changed")
		}
	}
}

// poll performs one fetch/store cycle. A failed fetch leaves the registry
// untouched; the next tick tries again.
func (c *Coordinator) poll(ctx context.Context) {
	entries, err := c.source.FetchStates(ctx)

	c.mutex.Lock()
	c.lastPollTime = time.Now()
	c.lastPollError = err
	c.mutex.Unlock()

	if err != nil {
		atomic.AddInt64(&c.pollsFailed, 1)
		c.logger.Warn().Err(err).Msg("Poll failed, keeping last-known state")
		return
	}

	if !c.discovered {
		added := c.registry.Discover(entries)
		c.discovered = true
		c.logger.Info().Int("devices", added).Msg("Initial device discovery complete")

		if c.announcer != nil {
			if err := c.announcer.Announce(ctx, c.registry.All()); err != nil {
				c.logger.Warn().Err(err).Msg("Device announcement failed")
			}
		}
	} else {
		c.registry.ApplyPoll(entries)
	}

	atomic.AddInt64(&c.pollsSucceeded, 1)
	c.publishSnapshots(ctx)
}

// publishSnapshots pushes the current device snapshots to the publisher.
// Publish failures are logged, never fatal to the poll cycle.
func (c *Coordinator) publishSnapshots(ctx context.Context) {
	for _, device := range c.registry.All() {
		topic := fmt.Sprintf("%s/%s/state", c.topic, device.ID)
		if err := c.publisher.Publish(ctx, topic, device); err != nil {
			c.logger.Warn().
				Str("device", device.ID).
				Err(err).
				Msg("Failed to publish device state")
		}
	}
}
