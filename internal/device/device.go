// Package device implements the per-peripheral state machine: the
// initialization handshake, channel-inhibit bookkeeping, and thin
// wrappers over internal/ssp's codec operations for one addressed SSP6
// peripheral (a coin hopper or a note validator).
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/metacash/ssp6d/internal/ssp"
)

// hostProtocolVersion is the SSP6 host protocol version this daemon
// announces (§4.3).
const hostProtocolVersion = 0x06

// currencyCode is the only currency this release transacts, though the
// codec transports whatever 3-ASCII code the hardware reports (§3).
const currencyCode = "EUR"

// Device owns one addressed peripheral's session state: its cached
// setup report, current inhibit mask, and lifecycle state. All
// exported methods serialize on the shared Transport internally (via
// ssp.Transport's own mutex); Device adds its own mutex only for the
// state this package owns (inhibits, setupReport, state, stats).
type Device struct {
	Address byte
	Role    Role
	Name    string

	transport *ssp.Transport
	codec     *ssp.Codec
	log       *slog.Logger

	mu                  sync.Mutex
	state               State
	setupReport         *ssp.SetupReport
	inhibits            byte
	consecutiveFailures int
	stats               Stats
}

// New constructs a Device bound to transport, not yet initialized.
func New(addr byte, role Role, name string, transport *ssp.Transport, log *slog.Logger) *Device {
	return &Device{
		Address:   addr,
		Role:      role,
		Name:      name,
		transport: transport,
		codec:     ssp.NewCodec(),
		log:       log.With("device", name, "address", fmt.Sprintf("0x%02X", addr)),
		state:     StateUninitialized,
	}
}

// State returns the device's current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of the device's exchange counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// SetupReport returns the cached setup report, or nil if Init has not
// completed.
func (d *Device) SetupReport() *ssp.SetupReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setupReport
}

// Inhibits returns the current persisted inhibit mask.
func (d *Device) Inhibits() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inhibits
}

// Init runs the full SSP6 handshake (§4.3): sync, setup_encryption,
// host_protocol, setup_request, role-specific post-init, enable. Any
// step's failure aborts init, leaving the device Uninitialized.
func (d *Device) Init() error {
	d.mu.Lock()
	d.state = StateInitializing
	d.mu.Unlock()

	if err := d.record(d.codec.Sync(d.transport, d.Address)); err != nil {
		return d.failInit(err)
	}
	if _, err := d.negotiateEncryption(); err != nil {
		return d.failInit(err)
	}
	if err := d.record(d.codec.HostProtocol(d.transport, d.Address, true, hostProtocolVersion)); err != nil {
		return d.failInit(err)
	}

	report, err := d.codec.SetupRequest(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return d.failInit(recErr)
	}

	d.mu.Lock()
	d.setupReport = report
	d.inhibits = 0x00
	d.mu.Unlock()

	if err := d.postInit(report); err != nil {
		return d.failInit(err)
	}

	if err := d.record(d.codec.Enable(d.transport, d.Address)); err != nil {
		return d.failInit(err)
	}

	d.mu.Lock()
	d.state = StateReady
	d.mu.Unlock()
	d.log.Info("device initialized", "channels", len(report.Channels))
	return nil
}

// postInit dispatches to the role-specific initialization tail of
// §4.3: hopper devices arm their coinmech inhibits from the report;
// validators configure routing and payout.
func (d *Device) postInit(report *ssp.SetupReport) error {
	switch d.Role {
	case RoleHopper:
		return d.hopperPostInit(report)
	case RoleValidator:
		return d.validatorPostInit(report)
	default:
		return fmt.Errorf("device %s: unknown role %v", d.Name, d.Role)
	}
}

func (d *Device) failInit(err error) error {
	d.mu.Lock()
	d.state = StateUninitialized
	d.mu.Unlock()
	d.log.Error("device init failed", "error", err)
	return fmt.Errorf("device %s: init: %w", d.Name, err)
}

// negotiateEncryption runs the setup_encryption key-agreement
// sub-protocol and installs the resulting session key.
func (d *Device) negotiateEncryption() (ssp.Key, error) {
	key, err := ssp.Negotiate(d.transport, d.codec, d.Address)
	if err != nil {
		return 0, fmt.Errorf("setup_encryption: %w", err)
	}
	return key, nil
}

// Poll issues poll and handles the two recoverable outcomes in place
// (§4.3): Timeout returns an empty batch without affecting the
// degraded-failure counter; KeyNotSet triggers a fresh negotiation and
// also returns an empty batch for this tick. On a RESET event in the
// returned batch, host_protocol is re-asserted per §4.2; if that
// re-assertion itself fails, Poll returns a non-nil error — this is
// the one unrecoverable case (§7 Fatal, §6 exit code 3) the caller
// must escalate.
func (d *Device) Poll() ([]ssp.PollEvent, error) {
	events, err := d.codec.Poll(d.transport, d.Address)
	if err != nil {
		switch e := err.(type) {
		case *ssp.TransportError:
			d.log.Warn("poll transport error", "kind", e.Kind, "error", e.Err)
			return nil, nil
		case *ssp.EncryptionError:
			d.log.Warn("poll: key not set, renegotiating")
			if _, negErr := d.negotiateEncryption(); negErr != nil {
				d.log.Error("poll: re-negotiation failed", "error", negErr)
			}
			return nil, nil
		default:
			d.log.Error("poll: protocol error", "error", err)
			return nil, nil
		}
	}

	for _, ev := range events {
		if ev.Code == ssp.EventReset {
			d.log.Warn("device reset observed, re-asserting host_protocol")
			if err := d.record(d.codec.HostProtocol(d.transport, d.Address, true, hostProtocolVersion)); err != nil {
				d.log.Error("post-reset host_protocol failed", "error", err)
				return events, fmt.Errorf("device %s: post-reset host_protocol: %w", d.Name, err)
			}
			break
		}
	}
	return events, nil
}

// Enable issues the unit-level enable command.
func (d *Device) Enable() error {
	return d.record(d.codec.Enable(d.transport, d.Address))
}

// Disable issues the unit-level disable command.
func (d *Device) Disable() error {
	return d.record(d.codec.Disable(d.transport, d.Address))
}

// EnableChannels ORs mask into the persisted inhibit mask and pushes the
// resulting mask as set_inhibits(newMask, 0xFF) (§4.3, §9 Open Question
// resolution: high is always 0xFF).
func (d *Device) EnableChannels(mask byte) error {
	d.mu.Lock()
	newMask := d.inhibits | mask
	d.mu.Unlock()

	if err := d.record(d.codec.SetInhibits(d.transport, d.Address, newMask, 0xFF)); err != nil {
		return err
	}
	d.mu.Lock()
	d.inhibits = newMask
	d.mu.Unlock()
	return nil
}

// DisableChannels AND-NOTs mask out of the persisted inhibit mask and
// pushes the resulting mask as set_inhibits(newMask, 0xFF).
func (d *Device) DisableChannels(mask byte) error {
	d.mu.Lock()
	newMask := d.inhibits &^ mask
	d.mu.Unlock()

	if err := d.record(d.codec.SetInhibits(d.transport, d.Address, newMask, 0xFF)); err != nil {
		return err
	}
	d.mu.Lock()
	d.inhibits = newMask
	d.mu.Unlock()
	return nil
}

// InhibitChannels transmits (low=^mask, high=0xFF) without persisting
// any change to the cached mask (§4.3).
func (d *Device) InhibitChannels(mask byte) error {
	return d.record(d.codec.SetInhibits(d.transport, d.Address, ^mask, 0xFF))
}

// Payout issues payout for amount in cc, per opt (test or do).
func (d *Device) Payout(amount uint32, cc string, opt ssp.PayoutOption) error {
	return d.record(d.codec.Payout(d.transport, d.Address, amount, cc, opt))
}

// Float issues float, keeping keepAmount in the store.
func (d *Device) Float(keepAmount uint32, cc string, opt ssp.PayoutOption) error {
	return d.record(d.codec.Float(d.transport, d.Address, keepAmount, cc, opt))
}

// Empty issues an unaccounted empty.
func (d *Device) Empty() error {
	return d.record(d.codec.Empty(d.transport, d.Address))
}

// SmartEmpty issues an accounted empty.
func (d *Device) SmartEmpty() error {
	return d.record(d.codec.SmartEmpty(d.transport, d.Address))
}

// SetDenominationLevel issues one set_denomination_level call. The
// add-then-set compensating sequence for level > 0 (§4.6) is a
// command-level concern, implemented by the router, not here.
func (d *Device) SetDenominationLevel(level uint16, amount uint32, cc string) error {
	return d.record(d.codec.SetDenominationLevel(d.transport, d.Address, level, amount, cc))
}

// GetAllLevels returns the structured per-denomination counts.
func (d *Device) GetAllLevels() ([]ssp.Level, error) {
	levels, err := d.codec.GetAllLevels(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return nil, recErr
	}
	return levels, nil
}

// LastRejectNote returns the decoded last-reject reason byte.
func (d *Device) LastRejectNote() (byte, error) {
	reason, err := d.codec.LastRejectNote(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return 0, recErr
	}
	return reason, nil
}

// GetFirmwareVersion returns the device's reported firmware string.
func (d *Device) GetFirmwareVersion() (string, error) {
	v, err := d.codec.GetFirmwareVersion(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return "", recErr
	}
	return v, nil
}

// GetDatasetVersion returns the device's reported dataset string.
func (d *Device) GetDatasetVersion() (string, error) {
	v, err := d.codec.GetDatasetVersion(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return "", recErr
	}
	return v, nil
}

// ChannelSecurityData returns each channel's hardware security
// classification.
func (d *Device) ChannelSecurityData() ([]ssp.ChannelSecurity, error) {
	data, err := d.codec.ChannelSecurityData(d.transport, d.Address)
	if recErr := d.record(err); recErr != nil {
		return nil, recErr
	}
	return data, nil
}

// RunCalibration issues run_calibration. Implements the events package's
// Recalibrator interface.
func (d *Device) RunCalibration() error {
	return d.record(d.codec.RunCalibration(d.transport, d.Address))
}

// record updates exchange counters and the degraded-failure streak for
// a non-poll operation's result (SPEC_FULL §4.3), returning err
// unchanged so callers can chain it.
func (d *Device) record(err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.ExchangeCount++

	switch e := err.(type) {
	case nil:
		d.consecutiveFailures = 0
	case *ssp.TransportError:
		if e.Kind == ssp.KindTimeout {
			d.stats.TimeoutCount++
		} else if e.Kind == ssp.KindCrcFail {
			d.stats.CrcFailCount++
		}
		d.consecutiveFailures++
		if d.consecutiveFailures >= degradedThreshold && d.state == StateReady {
			d.state = StateDegraded
			d.log.Warn("device degraded after repeated transport failures")
		}
	case *ssp.EncryptionError:
		d.stats.KeyNotSetCount++
		d.consecutiveFailures = 0
	default:
		d.consecutiveFailures = 0
	}
	return err
}

// Recover exits Degraded via a successful sync + re-encryption (§4.3).
func (d *Device) Recover() error {
	if err := d.record(d.codec.Sync(d.transport, d.Address)); err != nil {
		return err
	}
	if _, err := d.negotiateEncryption(); err != nil {
		return err
	}
	d.mu.Lock()
	d.state = StateReady
	d.consecutiveFailures = 0
	d.mu.Unlock()
	d.log.Info("device recovered from degraded state")
	return nil
}
