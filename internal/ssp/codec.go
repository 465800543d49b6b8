package ssp

import "fmt"

// Codec is the stateless SSP6 command/response codec (§4.2). Each method
// encodes one operation's request, exchanges it over t for addr, and
// decodes the typed result — the same one-function-per-command shape as
// the asdu codec this engine is modeled on, but for SSP6's command set
// instead of IEC 60870-5's.
type Codec struct{}

// NewCodec returns a ready-to-use Codec. Codec carries no state; the
// constructor exists so callers have a consistent handle to pass around.
func NewCodec() *Codec { return &Codec{} }

// exchangeRaw sends cmd and its encoded request over t for addr and
// returns the raw decoded response, without interpreting its status.
func (c *Codec) exchangeRaw(t *Transport, addr byte, encrypted bool, cmd byte, body []byte) (Response, error) {
	req := (&builder{}).byte(cmd).bytesSlice(body).b
	return t.Exchange(addr, req, encrypted)
}

// statusOnly performs an exchange whose only interesting result is the
// status byte (sync, enable, disable, set_inhibits, and friends).
func (c *Codec) statusOnly(t *Transport, addr byte, encrypted bool, cmd byte, body []byte) error {
	resp, err := c.exchangeRaw(t, addr, encrypted, cmd, body)
	if err != nil {
		return err
	}
	return statusErr(resp)
}

func statusErr(resp Response) error {
	switch resp.Status {
	case StatusOK:
		return nil
	case StatusKeyNotSet:
		return &EncryptionError{}
	default:
		return &ProtocolFailError{Status: byte(resp.Status), Data: resp.Data}
	}
}

// Sync issues the sync command (0x11).
func (c *Codec) Sync(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, false, cmdSync, nil)
}

// HostProtocol announces the host protocol version (0x06).
func (c *Codec) HostProtocol(t *Transport, addr byte, encrypted bool, version byte) error {
	return c.statusOnly(t, addr, encrypted, cmdHostProtocol, []byte{version})
}

// SetupRequest issues setup_request (0x05) and decodes the channel
// report.
func (c *Codec) SetupRequest(t *Transport, addr byte) (*SetupReport, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdSetupRequest, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}

	cur := cursor{b: resp.Data}
	report := &SetupReport{UnitType: cur.byte()}
	n := int(cur.byte())
	values := make([]uint32, n)
	for i := 0; i < n; i++ {
		values[i] = uint32(cur.u16())
	}
	channels := make([]ChannelEntry, n)
	for i := 0; i < n; i++ {
		channels[i] = ChannelEntry{Value: values[i], Currency: cur.ascii(3)}
	}
	report.Channels = channels
	if cur.remaining() > 0 {
		report.ProtocolVersion = cur.byte()
	}
	return report, nil
}

// Enable issues enable (0x0A).
func (c *Codec) Enable(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdEnable, nil)
}

// Disable issues disable (0x09).
func (c *Codec) Disable(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdDisable, nil)
}

// SetInhibits issues set_inhibits (0x02) with the given low/high masks.
func (c *Codec) SetInhibits(t *Transport, addr byte, low, high byte) error {
	return c.statusOnly(t, addr, true, cmdSetInhibits, []byte{low, high})
}

// SetRoute issues set_route for amount/cc to the given Route.
func (c *Codec) SetRoute(t *Transport, addr byte, amount uint32, cc string, route Route) error {
	body := (&builder{}).u32(amount).ascii(cc, 3).byte(byte(route)).b
	return c.statusOnly(t, addr, true, cmdSetRoute, body)
}

// EnablePayout issues enable_payout for the given unit type.
func (c *Codec) EnablePayout(t *Transport, addr byte, unitType byte) error {
	return c.statusOnly(t, addr, true, cmdEnablePayout, []byte{unitType})
}

// Payout issues payout (0x33). On failure the returned error is a
// *ProtocolFailError whose Data[0] is the PayoutFailReason.
func (c *Codec) Payout(t *Transport, addr byte, amount uint32, cc string, opt PayoutOption) error {
	body := (&builder{}).u32(amount).ascii(cc, 3).byte(byte(opt)).b
	return c.statusOnly(t, addr, true, cmdPayout, body)
}

// Float issues float (0x3D).
func (c *Codec) Float(t *Transport, addr byte, keepAmount uint32, cc string, opt PayoutOption) error {
	body := (&builder{}).u16(100).u32(keepAmount).ascii(cc, 3).byte(byte(opt)).b
	return c.statusOnly(t, addr, true, cmdFloat, body)
}

// SetDenominationLevel issues set_denomination_level (0x34). Per §4.6 the
// device's "set" is implemented as "add" except when level == 0, which
// zeroes; callers that want an absolute level issue a zero call first.
func (c *Codec) SetDenominationLevel(t *Transport, addr byte, level uint16, amount uint32, cc string) error {
	body := (&builder{}).u16(level).u32(amount).ascii(cc, 3).b
	return c.statusOnly(t, addr, true, cmdSetDenomLevel, body)
}

// GetAllLevels issues get_all_levels (0x22).
func (c *Codec) GetAllLevels(t *Transport, addr byte) ([]Level, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdGetAllLevels, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	cur := cursor{b: resp.Data}
	n := int(cur.byte())
	levels := make([]Level, n)
	for i := 0; i < n; i++ {
		levels[i] = Level{Level: cur.u16(), Value: cur.u32(), Currency: cur.ascii(3)}
	}
	return levels, nil
}

// GetFirmwareVersion issues get_firmware_version (0x20).
func (c *Codec) GetFirmwareVersion(t *Transport, addr byte) (string, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdGetFirmwareVer, nil)
	if err != nil {
		return "", err
	}
	if err := statusErr(resp); err != nil {
		return "", err
	}
	cur := cursor{b: resp.Data}
	return cur.ascii(16), nil
}

// GetDatasetVersion issues get_dataset_version (0x21).
func (c *Codec) GetDatasetVersion(t *Transport, addr byte) (string, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdGetDatasetVer, nil)
	if err != nil {
		return "", err
	}
	if err := statusErr(resp); err != nil {
		return "", err
	}
	cur := cursor{b: resp.Data}
	return cur.ascii(8), nil
}

// LastRejectNote issues last_reject_note (0x17).
func (c *Codec) LastRejectNote(t *Transport, addr byte) (byte, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdLastRejectNote, nil)
	if err != nil {
		return 0, err
	}
	if err := statusErr(resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("ssp: last_reject_note: empty response")
	}
	return resp.Data[0], nil
}

// SetCoinMechInhibits issues the vendor set_coinmech_inhibits command.
func (c *Codec) SetCoinMechInhibits(t *Transport, addr byte, value uint16, cc string, enabled bool) error {
	var e byte
	if enabled {
		e = 1
	}
	body := (&builder{}).u16(value).ascii(cc, 3).byte(e).b
	return c.statusOnly(t, addr, true, cmdSetCoinInhibits, body)
}

// setRefillModePayload is the fixed 8-byte literal set_refill_mode
// payload (§4.2).
var setRefillModePayload = []byte{0x05, 0x81, 0x10, 0x11, 0x01, 0x01, 0x52, 0xF5}

// SetRefillMode issues set_refill_mode (0x30) with its fixed payload.
func (c *Codec) SetRefillMode(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdSetRefillMode, setRefillModePayload)
}

// Empty issues empty (0x3F).
func (c *Codec) Empty(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdEmpty, nil)
}

// SmartEmpty issues smart_empty (0x52).
func (c *Codec) SmartEmpty(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdSmartEmpty, nil)
}

// RunCalibration issues the vendor run_calibration command.
func (c *Codec) RunCalibration(t *Transport, addr byte) error {
	return c.statusOnly(t, addr, true, cmdRunCalibration, nil)
}

// ChannelSecurityData issues channel-security-data (0x19, SPEC_FULL §4.2).
func (c *Codec) ChannelSecurityData(t *Transport, addr byte) ([]ChannelSecurity, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdChannelSecurity, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(resp); err != nil {
		return nil, err
	}
	cur := cursor{b: resp.Data}
	n := int(cur.byte())
	out := make([]ChannelSecurity, n)
	for i := 0; i < n; i++ {
		out[i] = ChannelSecurity{Channel: cur.byte(), Security: cur.byte()}
	}
	return out, nil
}

// Poll issues poll (0x07) and decodes the returned batch of events.
func (c *Codec) Poll(t *Transport, addr byte) ([]PollEvent, error) {
	resp, err := c.exchangeRaw(t, addr, true, cmdPoll, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusKeyNotSet {
		return nil, &EncryptionError{}
	}
	if resp.Status != StatusOK {
		return nil, &ProtocolFailError{Status: byte(resp.Status), Data: resp.Data}
	}
	return decodePollEvents(resp.Data)
}
