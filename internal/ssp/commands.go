package ssp

// Command bytes for the SSP6 operations this engine uses (§4.2). Values
// without a standard command byte (setup_encryption, set_route,
// enable_payout, set_coinmech_inhibits) are vendor-defined extensions to
// the base protocol.
const (
	cmdSync              = 0x11
	cmdHostProtocol      = 0x06
	cmdSetupRequest      = 0x05
	cmdEnable            = 0x0A
	cmdDisable           = 0x09
	cmdSetInhibits       = 0x02
	cmdSetRoute          = 0x1B
	cmdEnablePayout      = 0x5C
	cmdPayout            = 0x33
	cmdFloat             = 0x3D
	cmdSetDenomLevel     = 0x34
	cmdGetAllLevels      = 0x22
	cmdGetFirmwareVer    = 0x20
	cmdGetDatasetVer     = 0x21
	cmdLastRejectNote    = 0x17
	cmdPoll              = 0x07
	cmdSetCoinInhibits   = 0x40
	cmdSetRefillMode     = 0x30
	cmdRunCalibration    = 0x51
	cmdEmpty             = 0x3F
	cmdSmartEmpty        = 0x52
	cmdChannelSecurity   = 0x19
	cmdSetupEncryption   = 0x4A
)

// Route is the cashbox/storage routing choice for set_route (§4.2).
type Route byte

const (
	RouteStorage Route = 0x00
	RouteCashbox Route = 0x01
)

// PayoutOption distinguishes a dry-run from an actual payout/float (§4.2).
type PayoutOption byte

const (
	OptionTest PayoutOption = 0x19
	OptionDo   PayoutOption = 0x58
)

// PayoutFailReason is the data[0] byte a failed payout/float response
// carries (§4.2).
type PayoutFailReason byte

const (
	ReasonNotEnoughValue    PayoutFailReason = 0x01
	ReasonCannotPayExact    PayoutFailReason = 0x02
	ReasonSmartPayoutBusy   PayoutFailReason = 0x03
	ReasonDeviceDisabled    PayoutFailReason = 0x04
)

func (r PayoutFailReason) String() string {
	switch r {
	case ReasonNotEnoughValue:
		return "not enough value in smart payout"
	case ReasonCannotPayExact:
		return "cannot pay exact amount"
	case ReasonSmartPayoutBusy:
		return "smart payout busy"
	case ReasonDeviceDisabled:
		return "smart payout disabled"
	default:
		return "unknown payout failure"
	}
}

// ChannelEntry is one note channel's denomination, decoded from a
// setup_request response (§3, ChannelData).
type ChannelEntry struct {
	Value    uint32
	Currency string
}

// SetupReport is the cached result of setup_request (§3).
type SetupReport struct {
	UnitType        byte
	ProtocolVersion byte
	Channels        []ChannelEntry
}

// Level is one denomination's stored count, from get_all_levels (§4.2).
type Level struct {
	Level    uint16
	Value    uint32
	Currency string
}

// ChannelSecurity is one channel's hardware-reported security
// classification, from channel-security-data (SPEC_FULL §4.2).
type ChannelSecurity struct {
	Channel  byte
	Security byte
}

const (
	SecurityNotImplemented byte = 0x00
	SecuritySafe           byte = 0x01
	SecurityNotSafe        byte = 0x02
)
