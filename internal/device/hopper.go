package device

import "github.com/metacash/ssp6d/internal/ssp"

// hopperPostInit arms set_coinmech_inhibits for every channel the
// coin hopper reported during setup_request (§4.3).
func (d *Device) hopperPostInit(report *ssp.SetupReport) error {
	for _, ch := range report.Channels {
		cc := ch.Currency
		if cc == "" {
			cc = currencyCode
		}
		if err := d.record(d.codec.SetCoinMechInhibits(d.transport, d.Address, uint16(ch.Value), cc, true)); err != nil {
			return err
		}
	}
	return nil
}
