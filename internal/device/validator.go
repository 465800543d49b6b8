package device

import "github.com/metacash/ssp6d/internal/ssp"

// cashboxDenominations are note values (in cents) routed to the
// cashbox rather than the payout store (§4.3).
var cashboxDenominations = []uint32{500, 1000, 2000}

// storageDenominations are note values (in cents) routed to the
// payout store.
var storageDenominations = []uint32{5000, 10000, 20000, 50000}

// validatorPostInit configures note routing and enables smart payout
// for the note validator, per §4.3: set_refill_mode; set_route for the
// fixed cashbox/storage tables; set_inhibits(0,0); enable_payout.
func (d *Device) validatorPostInit(report *ssp.SetupReport) error {
	if err := d.record(d.codec.SetRefillMode(d.transport, d.Address)); err != nil {
		return err
	}

	for _, amount := range cashboxDenominations {
		if err := d.record(d.codec.SetRoute(d.transport, d.Address, amount, currencyCode, ssp.RouteCashbox)); err != nil {
			return err
		}
	}
	for _, amount := range storageDenominations {
		if err := d.record(d.codec.SetRoute(d.transport, d.Address, amount, currencyCode, ssp.RouteStorage)); err != nil {
			return err
		}
	}

	if err := d.record(d.codec.SetInhibits(d.transport, d.Address, 0x00, 0x00)); err != nil {
		return err
	}

	return d.record(d.codec.EnablePayout(d.transport, d.Address, report.UnitType))
}
