// Package fees computes the relay incentive split. Pure arithmetic over
// int64 minor units; identity policy (folding the broadcaster fee when the
// relayer was also the broadcaster) belongs to the caller.
package fees

import (
	"fmt"
	"math/big"
)

const BpsDenominator = int64(10_000)

// Table fixes the incentive split in basis points of the gross amount.
type Table struct {
	BroadcasterBps int64
	RelayerBps     int64
	ProtocolBps    int64
}

// DefaultTable is the deployed 1% split: 0.5% broadcaster, 0.1% relayer,
// 0.4% protocol.
func DefaultTable() Table {
	return Table{BroadcasterBps: 50, RelayerBps: 10, ProtocolBps: 40}
}

func (t Table) TotalBps() int64 {
	return t.BroadcasterBps + t.RelayerBps + t.ProtocolBps
}

func (t Table) Validate() error {
	if t.BroadcasterBps < 0 || t.RelayerBps < 0 || t.ProtocolBps < 0 {
		return fmt.Errorf("negative basis points")
	}
	if t.TotalBps() >= BpsDenominator {
		return fmt.Errorf("total fee %d bps must stay below %d", t.TotalBps(), BpsDenominator)
	}
	return nil
}

type Breakdown struct {
	Gross          int64
	BroadcasterFee int64
	RelayerFee     int64
	ProtocolFee    int64
	Net            int64
}

// Split derives each fee as gross*bps/10000 with truncating integer
// division, the same arithmetic the settlement contract applies on-ledger.
func Split(gross int64, t Table) Breakdown {
	if gross <= 0 {
		return Breakdown{Gross: gross, Net: gross}
	}
	b := mulBps(gross, t.BroadcasterBps)
	r := mulBps(gross, t.RelayerBps)
	p := mulBps(gross, t.ProtocolBps)
	return Breakdown{
		Gross:          gross,
		BroadcasterFee: b,
		RelayerFee:     r,
		ProtocolFee:    p,
		Net:            gross - b - r - p,
	}
}

// GrossFor returns the smallest gross amount whose Split nets at least net.
func GrossFor(net int64, t Table) int64 {
	if net <= 0 {
		return net
	}
	keep := BpsDenominator - t.TotalBps()
	g := new(big.Int).Mul(big.NewInt(net), big.NewInt(BpsDenominator))
	g.Div(g, big.NewInt(keep))
	gross := g.Int64()
	for Split(gross, t).Net < net {
		gross++
	}
	for gross > 0 && Split(gross-1, t).Net >= net {
		gross--
	}
	return gross
}

func mulBps(amount, bps int64) int64 {
	v := new(big.Int).Mul(big.NewInt(amount), big.NewInt(bps))
	v.Div(v, big.NewInt(BpsDenominator))
	return v.Int64()
}
