package rgb

import (
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"pgregory.net/rapid"
)

var (
	// HashGen draws a random 32 byte hash.
	HashGen = rapid.Custom(func(t *rapid.T) chainhash.Hash {
		b := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "hash")
		return chainhash.Hash(b)
	})

	// ContractIDGen draws a random contract ID.
	ContractIDGen = rapid.Custom(func(t *rapid.T) ContractID {
		return ContractID(HashGen.Draw(t, "contract_id"))
	})

	// OutPointGen draws a random outpoint.
	OutPointGen = rapid.Custom(func(t *rapid.T) wire.OutPoint {
		return wire.OutPoint{
			Hash:  HashGen.Draw(t, "txid"),
			Index: rapid.Uint32Range(0, 16).Draw(t, "vout"),
		}
	})

	// OwnedValueGen draws an allocation with a value that can be summed
	// many times without overflowing.
	OwnedValueGen = rapid.Custom(func(t *rapid.T) OwnedValue {
		return OwnedValue{
			Seal: OutPointGen.Draw(t, "seal"),
			Value: rapid.Uint64Range(
				1, math.MaxUint32,
			).Draw(t, "value"),
		}
	})

	// AnchoredBundleGen draws an anchored bundle with up to four
	// assignments.
	AnchoredBundleGen = rapid.Custom(func(t *rapid.T) AnchoredBundle {
		assignments := rapid.SliceOfN(
			rapid.Custom(func(t *rapid.T) Assignment {
				return Assignment{
					Vout:  rapid.Uint32().Draw(t, "vout"),
					Value: rapid.Uint64().Draw(t, "value"),
				}
			}), 1, 4,
		).Draw(t, "assignments")

		return AnchoredBundle{
			Txid:        HashGen.Draw(t, "txid"),
			Assignments: assignments,
		}
	})

	// ConsignmentGen draws a consignment with a non-empty blob.
	ConsignmentGen = rapid.Custom(func(t *rapid.T) Consignment {
		return Consignment{
			ContractID: ContractIDGen.Draw(t, "contract_id"),
			Bundles: rapid.SliceOfN(
				AnchoredBundleGen, 1, 4,
			).Draw(t, "bundles"),
			Blob: rapid.SliceOfN(
				rapid.Byte(), 1, 256,
			).Draw(t, "blob"),
		}
	})
)
