package rgb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	AnchorsContractIDType tlv.Type = 0
	AnchorsBundlesType    tlv.Type = 2

	// maxBundles and maxAssignments bound the allocations done while
	// decoding a consignment from disk.
	maxBundles     = 1 << 16
	maxAssignments = 1 << 16
)

func contractIDRecord(id *ContractID) tlv.Record {
	return tlv.MakePrimitiveRecord(
		AnchorsContractIDType, (*[ContractIDSize]byte)(id),
	)
}

func bundlesRecord(bundles *[]AnchoredBundle) tlv.Record {
	sizeFunc := func() uint64 {
		var (
			b   bytes.Buffer
			buf [8]byte
		)
		if err := BundlesEncoder(&b, bundles, &buf); err != nil {
			panic(err)
		}

		return uint64(b.Len())
	}

	return tlv.MakeDynamicRecord(
		AnchorsBundlesType, bundles, sizeFunc, BundlesEncoder,
		BundlesDecoder,
	)
}

// BundlesEncoder encodes a list of anchored bundles.
func BundlesEncoder(w io.Writer, val any, buf *[8]byte) error {
	t, ok := val.(*[]AnchoredBundle)
	if !ok {
		return tlv.NewTypeForEncodingErr(val, "[]AnchoredBundle")
	}

	if err := tlv.WriteVarInt(w, uint64(len(*t)), buf); err != nil {
		return err
	}
	for _, bundle := range *t {
		if _, err := w.Write(bundle.Txid[:]); err != nil {
			return err
		}

		numAssignments := uint64(len(bundle.Assignments))
		if err := tlv.WriteVarInt(w, numAssignments, buf); err != nil {
			return err
		}
		for _, a := range bundle.Assignments {
			if err := tlv.EUint32T(w, a.Vout, buf); err != nil {
				return err
			}
			if err := tlv.EUint64T(w, a.Value, buf); err != nil {
				return err
			}
		}
	}

	return nil
}

// BundlesDecoder decodes a list of anchored bundles.
func BundlesDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	t, ok := val.(*[]AnchoredBundle)
	if !ok {
		return tlv.NewTypeForDecodingErr(val, "[]AnchoredBundle", l, l)
	}

	lr := io.LimitReader(r, int64(l))

	numBundles, err := tlv.ReadVarInt(lr, buf)
	if err != nil {
		return err
	}
	if numBundles > maxBundles {
		return fmt.Errorf("too many bundles: %d", numBundles)
	}

	bundles := make([]AnchoredBundle, 0, numBundles)
	for i := uint64(0); i < numBundles; i++ {
		var txid chainhash.Hash
		if _, err := io.ReadFull(lr, txid[:]); err != nil {
			return err
		}

		numAssignments, err := tlv.ReadVarInt(lr, buf)
		if err != nil {
			return err
		}
		if numAssignments > maxAssignments {
			return fmt.Errorf("too many assignments: %d",
				numAssignments)
		}

		bundle := AnchoredBundle{
			Txid:        txid,
			Assignments: make([]Assignment, numAssignments),
		}
		for j := range bundle.Assignments {
			a := &bundle.Assignments[j]
			if err := tlv.DUint32(lr, &a.Vout, buf, 4); err != nil {
				return err
			}
			if err := tlv.DUint64(lr, &a.Value, buf, 8); err != nil {
				return err
			}
		}

		bundles = append(bundles, bundle)
	}

	*t = bundles

	return nil
}

// EncodeAnchors writes the anchor metadata of the consignment, its contract
// ID and anchored bundles, as a TLV stream. The strict encoded blob is not
// part of it.
func (c *Consignment) EncodeAnchors(w io.Writer) error {
	stream, err := tlv.NewStream(
		contractIDRecord(&c.ContractID), bundlesRecord(&c.Bundles),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// DecodeAnchors reads the anchor metadata of a consignment from a TLV
// stream.
func (c *Consignment) DecodeAnchors(r io.Reader) error {
	stream, err := tlv.NewStream(
		contractIDRecord(&c.ContractID), bundlesRecord(&c.Bundles),
	)
	if err != nil {
		return err
	}

	return stream.Decode(r)
}

// AnchorBytes returns the TLV encoding of the consignment's anchor metadata.
func (c *Consignment) AnchorBytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.EncodeAnchors(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeConsignment rebuilds a consignment from its encoded anchor metadata
// and its strict encoded blob.
func DecodeConsignment(anchors, blob []byte) (*Consignment, error) {
	c := Consignment{
		Blob: blob,
	}
	if err := c.DecodeAnchors(bytes.NewReader(anchors)); err != nil {
		return nil, fmt.Errorf("unable to decode consignment "+
			"anchors: %w", err)
	}

	return &c, nil
}
