package consignment

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/rgbln/rgbsettle/rgb"
)

const (
	// FilePrefix is the prefix of every consignment file name.
	FilePrefix = "consignment_"

	// AnchorsSuffix is appended to a consignment file name to get the
	// file holding its anchor metadata.
	AnchorsSuffix = ".anchors"

	proofFilePerms = 0600
)

var (
	// ErrProofNotFound is returned when a user attempts to look up a
	// consignment based on a Locator, but we can't find it on disk.
	ErrProofNotFound = errors.New("unable to find consignment")

	// ErrInvalidLocator is returned for a locator that doesn't reference
	// exactly one transaction or channel.
	ErrInvalidLocator = errors.New("locator must set exactly one of " +
		"txid or channel id")
)

// Locator identifies a persisted consignment. A consignment is stored under
// the transaction it is anchored in, and a consignment that carries change
// of a channel funding is also stored under the channel ID.
type Locator struct {
	// Txid is the transaction the consignment is anchored in.
	Txid *chainhash.Hash

	// ChannelID is the channel whose funding the consignment belongs to.
	ChannelID *lnwire.ChannelID
}

// TxidLocator returns the locator of the consignment anchored in txid.
func TxidLocator(txid chainhash.Hash) Locator {
	return Locator{Txid: &txid}
}

// ChannelLocator returns the locator of the consignment stored for the
// funding of chanID.
func ChannelLocator(chanID lnwire.ChannelID) Locator {
	return Locator{ChannelID: &chanID}
}

// String returns a human readable form of the locator.
func (l Locator) String() string {
	switch {
	case l.Txid != nil && l.ChannelID == nil:
		return fmt.Sprintf("txid=%v", l.Txid)
	case l.ChannelID != nil && l.Txid == nil:
		return fmt.Sprintf("chan_id=%v", l.ChannelID)
	default:
		return "invalid"
	}
}

// fileName returns the name of the file the consignment is stored in.
func (l Locator) fileName() (string, error) {
	switch {
	case l.Txid != nil && l.ChannelID == nil:
		return FilePrefix + l.Txid.String(), nil

	case l.ChannelID != nil && l.Txid == nil:
		return FilePrefix + hex.EncodeToString(l.ChannelID[:]), nil

	default:
		return "", ErrInvalidLocator
	}
}

// Archiver is the storage backend for consignments. The existence of a
// consignment means its finalization may still be pending. Consignments are
// never removed.
type Archiver interface {
	// FetchConsignment fetches the consignment identified by the locator.
	// If it can't be found, ErrProofNotFound is returned.
	FetchConsignment(ctx context.Context, loc Locator) (*rgb.Consignment,
		error)

	// StoreConsignment stores a consignment under the locator, replacing
	// any previous one.
	StoreConsignment(ctx context.Context, loc Locator,
		c *rgb.Consignment) error

	// HasConsignment returns true if a consignment is stored under the
	// locator.
	HasConsignment(ctx context.Context, loc Locator) (bool, error)

	// FilePath returns the path of the file holding the strict encoded
	// consignment of the locator.
	FilePath(loc Locator) (string, error)
}

// writeFile replaces the file at path through a temporary file.
func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, proofFilePerms); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return nil
}

// FileArchiver implements Archiver backed by flat files in a single
// directory. The consignment file holds the strict encoded blob as returned
// by the asset ledger, the anchors file next to it its contract ID and
// anchored bundles:
//
// <data-dir>/
// ├─ consignment_<txid>
// ├─ consignment_<txid>.anchors
// ├─ consignment_<hex(channel_id)>
// ├─ consignment_<hex(channel_id)>.anchors
type FileArchiver struct {
	dir string
}

// NewFileArchiver creates a new file archiver rooted at dir, creating the
// directory if needed.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create consignment dir: %w",
			err)
	}

	return &FileArchiver{
		dir: dir,
	}, nil
}

// FilePath returns the path of the file holding the strict encoded
// consignment of the locator.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) FilePath(loc Locator) (string, error) {
	name, err := loc.fileName()
	if err != nil {
		return "", err
	}

	return filepath.Join(f.dir, name), nil
}

// FetchConsignment fetches the consignment identified by the locator.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) FetchConsignment(_ context.Context,
	loc Locator) (*rgb.Consignment, error) {

	path, err := f.FilePath(loc)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%w: %v", ErrProofNotFound, loc)
	case err != nil:
		return nil, fmt.Errorf("unable to read consignment %v: %w",
			loc, err)
	}

	anchors, err := os.ReadFile(path + AnchorsSuffix)
	if err != nil {
		return nil, fmt.Errorf("unable to read anchors of consignment "+
			"%v: %w", loc, err)
	}

	return rgb.DecodeConsignment(anchors, blob)
}

// StoreConsignment stores a consignment under the locator.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) StoreConsignment(_ context.Context, loc Locator,
	c *rgb.Consignment) error {

	path, err := f.FilePath(loc)
	if err != nil {
		return err
	}

	anchors, err := c.AnchorBytes()
	if err != nil {
		return fmt.Errorf("unable to encode consignment anchors: %w",
			err)
	}

	// The anchors go first, the consignment file marks a complete store.
	if err := writeFile(path+AnchorsSuffix, anchors); err != nil {
		return fmt.Errorf("unable to store anchors of consignment "+
			"%v: %w", loc, err)
	}
	if err := writeFile(path, c.Blob); err != nil {
		return fmt.Errorf("unable to store consignment %v: %w", loc,
			err)
	}

	log.Debugf("Stored consignment %v at %v", loc, path)

	return nil
}

// HasConsignment returns true if a consignment is stored under the locator.
//
// NOTE: This implements the Archiver interface.
func (f *FileArchiver) HasConsignment(_ context.Context,
	loc Locator) (bool, error) {

	path, err := f.FilePath(loc)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}

// A compile-time interface to ensure FileArchiver meets the Archiver
// interface.
var _ Archiver = (*FileArchiver)(nil)
