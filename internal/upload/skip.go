package upload

import (
	"context"
	"log"

	"mpy-sync/internal/remotefs"
)

// Checker decides whether a candidate already matches the device.
type Checker struct {
	FS *remotefs.FS
	// Index may be nil.
	Index *HashIndex
	// SizeOnly compares sizes and never checksums.
	SizeOnly bool
	// TrustIndex lets a recorded checksum stand in for a device read.
	TrustIndex bool
}

// Decide reports whether cand can be skipped, given its local content. A
// transfer is required unless a remote file of the same size and checksum
// sits at the candidate's path.
func (c *Checker) Decide(ctx context.Context, cand Candidate, local []byte) (bool, string, error) {
	remotePath := "/" + cand.RemotePath
	n := c.FS.Find(remotePath)
	switch {
	case n == nil:
		return false, "missing on device", nil
	case n.IsDir():
		return false, "directory on device", nil
	case n.Len() != int64(len(local)):
		return false, "size differs", nil
	case c.SizeOnly:
		return true, "same size", nil
	}

	want := Checksum(local)
	remote, err := c.remoteChecksum(ctx, n, remotePath)
	if err != nil {
		return false, "", err
	}
	if remote != want {
		return false, "checksum differs", nil
	}
	return true, "unchanged", nil
}

func (c *Checker) remoteChecksum(ctx context.Context, n *remotefs.Node, remotePath string) (string, error) {
	if !n.Loaded() && c.TrustIndex && c.Index != nil {
		if h, ok := c.Index.Lookup(remotePath, n.Len()); ok {
			return h, nil
		}
	}
	data, err := c.FS.ReadFile(ctx, remotePath, false)
	if err != nil {
		return "", err
	}
	h := Checksum(data)
	if c.Index != nil {
		if err := c.Index.Record(remotePath, int64(len(data)), h); err != nil {
			log.Printf("[upload] failed to index %s: %v", remotePath, err)
		}
	}
	return h, nil
}
