package vault

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Persisted records carry an 8-byte discriminator tag ahead of the
// payload. Readers verify and skip it; the hosting store never inspects
// the payload itself.
var (
	vaultTag    = [8]byte{'C', 'L', 'V', 'V', 'A', 'U', 'L', 'T'}
	registryTag = [8]byte{'C', 'L', 'V', 'A', 'U', 'T', 'H', 'R'}
)

// vaultRecordLen is tag + owner + custody account + five counters +
// created-at + version byte.
const vaultRecordLen = 8 + 16 + 16 + 5*8 + 8 + 1

// MarshalVault encodes a vault into its fixed-order byte record.
func MarshalVault(v *Vault) []byte {
	buf := make([]byte, 0, vaultRecordLen)
	buf = append(buf, vaultTag[:]...)
	buf = append(buf, v.Owner[:]...)
	buf = append(buf, v.CustodyAccount[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, v.TotalBalance)
	buf = binary.LittleEndian.AppendUint64(buf, v.LockedBalance)
	buf = binary.LittleEndian.AppendUint64(buf, v.AvailableBalance)
	buf = binary.LittleEndian.AppendUint64(buf, v.TotalDeposited)
	buf = binary.LittleEndian.AppendUint64(buf, v.TotalWithdrawn)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(v.CreatedAt.Unix()))
	buf = append(buf, v.Version)
	return buf
}

// UnmarshalVault decodes a vault byte record.
func UnmarshalVault(data []byte) (*Vault, error) {
	if len(data) != vaultRecordLen {
		return nil, fmt.Errorf("vault record: want %d bytes, got %d", vaultRecordLen, len(data))
	}
	if !bytes.Equal(data[:8], vaultTag[:]) {
		return nil, fmt.Errorf("vault record: bad discriminator tag")
	}
	data = data[8:]

	var v Vault
	copy(v.Owner[:], data[:16])
	copy(v.CustodyAccount[:], data[16:32])
	v.TotalBalance = binary.LittleEndian.Uint64(data[32:])
	v.LockedBalance = binary.LittleEndian.Uint64(data[40:])
	v.AvailableBalance = binary.LittleEndian.Uint64(data[48:])
	v.TotalDeposited = binary.LittleEndian.Uint64(data[56:])
	v.TotalWithdrawn = binary.LittleEndian.Uint64(data[64:])
	v.CreatedAt = time.Unix(int64(binary.LittleEndian.Uint64(data[72:])), 0).UTC()
	v.Version = data[80]
	return &v, nil
}

// MarshalRegistry encodes the allow-list as a length-prefixed caller list
// with a trailing version byte.
func MarshalRegistry(r *Registry) []byte {
	callers := r.Callers()
	buf := make([]byte, 0, 8+4+len(callers)*16+1)
	buf = append(buf, registryTag[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(callers)))
	for _, c := range callers {
		buf = append(buf, c[:]...)
	}
	buf = append(buf, SchemaVersion)
	return buf
}

// UnmarshalRegistry decodes an allow-list record. cap applies to future
// inserts, not to the decoded entries.
func UnmarshalRegistry(data []byte, cap int) (*Registry, error) {
	if len(data) < 8+4+1 {
		return nil, fmt.Errorf("registry record: truncated (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:8], registryTag[:]) {
		return nil, fmt.Errorf("registry record: bad discriminator tag")
	}
	count := binary.LittleEndian.Uint32(data[8:])
	want := 8 + 4 + int(count)*16 + 1
	if len(data) != want {
		return nil, fmt.Errorf("registry record: want %d bytes for %d callers, got %d", want, count, len(data))
	}

	r := NewRegistry(cap)
	body := data[12:]
	for i := 0; i < int(count); i++ {
		var c uuid.UUID
		copy(c[:], body[i*16:])
		r.callers[c] = struct{}{}
	}
	return r, nil
}
