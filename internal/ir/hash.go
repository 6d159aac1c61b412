package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for
// changing the hashed shape later.
const (
	DomainDefinition = "smartview/definition/v1"
	DomainMembership = "smartview/membership/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes the canonical form of a definition's evaluable parts
// (filter, order and limit, never the name). Two definitions with the same
// fingerprint always materialize the same set.
func Fingerprint(evaluable Object) (string, error) {
	canonical, err := MarshalCanonical(evaluable)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// MembershipHash hashes an ordered membership list. Views keep the hash of
// their current members and the show command reports it.
func MembershipHash(ids []int64) string {
	list := make(List, len(ids))
	for i, id := range ids {
		list[i] = Int(id)
	}
	canonical, err := MarshalCanonical(list)
	if err != nil {
		// a list of Int always encodes
		panic(err)
	}
	return hashWithDomain(DomainMembership, canonical)
}
