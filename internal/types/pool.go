// SPDX-License-Identifier: MIT

package types

// PoolDomain names a bounded blocking-work pool. Every blocking call a job
// makes (SDK request, disk walk, catalog transaction) is attributed to one
// domain so pressure on any single dependency stays bounded.
type PoolDomain string

// Pool domain constants.
const (
	PoolDrive      PoolDomain = "drive"
	PoolFilesystem PoolDomain = "filesystem"
	PoolCatalog    PoolDomain = "catalog"
)

// String returns the string representation of the pool domain.
func (d PoolDomain) String() string {
	return string(d)
}

// AllPoolDomains returns all defined pool domains.
func AllPoolDomains() []PoolDomain {
	return []PoolDomain{PoolDrive, PoolFilesystem, PoolCatalog}
}
