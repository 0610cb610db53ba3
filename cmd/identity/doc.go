// Package identity derives Courier's conversation identity.
//
// A direct conversation is identified by a pure function of the unordered pair of
// participant ids, so both participants (and every instance of the service)
// agree on the same id without coordination or store access.
//
// The derived id is NOT secret: anyone who knows both user ids can compute it.
package identity
