// Package persistence stores bonding information produced by the Security
// Manager.
//
// A BondStore keeps the keys of every bonded peer in a single JSON file and
// implements smp.KeyStore and smp.LinkKeySource, so it can be handed to
// smp.NewManager directly. Resolvable private addresses are mapped back to
// the bond they belong to through the stored peer IRKs.
package persistence
