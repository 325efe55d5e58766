// Package enumerator maps long-lived strings to stable small integers.
//
// Ids are assigned sequentially starting at the current table size and are
// never revised. New pairs are kept in an in-memory delta until Flush
// writes them to the string table map. Because records in other maps may
// reference ids minted while they were encoded, the owner of the store must
// commit in this order:
//
//  1. commit the data maps
//  2. Flush the enumerator
//  3. commit again if Flush wrote anything
//
// ToString fails with a *LookupError for ids that were never assigned; in
// a consistent store that only happens after corruption.
package enumerator
