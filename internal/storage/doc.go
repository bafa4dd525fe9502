// Package storage persists subscriptions, their push targets, delivered
// entry identities (dedup) and per-subscription statistics in SQLite.
//
// Contracts the push engine relies on:
//   - at most one dedup record per (subscription, identity); recording an
//     existing identity is a no-op
//   - deleting a subscription cascades its targets, dedup history and stats
//   - prune removes oldest dedup records first and never blocks delivery
package storage
