// Package tracker counts per-chat contributions for each user across joins,
// leaves and chat terminations.
//
// Live memberships sit in a fixed-size chained hash table keyed by user.
// Memberships that were left are moved to an ordered archive so a later
// termination of their chat still includes what they contributed.
//
// Transport and persistence are out of scope here; see realtime, httpapi and tally.
package tracker
