// Package caseset derives case identifiers from channel-suffixed volume file
// names and checks that every case has a file for every channel.
package caseset
