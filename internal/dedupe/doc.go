// Package dedupe tracks recently seen keys so repeated task result submissions
// can be acknowledged without a storage round trip.
package dedupe
